package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	// RunPrefix names every per-run working directory.
	RunPrefix = "run-"
	lockName  = ".active"
)

// Workdir is the private working directory of a single pipeline run. It is
// held under an advisory lock so stale cleanup never removes a live run.
type Workdir struct {
	RunID string
	Path  string
	lock  *flock.Flock
}

// Acquire creates root/run-<uuid> and locks it for the lifetime of the run.
func Acquire(root string) (*Workdir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("staging root not configured")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}

	id := uuid.NewString()
	dir := filepath.Join(root, RunPrefix+id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockName))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		_ = os.RemoveAll(dir)
		if err == nil {
			err = errors.New("lock held by another process")
		}
		return nil, fmt.Errorf("lock run directory: %w", err)
	}
	return &Workdir{RunID: id, Path: dir, lock: lock}, nil
}

// File returns the path of name inside the working directory.
func (w *Workdir) File(name string) string {
	return filepath.Join(w.Path, name)
}

// Release unlocks and removes the working directory. It is safe to call more
// than once.
func (w *Workdir) Release() error {
	if w == nil || w.lock == nil {
		return nil
	}
	unlockErr := w.lock.Unlock()
	w.lock = nil
	if err := os.RemoveAll(w.Path); err != nil {
		return fmt.Errorf("remove run directory: %w", err)
	}
	return unlockErr
}

// inUse reports whether a live run holds the directory's lock.
func inUse(dir string) bool {
	path := filepath.Join(dir, lockName)
	if _, err := os.Stat(path); err != nil {
		return false
	}
	probe := flock.New(path)
	locked, err := probe.TryLock()
	if err != nil {
		return true
	}
	if locked {
		_ = probe.Unlock()
		return false
	}
	return true
}
