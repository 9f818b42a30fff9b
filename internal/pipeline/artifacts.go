package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"lipsync/internal/face"
	"lipsync/internal/fileutil"
	"lipsync/internal/logging"
	"lipsync/internal/services"
)

// locksDir holds output locks under the staging root. Stale cleanup only
// touches run directories, so lock files persist.
const locksDir = "locks"

type outputLock struct {
	fl *flock.Flock
}

// lockOutput takes an exclusive lock on output so that two runs never write
// the same deliverable.
func lockOutput(stagingDir, output string) (*outputLock, error) {
	abs, err := filepath.Abs(output)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "output lock", output, err)
	}
	dir := filepath.Join(stagingDir, locksDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "pipeline", "output lock", "create lock directory", err)
	}
	sum := sha256.Sum256([]byte(abs))
	fl := flock.New(filepath.Join(dir, hex.EncodeToString(sum[:16])+".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "pipeline", "output lock", abs, err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "output lock",
			fmt.Sprintf("%s is being written by another run", abs), nil)
	}
	return &outputLock{fl: fl}, nil
}

func (l *outputLock) release() {
	if l != nil && l.fl != nil {
		_ = l.fl.Unlock()
	}
}

// settleArtifacts runs before the staging directory is removed. With keep set
// the faulty frame is copied next to the output; otherwise the error stops
// pointing at a file that is about to disappear.
func settleArtifacts(err error, keep bool, output string, logger *slog.Logger) error {
	var notFound *face.FaceNotDetectedError
	if !errors.As(err, &notFound) || notFound.ArtifactPath == "" {
		return err
	}
	src := notFound.ArtifactPath
	notFound.ArtifactPath = ""
	if !keep {
		return err
	}
	dst := strings.TrimSuffix(output, filepath.Ext(output)) + "." + face.FaultyFrameName
	if cpErr := fileutil.CopyFile(src, dst); cpErr != nil {
		logging.WarnWithContext(logger, "failed to keep faulty frame", "artifact_copy_failed",
			logging.String("source", src),
			logging.String("destination", dst),
			logging.Error(cpErr),
			logging.String(logging.FieldImpact, "the faulty frame is removed with the run directory"),
		)
		return err
	}
	notFound.ArtifactPath = dst
	logger.Info("faulty frame kept", logging.String("path", dst), logging.Int("frame", notFound.Frame))
	return err
}
