package facecache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"lipsync/internal/face"
	"lipsync/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. Older databases are
// rejected; clear the cache to recreate them.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another version.
var ErrSchemaMismatch = errors.New("face cache schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store is a SQLite-backed face.Cache.
type Store struct {
	db     *sql.DB
	path   string
	now    func() time.Time
	logger *slog.Logger
}

// Stats summarizes the cache contents.
type Stats struct {
	Entries int
	Frames  int
	Bytes   int64
}

// Open creates or opens the cache database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("face cache path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create face cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now, logger: logging.NewNop()}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// SetLogger routes the store's diagnostics to logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s.logger = logger
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the detections stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]face.Detection, bool, error) {
	var payload string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT payload FROM detections WHERE cache_key = ?", key).Scan(&payload)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read detections: %w", err)
	}
	var detections []face.Detection
	if err := json.Unmarshal([]byte(payload), &detections); err != nil {
		return nil, false, fmt.Errorf("decode detections: %w", err)
	}
	touchErr := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, "UPDATE detections SET last_used = ? WHERE cache_key = ?", s.timestamp(), key)
		return execErr
	})
	if touchErr != nil {
		s.logger.Debug("face cache last_used update failed; entry may be pruned early",
			logging.String(logging.FieldEventType, "face_cache_touch_failed"),
			logging.String("cache_key", key),
			logging.Error(touchErr),
		)
	}
	return detections, true, nil
}

// Put stores detections under key, replacing any previous entry.
func (s *Store) Put(ctx context.Context, key string, detections []face.Detection) error {
	payload, err := json.Marshal(detections)
	if err != nil {
		return fmt.Errorf("encode detections: %w", err)
	}
	now := s.timestamp()
	return retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `INSERT INTO detections (cache_key, frame_count, payload, created_at, last_used)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(cache_key) DO UPDATE SET frame_count = excluded.frame_count, payload = excluded.payload,
created_at = excluded.created_at, last_used = excluded.last_used`,
			key, len(detections), string(payload), now, now)
		if execErr != nil {
			return fmt.Errorf("store detections: %w", execErr)
		}
		return nil
	})
}

// Prune removes entries not used within maxAge and returns how many were
// deleted. A zero maxAge removes everything.
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		if maxAge <= 0 {
			res, execErr = s.db.ExecContext(ctx, "DELETE FROM detections")
		} else {
			cutoff := s.now().Add(-maxAge).UTC().Format(time.RFC3339Nano)
			res, execErr = s.db.ExecContext(ctx, "DELETE FROM detections WHERE last_used < ?", cutoff)
		}
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune face cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats reports the number of entries and cached frames.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var frames sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1), SUM(frame_count) FROM detections").Scan(&stats.Entries, &frames)
	if err != nil {
		return Stats{}, fmt.Errorf("read face cache stats: %w", err)
	}
	stats.Frames = int(frames.Int64)
	if info, statErr := os.Stat(s.path); statErr == nil {
		stats.Bytes = info.Size()
	}
	return stats, nil
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to recreate it)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}
