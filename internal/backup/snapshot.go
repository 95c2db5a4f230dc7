// Package backup takes periodic point-in-time snapshots of the sqlite
// database. VACUUM INTO produces a consistent copy even under WAL mode;
// snapshots are verified with an integrity check and pruned to a fixed
// count, oldest first.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const snapshotPrefix = "engram-"

// Snapshotter copies the database into a snapshot directory on a fixed
// interval.
type Snapshotter struct {
	dbPath   string
	dir      string
	keep     int
	interval time.Duration
}

// NewSnapshotter prepares a snapshotter for the database at dbPath.
// Snapshots land in dir; at most keep snapshots are retained.
func NewSnapshotter(dbPath, dir string, keep int, interval time.Duration) (*Snapshotter, error) {
	if dbPath == "" || dir == "" {
		return nil, fmt.Errorf("backup: database path and snapshot directory are required")
	}
	if keep < 1 {
		keep = 10
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create snapshot directory: %w", err)
	}
	return &Snapshotter{dbPath: dbPath, dir: dir, keep: keep, interval: interval}, nil
}

// Run snapshots on the configured interval until ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("backup: snapshotting %s every %v into %s", s.dbPath, s.interval, s.dir)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			path, err := s.Snapshot(ctx)
			if err != nil {
				log.Printf("backup: snapshot failed: %v", err)
				continue
			}
			log.Printf("backup: wrote %s", path)
		}
	}
}

// Snapshot writes one verified snapshot and prunes old ones. It returns the
// snapshot path.
func (s *Snapshotter) Snapshot(ctx context.Context) (string, error) {
	if _, err := os.Stat(s.dbPath); err != nil {
		return "", fmt.Errorf("backup: database missing: %w", err)
	}

	name := snapshotPrefix + time.Now().UTC().Format("20060102-150405.000000") + ".db"
	dest := filepath.Join(s.dir, name)

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", s.dbPath))
	if err != nil {
		return "", fmt.Errorf("backup: open source: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		return "", fmt.Errorf("backup: vacuum into %s: %w", dest, err)
	}

	if err := verifySnapshot(ctx, dest); err != nil {
		_ = os.Remove(dest)
		return "", err
	}

	if err := s.prune(); err != nil {
		// A failed prune does not invalidate the snapshot just taken.
		log.Printf("backup: prune: %v", err)
	}
	return dest, nil
}

// List returns snapshot paths, newest first. The timestamped names sort
// lexically, so no stat calls are needed.
func (s *Snapshotter) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("backup: read snapshot directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasPrefix(entry.Name(), snapshotPrefix) || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(s.dir, name)
	}
	return paths, nil
}

// prune removes snapshots beyond the keep count, oldest first.
func (s *Snapshotter) prune() error {
	paths, err := s.List()
	if err != nil {
		return err
	}
	var lastErr error
	for _, path := range paths[min(s.keep, len(paths)):] {
		if err := os.Remove(path); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// verifySnapshot opens the snapshot read-only and runs the sqlite
// integrity check.
func verifySnapshot(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("backup: open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("backup: integrity check on %s: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("backup: snapshot %s failed integrity check: %s", path, result)
	}
	return nil
}
