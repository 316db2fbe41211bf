// Package sqlitestore implements internal/history.Store for the "Lite"
// deployment profile: a single embedded SQLite database, no external
// server to run. Adapted from internal/storage/sqlite/sqlite_storage.go's
// WAL-mode pragmas and path-safety checks, repurposed from alert rows to
// refresh-attempt rows.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nsscache/nsscache-go/internal/history"
	"github.com/nsscache/nsscache-go/internal/nsserror"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

// forbiddenPrefixes guards against a configured history path pointing at
// system directories, matching sqlite_storage.go's own safety checks.
var forbiddenPrefixes = []string{"/proc", "/sys", "/dev"}

func checkSafePath(path string) error {
	clean := filepath.Clean(path)
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(clean, prefix) {
			return fmt.Errorf("%w: history db path %q is not allowed", nsserror.ErrConfigurationError, path)
		}
	}
	return nil
}

func Open(path string) (*Store, error) {
	if err := checkSafePath(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS refresh_attempts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	map_name TEXT NOT NULL,
	source_kind TEXT NOT NULL,
	started_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	full INTEGER NOT NULL,
	entries_written INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_refresh_attempts_map ON refresh_attempts(map_name, started_at DESC);
`

func (s *Store) Record(ctx context.Context, a history.Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_attempts(map_name, source_kind, started_at, duration_ms, full, entries_written, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.MapName, a.SourceKind, a.StartedAt.UTC().Format(time.RFC3339), a.Duration.Milliseconds(),
		boolToInt(a.Full), a.EntriesWritten, a.Error)
	return err
}

func (s *Store) Recent(ctx context.Context, mapName string, limit int) ([]history.Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, map_name, source_kind, started_at, duration_ms, full, entries_written, error
		 FROM refresh_attempts WHERE map_name = ? ORDER BY started_at DESC LIMIT ?`,
		mapName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Attempt
	for rows.Next() {
		var a history.Attempt
		var startedAt string
		var durationMs int64
		var full int
		if err := rows.Scan(&a.ID, &a.MapName, &a.SourceKind, &startedAt, &durationMs, &full, &a.EntriesWritten, &a.Error); err != nil {
			return nil, err
		}
		a.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		a.Duration = time.Duration(durationMs) * time.Millisecond
		a.Full = full != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
