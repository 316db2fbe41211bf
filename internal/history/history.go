// Package history records an audit trail of refresh attempts: which map,
// from which source, when, how long it took, how many entries were
// written, and any error. This supplements spec.md (the original nsscache
// logs refresh outcomes to syslog only) and is the landing site for the
// teacher's heaviest storage machinery: SQLite for the "Lite" deployment
// profile, Postgres+goose for "Standard" (see SPEC_FULL.md §4.8).
package history

import (
	"context"
	"time"
)

// Attempt is one recorded refresh outcome.
type Attempt struct {
	ID             int64
	MapName        string
	SourceKind     string
	StartedAt      time.Time
	Duration       time.Duration
	Full           bool
	EntriesWritten int
	Error          string
}

// Store persists and queries refresh attempts.
type Store interface {
	Record(ctx context.Context, a Attempt) error
	Recent(ctx context.Context, mapName string, limit int) ([]Attempt, error)
	Close() error
}
