package cmd

import (
	"context"
	"strings"

	"github.com/nsscache/nsscache-go/internal/history"
	"github.com/nsscache/nsscache-go/internal/history/pgstore"
	"github.com/nsscache/nsscache-go/internal/history/sqlitestore"
)

// openHistory opens the configured refresh-attempt audit trail. An empty
// dsn disables history entirely: update/repair skip recording and status
// falls back to timestamp files only. A "postgres://" or "postgresql://"
// scheme selects the "Standard" profile (pgstore); anything else is
// treated as a filesystem path to a SQLite database (the "Lite" profile).
func openHistory(ctx context.Context, dsn string) (history.Store, error) {
	if dsn == "" {
		return nil, nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return pgstore.Open(ctx, dsn)
	}
	return sqlitestore.Open(dsn)
}
