// Package pgstore implements internal/history.Store for the "Standard"
// deployment profile, backed by Postgres via pgx and versioned with goose
// migrations. Adapted from internal/database/postgres's pgxpool connection
// setup and internal/database/postgres/retry.go's retry executor, applied
// here to refresh-attempt writes instead of alert rows.
package pgstore

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nsscache/nsscache-go/internal/history"
	"github.com/nsscache/nsscache-go/pkg/retry"
	"github.com/pressly/goose/v3"

	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	pool      *pgxpool.Pool
	retryExec *retry.Executor
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := migrate(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{pool: pool, retryExec: retry.NewExecutor(retry.DefaultConfig(), nil)}, nil
}

func migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func (s *Store) Record(ctx context.Context, a history.Attempt) error {
	return s.retryExec.Execute(ctx, "history record", retry.AlwaysRetryable, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO refresh_attempts(map_name, source_kind, started_at, duration_ms, full, entries_written, error)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.MapName, a.SourceKind, a.StartedAt.UTC(), a.Duration.Milliseconds(), a.Full, a.EntriesWritten, a.Error)
		return err
	})
}

func (s *Store) Recent(ctx context.Context, mapName string, limit int) ([]history.Attempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, map_name, source_kind, started_at, duration_ms, full, entries_written, error
		 FROM refresh_attempts WHERE map_name = $1 ORDER BY started_at DESC LIMIT $2`,
		mapName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Attempt
	for rows.Next() {
		var a history.Attempt
		var durationMs int64
		if err := rows.Scan(&a.ID, &a.MapName, &a.SourceKind, &a.StartedAt, &durationMs, &a.Full, &a.EntriesWritten, &a.Error); err != nil {
			return nil, err
		}
		a.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
