// Package updater orchestrates one cache refresh: fetch from a source
// (incremental when possible), merge into the existing map, write/verify/
// commit through a cache backend, and advance the timestamp sentinels only
// on success. Grounded on nss_cache/caches/base.py's Cache.Update, which
// spec.md §4.5 restates nearly verbatim as pseudocode.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsscache/nsscache-go/internal/cache"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/nsscache/nsscache-go/internal/nsserror"
	"github.com/nsscache/nsscache-go/internal/timestamp"
)

// Fetcher is satisfied by any per-kind source method
// (source.PasswdSource.GetPasswdMap and friends), abstracted so Updater's
// orchestration logic is written once instead of once per map kind.
type Fetcher[T maps.Entry] func(ctx context.Context, since time.Time) (*maps.Map[T], error)

// Updater drives one map's refresh cycle against one cache.Writer.
type Updater[T maps.Entry] struct {
	Writer Writer[T]
	Fetch  Fetcher[T]
	Logger *slog.Logger

	// Full forces an unconditional full fetch from the zero time,
	// ignoring any persisted modify cursor, matching the CLI's
	// -f/--full flag (spec.md §6).
	Full bool
	// ForceWrite suppresses the EmptyMap failure a full fetch would
	// otherwise raise when the source legitimately has zero entries,
	// matching the CLI's --force-write flag.
	ForceWrite bool
}

// Writer is the cache.Writer contract plus the timestamp accessors Update
// needs; satisfied directly by files.Writer/nssdb.Writer.
type Writer[T maps.Entry] = cache.Writer[T]

// Result reports what Update did, for CLI status output and the history
// audit trail.
type Result struct {
	Kind           string
	Source         string
	Full           bool
	EntriesWritten int
	Unchanged      bool
	Duration       time.Duration
	Err            error
}

// Update runs one refresh cycle:
//
//  1. Load the current map and its modify timestamp.
//  2. Fetch from the source since that timestamp (incremental), or from
//     the zero time if the cache doesn't exist yet or came back empty
//     (full fetch fallback, matching base.py's CacheNotFound/EmptyMap
//     handling). An incremental fetch that returns no entries ends the
//     cycle here, writing neither the cache nor either timestamp.
//  3. Merge the fetched data into the current map. If nothing was added
//     and this was already an incremental fetch, skip the write entirely
//     (base.py's "nothing changed" shortcut) but still write both
//     timestamps: the modify cursor advances to what the source reported
//     and the update timestamp to the merged map's.
//  4. Otherwise write/verify/commit through the backend, then advance
//     both timestamps.
func (u *Updater[T]) Update(ctx context.Context) Result {
	start := time.Now()
	logger := u.Logger
	if logger == nil {
		logger = slog.Default()
	}

	current, since, full, err := u.loadCurrent()
	if err != nil {
		return Result{Err: err, Duration: time.Since(start)}
	}
	if u.Full {
		current = maps.NewMap[T]()
		since, full = time.Time{}, true
	}

	fetched, err := u.Fetch(ctx, since)
	if err != nil {
		return Result{Err: err, Duration: time.Since(start), Full: full}
	}

	if fetched.Len() == 0 && !full {
		// Empty incremental result: nothing changed upstream. Leave the
		// cache and both timestamp files alone.
		logger.Debug("incremental fetch returned no entries", "full", full)
		return Result{Full: full, Unchanged: true, Duration: time.Since(start)}
	}
	if fetched.Len() == 0 && full && !u.ForceWrite {
		return Result{Err: fmt.Errorf("%w: source returned no entries on a full fetch", nsserror.ErrEmptyMap),
			Full: full, Duration: time.Since(start)}
	}

	added, err := current.Merge(fetched)
	if err != nil {
		return Result{Err: err, Full: full, Duration: time.Since(start)}
	}
	if added == 0 && !full {
		// Nothing changed, but the attempt still happened: advance the
		// modify cursor to what the source just reported (so the next
		// incremental fetch doesn't re-ask for the same unmodified range)
		// and the update timestamp, matching map_updater.py's
		// _IncrementalUpdateFromMap no-op branch.
		logger.Debug("merge added nothing, skipping write")
		u.persistTimestamps(fetched.ModifyTimestamp(), current.UpdateTimestamp(), logger)
		return Result{Full: full, Unchanged: true, Duration: time.Since(start)}
	}

	entryCount := current.Len()
	if err := u.writeAndCommit(current); err != nil {
		return Result{Err: err, Full: full, Duration: time.Since(start)}
	}
	u.persistTimestamps(current.ModifyTimestamp(), current.UpdateTimestamp(), logger)

	return Result{Full: full, EntriesWritten: entryCount, Duration: time.Since(start)}
}

// persistTimestamps writes the modify/update sentinel files after a
// successful sync attempt. A write failure here is logged, not surfaced as
// a result error: the cache itself is already committed, and the worst
// consequence is the next run falling back to a full fetch.
func (u *Updater[T]) persistTimestamps(modify, update time.Time, logger *slog.Logger) {
	if err := timestamp.Write(u.Writer.ModifyTimestampPath(), modify); err != nil {
		logger.Warn("writing modify timestamp failed", "err", err)
	}
	if err := timestamp.Write(u.Writer.UpdateTimestampPath(), update); err != nil {
		logger.Warn("writing update timestamp failed", "err", err)
	}
}

// loadCurrent loads the existing map and decides the fetch cursor. A
// missing or invalid cache forces a full fetch from the zero time, matching
// base.py's CacheNotFound/CacheInvalid fallthrough.
func (u *Updater[T]) loadCurrent() (*maps.Map[T], time.Time, bool, error) {
	current, err := u.Writer.Load()
	if err != nil {
		if errors.Is(err, nsserror.ErrCacheNotFound) || errors.Is(err, nsserror.ErrCacheInvalid) {
			return maps.NewMap[T](), time.Time{}, true, nil
		}
		return nil, time.Time{}, false, err
	}
	if current.Len() == 0 {
		return current, time.Time{}, true, nil
	}
	return current, current.ModifyTimestamp(), false, nil
}

func (u *Updater[T]) writeAndCommit(m *maps.Map[T]) error {
	tx, err := u.Writer.Begin()
	if err != nil {
		return err
	}

	verifyKeys := maps.NewMap[T]()
	for _, e := range m.Entries() {
		_ = verifyKeys.Add(e)
	}

	if err := tx.Write(m); err != nil {
		tx.Rollback()
		return fmt.Errorf("write: %w", err)
	}
	if err := tx.Verify(verifyKeys); err != nil {
		tx.Rollback()
		return fmt.Errorf("verify: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
