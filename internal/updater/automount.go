package updater

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsscache/nsscache-go/internal/cache/files"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/nsscache/nsscache-go/internal/source"
)

// AutomountUpdater drives the two-level automount refresh: the master map
// (mountpoint -> submap location) is fetched from the source first, but
// each mountpoint's own submap is synced through its own cache.Writer
// *before* the master is written to its cache — spec.md §5 is explicit
// that automount submaps are updated before the master, and that the
// master is still written even if a submap failed, since the sub-updates
// that did succeed left consistent caches in place. Grounded on spec.md
// §4.5's automount variant of Cache.Update, generalizing the single-map
// Updater across a set of submaps discovered at runtime from the master
// map fetched from the source.
type AutomountUpdater struct {
	Source       source.AutomountSource
	MasterWriter Writer[*maps.AutomountEntry]
	SubWriterFor func(mountpoint string) Writer[*maps.AutomountEntry]
	Logger       *slog.Logger

	// LocalMaster, when true, restricts the set of synced mountpoints to
	// those already present in the committed local master map (letting an
	// administrator curate which submaps are synced) and skips writing the
	// master map back to its cache, since the administrator manages it by
	// hand. Matches spec.md §4.5's local_automount_master option.
	LocalMaster bool

	// Full and ForceWrite are threaded into every submap's own Updater,
	// matching the CLI's -f/--full and --force-write flags (spec.md §6).
	Full       bool
	ForceWrite bool
}

// AutomountResult reports the master map result plus one Result per
// mountpoint submap.
type AutomountResult struct {
	Master Result
	Subs   map[string]Result
}

func (u *AutomountUpdater) Update(ctx context.Context) AutomountResult {
	logger := u.Logger
	if logger == nil {
		logger = slog.Default()
	}

	result := AutomountResult{Subs: map[string]Result{}}

	sourceMaster, err := u.Source.GetAutomountMasterMap(ctx)
	if err != nil {
		result.Master.Err = fmt.Errorf("fetching automount master map: %w", err)
		return result
	}

	if u.LocalMaster {
		local, lerr := u.MasterWriter.Load()
		if lerr == nil {
			restrictToKeys(sourceMaster, local.Keys())
		}
		// A missing or invalid local master imposes no restriction: every
		// mountpoint named by the source is synced, matching the generic
		// Updater's own CacheNotFound-falls-through-to-full behavior.
	}

	rewritten := maps.NewMap[*maps.AutomountEntry]()
	for _, mountpoint := range sourceMaster.Keys() {
		mp := mountpoint
		entry, _ := sourceMaster.Get(mp)

		subWriter := u.SubWriterFor(mp)
		subUpdater := &Updater[*maps.AutomountEntry]{
			Writer:     subWriter,
			Logger:     logger,
			Full:       u.Full,
			ForceWrite: u.ForceWrite,
			Fetch: func(ctx context.Context, since time.Time) (*maps.Map[*maps.AutomountEntry], error) {
				return u.Source.GetAutomountMap(ctx, mp, since)
			},
		}
		result.Subs[mp] = subUpdater.Update(ctx)

		// The master entry's location is rewritten from the source's own
		// addressing scheme (an LDAP DN, an HTTP URL, ...) to where the
		// submap actually lives on disk, so NSS resolves a mountpoint to a
		// local file rather than back out to the network. This happens
		// regardless of whether this submap's own sync just succeeded: a
		// submap that failed today still has yesterday's committed cache
		// at this same path.
		_ = rewritten.Add(&maps.AutomountEntry{
			KeyName:  entry.KeyName,
			Location: subWriter.CachePath(),
			Options:  entry.Options,
		})
	}
	rewritten.SetModifyTimestamp(sourceMaster.ModifyTimestamp())
	rewritten.SetUpdateTimestamp(sourceMaster.UpdateTimestamp())

	if u.LocalMaster {
		result.Master = Result{Unchanged: true}
		return result
	}

	masterUpdater := &Updater[*maps.AutomountEntry]{
		Writer: u.MasterWriter,
		Logger: logger,
		Fetch: func(ctx context.Context, since time.Time) (*maps.Map[*maps.AutomountEntry], error) {
			return rewritten, nil
		},
	}
	result.Master = masterUpdater.Update(ctx)
	return result
}

// restrictToKeys removes every entry from m whose key is not in keep,
// mutating m in place.
func restrictToKeys(m *maps.Map[*maps.AutomountEntry], keep []string) {
	allowed := make(map[string]bool, len(keep))
	for _, k := range keep {
		allowed[k] = true
	}
	for _, k := range m.Keys() {
		if !allowed[k] {
			m.Delete(k)
		}
	}
}

// SubFilename derives a submap's on-disk filename from its mountpoint,
// reusing the files package's sanitization so both files and nssdb
// backends name automount submaps identically.
func SubFilename(mountpoint string) string {
	return files.AutomountFilename(mountpoint)
}
