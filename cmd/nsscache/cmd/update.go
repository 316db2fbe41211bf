package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nsscache/nsscache-go/internal/cache"
	"github.com/nsscache/nsscache-go/internal/cache/files"
	"github.com/nsscache/nsscache-go/internal/cache/hotcache"
	"github.com/nsscache/nsscache-go/internal/cache/nssdb"
	"github.com/nsscache/nsscache-go/internal/config"
	"github.com/nsscache/nsscache-go/internal/history"
	"github.com/nsscache/nsscache-go/internal/lock"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/nsscache/nsscache-go/internal/nsserror"
	"github.com/nsscache/nsscache-go/internal/source"
	"github.com/nsscache/nsscache-go/internal/updater"
	"github.com/nsscache/nsscache-go/pkg/metrics"
	"github.com/spf13/cobra"
)

// refreshEnv bundles the pieces refreshOne/runGenericUpdate/runAutomountUpdate
// share across every map in a single update or repair invocation, so
// opening the history store and hotcache happens once per process rather
// than once per map.
type refreshEnv struct {
	reg        *source.Registry
	store      history.Store
	hc         hotcache.Cache
	full       bool
	forceWrite bool
}

var (
	forceLock   bool
	onlyMaps    []string
	fullUpdate  bool
	forceWrite  bool
	sleepSecs   int
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh configured maps from their sources",
	RunE:  runUpdate,
}

func init() {
	updateCmd.Flags().BoolVar(&forceLock, "force-lock", false, "force takeover of a stale update lock")
	updateCmd.Flags().StringSliceVarP(&onlyMaps, "map", "m", nil, "only refresh these map kinds (default: all configured maps)")
	updateCmd.Flags().BoolVarP(&fullUpdate, "full", "f", false, "ignore the persisted modify cursor and fetch every map in full")
	updateCmd.Flags().BoolVar(&forceWrite, "force-write", false, "commit a full fetch even if the source returned zero entries")
	updateCmd.Flags().IntVarP(&sleepSecs, "sleep", "s", 0, "sleep this many seconds before refreshing, to jitter cron fan-out")
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if sleepSecs > 0 {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-time.After(time.Duration(sleepSecs) * time.Second):
		}
	}

	pidFile, err := lock.New(cfg.Global.LockFile)
	if err != nil {
		return err
	}
	defer pidFile.Close()

	waitStart := time.Now()
	if err := pidFile.Lock(forceLock); err != nil {
		return err
	}
	metrics.Default().LockWaitSeconds.Observe(time.Since(waitStart).Seconds())
	defer pidFile.Unlock()

	kinds := onlyMaps
	if len(kinds) == 0 {
		kinds = cfg.Global.Maps
	}

	store, err := openHistory(cmd.Context(), cfg.Global.HistoryDSN)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	env := &refreshEnv{reg: source.DefaultRegistry(), store: store, hc: buildHotCache(cfg), full: fullUpdate, forceWrite: forceWrite}
	var failures []string

	for _, kind := range kinds {
		mc, ok := cfg.Maps[kind]
		if !ok {
			return fmt.Errorf("%w: map %q is not configured", nsserror.ErrConfigurationError, kind)
		}
		if err := refreshOne(cmd.Context(), env, mc); err != nil {
			log.Error("refresh failed", "map", kind, "error", err)
			failures = append(failures, kind)
			continue
		}
		log.Info("refresh complete", "map", kind)
	}

	if len(failures) > 0 {
		return fmt.Errorf("refresh failed for: %v", failures)
	}
	return nil
}

func refreshOne(ctx context.Context, env *refreshEnv, mc config.MapConfig) error {
	src, err := env.reg.Build(source.Config{Kind: mc.Source, Options: mc.Options})
	if err != nil {
		return err
	}

	switch mc.Kind {
	case "passwd":
		ps, ok := src.(source.PasswdSource)
		if !ok {
			return fmt.Errorf("%w: source %q cannot serve passwd", nsserror.ErrUnsupportedMap, mc.Source)
		}
		w, err := buildWriter(mc, "passwd", files.PasswdCodec{}, passwdNumericKey)
		if err != nil {
			return err
		}
		return runGenericUpdate(ctx, env, mc, w, ps.GetPasswdMap)
	case "group":
		gs, ok := src.(source.GroupSource)
		if !ok {
			return fmt.Errorf("%w: source %q cannot serve group", nsserror.ErrUnsupportedMap, mc.Source)
		}
		w, err := buildWriter(mc, "group", files.GroupCodec{}, groupNumericKey)
		if err != nil {
			return err
		}
		return runGenericUpdate(ctx, env, mc, w, gs.GetGroupMap)
	case "shadow":
		ss, ok := src.(source.ShadowSource)
		if !ok {
			return fmt.Errorf("%w: source %q cannot serve shadow", nsserror.ErrUnsupportedMap, mc.Source)
		}
		w, err := buildWriter(mc, "shadow", files.ShadowCodec{}, nil)
		if err != nil {
			return err
		}
		return runGenericUpdate(ctx, env, mc, w, ss.GetShadowMap)
	case "netgroup":
		ns, ok := src.(source.NetgroupSource)
		if !ok {
			return fmt.Errorf("%w: source %q cannot serve netgroup", nsserror.ErrUnsupportedMap, mc.Source)
		}
		w, err := buildWriter(mc, "netgroup", files.NetgroupCodec{}, nil)
		if err != nil {
			return err
		}
		return runGenericUpdate(ctx, env, mc, w, ns.GetNetgroupMap)
	case "sshkey":
		ks, ok := src.(source.SSHKeySource)
		if !ok {
			return fmt.Errorf("%w: source %q cannot serve sshkey", nsserror.ErrUnsupportedMap, mc.Source)
		}
		w, err := buildWriter(mc, "sshkey", files.SSHKeyCodec{}, nil)
		if err != nil {
			return err
		}
		return runGenericUpdate(ctx, env, mc, w, ks.GetSSHKeyMap)
	case "automount":
		as, ok := src.(source.AutomountSource)
		if !ok {
			return fmt.Errorf("%w: source %q cannot serve automount", nsserror.ErrUnsupportedMap, mc.Source)
		}
		return runAutomountUpdate(ctx, env, mc, as)
	default:
		return fmt.Errorf("%w: unknown map kind %q", nsserror.ErrUnsupportedMap, mc.Kind)
	}
}

// buildWriter constructs the configured cache backend for one map's on-disk
// filename, matching nsscache.conf's per-map "cache" override. numericKey,
// when non-nil, is wired into the nssdb backend's secondary by-id lookup
// key (uidNumber/gidNumber); it has no effect on the files backend.
func buildWriter[T maps.Entry](mc config.MapConfig, filename string, codec files.Codec[T], numericKey func(T) (string, bool)) (cache.Writer[T], error) {
	dir := mc.Options["dir"]
	kind := maps.Kind(mc.Kind)
	switch mc.Cache {
	case "nssdb":
		return &nssdb.Writer[T]{Dir: dir, Filename: filename, Codec: codec, NumericKey: numericKey, Kind: kind}, nil
	case "files", "":
		return &files.Writer[T]{Dir: dir, Filename: filename, Codec: codec, Kind: kind}, nil
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", nsserror.ErrConfigurationError, mc.Cache)
	}
}

func passwdNumericKey(e *maps.PasswdEntry) (string, bool) { return strconv.Itoa(e.UID), true }
func groupNumericKey(e *maps.GroupEntry) (string, bool)   { return strconv.Itoa(e.GID), true }

func runGenericUpdate[T maps.Entry](ctx context.Context, env *refreshEnv, mc config.MapConfig, w cache.Writer[T], fetch updater.Fetcher[T]) error {
	u := &updater.Updater[T]{Writer: w, Fetch: fetch, Logger: log, Full: env.full, ForceWrite: env.forceWrite}

	start := time.Now()
	result := u.Update(ctx)
	recordOutcome(ctx, env, mc, start, result.Err, result.Unchanged, result.EntriesWritten)
	return result.Err
}

func runAutomountUpdate(ctx context.Context, env *refreshEnv, mc config.MapConfig, src source.AutomountSource) error {
	masterWriter, err := buildWriter[*maps.AutomountEntry](mc, "auto.master", files.AutomountCodec{}, nil)
	if err != nil {
		return err
	}

	localMaster, _ := strconv.ParseBool(mc.Options["local_automount_master"])

	au := &updater.AutomountUpdater{
		Source:       src,
		MasterWriter: masterWriter,
		SubWriterFor: func(mountpoint string) updater.Writer[*maps.AutomountEntry] {
			filename := updater.SubFilename(mountpoint)
			w, werr := buildWriter[*maps.AutomountEntry](mc, filename, files.AutomountCodec{}, nil)
			if werr != nil {
				// buildWriter only fails on an unrecognized cache backend,
				// already validated building the master writer above.
				panic(werr)
			}
			return w
		},
		Logger:      log,
		LocalMaster: localMaster,
		Full:        env.full,
		ForceWrite:  env.forceWrite,
	}

	start := time.Now()
	result := au.Update(ctx)
	recordOutcome(ctx, env, mc, start, result.Master.Err, result.Master.Unchanged, result.Master.EntriesWritten)
	if result.Master.Err != nil {
		return fmt.Errorf("automount master: %w", result.Master.Err)
	}

	var subFailures []string
	for mountpoint, sub := range result.Subs {
		if sub.Err != nil {
			log.Error("automount submap refresh failed", "mountpoint", mountpoint, "error", sub.Err)
			subFailures = append(subFailures, mountpoint)
		}
	}
	if len(subFailures) > 0 {
		return fmt.Errorf("automount submaps failed: %v", subFailures)
	}
	return nil
}

// recordOutcome publishes Prometheus metrics for one map's refresh attempt,
// appends a row to the history store (if configured), and invalidates the
// map's hotcache entry on a successful, changed commit so the next verify
// or status read sees the new data rather than a stale cached copy.
func recordOutcome(ctx context.Context, env *refreshEnv, mc config.MapConfig, start time.Time, err error, unchanged bool, entriesWritten int) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
	case unchanged:
		outcome = metrics.OutcomeUnchanged
	}
	duration := time.Since(start)
	metrics.Default().RefreshDuration.WithLabelValues(mc.Kind, mc.Source, outcome).Observe(duration.Seconds())
	metrics.Default().RefreshTotal.WithLabelValues(mc.Kind, mc.Source, outcome).Inc()
	if entriesWritten > 0 {
		metrics.Default().EntriesWritten.WithLabelValues(mc.Kind).Set(float64(entriesWritten))
	}

	if env.store != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		attempt := history.Attempt{
			MapName:        mc.Kind,
			SourceKind:     mc.Source,
			StartedAt:      start,
			Duration:       duration,
			Full:           env.full,
			EntriesWritten: entriesWritten,
			Error:          errMsg,
		}
		if recErr := env.store.Record(ctx, attempt); recErr != nil {
			log.Warn("history record failed", "map", mc.Kind, "error", recErr)
		}
	}

	if err == nil && !unchanged && env.hc != nil {
		if invErr := env.hc.Invalidate(ctx, mc.Kind); invErr != nil {
			log.Warn("hotcache invalidate failed", "map", mc.Kind, "error", invErr)
		}
	}
}
