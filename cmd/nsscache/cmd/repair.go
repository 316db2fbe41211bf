package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nsscache/nsscache-go/internal/config"
	"github.com/nsscache/nsscache-go/internal/lock"
	"github.com/nsscache/nsscache-go/internal/source"
	"github.com/nsscache/nsscache-go/pkg/metrics"
	"github.com/spf13/cobra"
)

var repairMaps []string

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Discard a map's cache and timestamps, then force a full resync",
	RunE:  runRepair,
}

func init() {
	repairCmd.Flags().StringSliceVarP(&repairMaps, "map", "m", nil, "only repair these map kinds (default: all configured maps)")
	rootCmd.AddCommand(repairCmd)
}

func runRepair(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	pidFile, err := lock.New(cfg.Global.LockFile)
	if err != nil {
		return err
	}
	defer pidFile.Close()

	waitStart := time.Now()
	if err := pidFile.Lock(false); err != nil {
		return err
	}
	metrics.Default().LockWaitSeconds.Observe(time.Since(waitStart).Seconds())
	defer pidFile.Unlock()

	kinds := repairMaps
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

	env := &refreshEnv{reg: source.DefaultRegistry(), store: store, hc: buildHotCache(cfg), full: true}
	var failures []string
	for _, kind := range kinds {
		mc, ok := cfg.Maps[kind]
		if !ok {
			return fmt.Errorf("map %q is not configured", kind)
		}
		if err := discardCache(mc); err != nil {
			return fmt.Errorf("discarding cache for %q: %w", kind, err)
		}
		if env.hc != nil {
			if err := env.hc.Invalidate(cmd.Context(), mc.Kind); err != nil {
				log.Warn("hotcache invalidate failed", "map", mc.Kind, "error", err)
			}
		}
		if err := refreshOne(cmd.Context(), env, mc); err != nil {
			log.Error("repair failed", "map", kind, "error", err)
			failures = append(failures, kind)
			continue
		}
		log.Info("repair complete", "map", kind)
	}
	if len(failures) > 0 {
		return fmt.Errorf("repair failed for: %v", failures)
	}
	return nil
}

// discardCache removes a map's committed cache file(s) and timestamp
// sentinels so the next refresh runs as a full fetch, matching nss_cache's
// "-f/--full" repair behavior of ignoring any existing incremental cursor.
func discardCache(mc config.MapConfig) error {
	dir := mc.Options["dir"]
	filename := mc.Kind
	if mc.Kind == "automount" {
		filename = "auto.master"
	}

	candidates := []string{
		filepath.Join(dir, filename),
		filepath.Join(dir, filename+".db"),
		filepath.Join(dir, filename+".db-wal"),
		filepath.Join(dir, filename+".db-shm"),
		filepath.Join(dir, "."+filename+".ts.modify"),
		filepath.Join(dir, "."+filename+".ts.update"),
	}
	for _, path := range candidates {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
