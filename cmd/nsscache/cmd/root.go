package cmd

import (
	"log/slog"
	"net/http"

	"github.com/nsscache/nsscache-go/internal/config"
	"github.com/nsscache/nsscache-go/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	verbose     bool
	debug       bool
	metricsAddr string
	log         *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nsscache",
	Short: "Synchronize local NSS caches from a remote directory",
	Long: `nsscache maintains local on-disk caches of passwd, group, shadow,
netgroup, automount, and sshkey data reconciled from a remote directory
(LDAP, HTTP(S), S3, GCS, Consul, or SCIM), for fast and resilient NSS
lookups that don't depend on the remote being reachable at lookup time.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "info"
		if verbose {
			level = "debug"
		}
		if debug {
			// --debug and --verbose both set the slog level to debug;
			// --debug turns on no additional tracing beyond that.
			level = "debug"
		}
		log = logger.NewLogger(logger.Config{Level: level, Format: "text", Output: "stderr"})
		serveMetrics(metricsAddr)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config-file", "c", "", "path to nsscache.conf (overrides "+config.EnvOverrideVar+" and the default search path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (disabled if empty)")
}

// serveMetrics starts a background HTTP listener for /metrics when addr is
// non-empty. A refresh that fails to bind logs and continues: metrics
// exposure never blocks an update/verify/repair run.
func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
