package cmd

import (
	"context"
	"fmt"
	"os"
	"text/template"
	"time"

	"github.com/nsscache/nsscache-go/internal/cache/files"
	"github.com/nsscache/nsscache-go/internal/config"
	"github.com/nsscache/nsscache-go/internal/history"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/nsscache/nsscache-go/internal/timestamp"
	"github.com/spf13/cobra"
)

var (
	statusEpoch             bool
	statusTemplate          string
	statusAutomountTemplate string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the modify/update timestamps of each configured map's cache",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusEpoch, "epoch", false, "print timestamps as seconds since epoch instead of ISO-8601")
	statusCmd.Flags().StringVar(&statusTemplate, "template", "",
		"Go text/template string rendered once per map, given {{.Kind}} {{.Source}} {{.Cache}} {{.Modify}} {{.Update}}")
	statusCmd.Flags().StringVar(&statusAutomountTemplate, "automount-template", "",
		"overrides --template for the automount map's master entry")
	rootCmd.AddCommand(statusCmd)
}

// statusRow is the per-map value passed to --template/--automount-template.
type statusRow struct {
	Kind, Source, Cache, Modify, Update string
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := openHistory(cmd.Context(), cfg.Global.HistoryDSN)
	if err != nil {
		return fmt.Errorf("opening history store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	for _, kind := range cfg.Global.Maps {
		mc := cfg.Maps[kind]
		modifyPath, updatePath, err := timestampPaths(mc)
		if err != nil {
			fmt.Printf("%-12s error: %v\n", kind, err)
			continue
		}
		modify, _ := timestamp.Read(modifyPath)
		update, _ := timestamp.Read(updatePath)

		tmplText := statusTemplate
		if kind == "automount" && statusAutomountTemplate != "" {
			tmplText = statusAutomountTemplate
		}
		if tmplText != "" {
			if err := renderStatusTemplate(tmplText, statusRow{
				Kind: kind, Source: mc.Source, Cache: cacheLabel(mc.Cache),
				Modify: formatStatusTime(modify), Update: formatStatusTime(update),
			}); err != nil {
				return fmt.Errorf("rendering status template for %q: %w", kind, err)
			}
			continue
		}

		fmt.Printf("%-12s source=%-8s cache=%-6s modify=%s update=%s%s\n",
			kind, mc.Source, cacheLabel(mc.Cache), formatStatusTime(modify), formatStatusTime(update),
			lastAttemptSuffix(cmd.Context(), store, kind))
	}
	return nil
}

// formatStatusTime renders a timestamp per --epoch, matching nss_cache's
// status command offering both a human-readable and a script-friendly form.
func formatStatusTime(t time.Time) string {
	if statusEpoch {
		if t.IsZero() {
			return "-"
		}
		return fmt.Sprintf("%d", t.Unix())
	}
	return timestamp.Format(t)
}

func renderStatusTemplate(text string, row statusRow) error {
	tmpl, err := template.New("status").Parse(text)
	if err != nil {
		return err
	}
	return tmpl.Execute(os.Stdout, row)
}

// lastAttemptSuffix reports the outcome of the most recent refresh attempt
// recorded for a map, when a history store is configured. Its absence (no
// history.dsn set, or no attempts recorded yet) degrades to an empty
// suffix rather than an error: status must still work from timestamp files
// alone.
func lastAttemptSuffix(ctx context.Context, store history.Store, kind string) string {
	if store == nil {
		return ""
	}
	attempts, err := store.Recent(ctx, kind, 1)
	if err != nil || len(attempts) == 0 {
		return ""
	}
	a := attempts[0]
	if a.Error != "" {
		return fmt.Sprintf(" last_error=%q last_duration=%s", a.Error, a.Duration)
	}
	return fmt.Sprintf(" last_ok=%s last_duration=%s", timestamp.Format(a.StartedAt), a.Duration)
}

func cacheLabel(cache string) string {
	if cache == "" {
		return "files"
	}
	return cache
}

// timestampPaths resolves a map's timestamp sentinel paths without needing
// to know its Entry type, since every backend derives them from Dir and
// Filename alone.
func timestampPaths(mc config.MapConfig) (modify, update string, err error) {
	filename := mc.Kind
	if mc.Kind == "automount" {
		filename = "auto.master"
	}
	w, err := buildWriter[*maps.PasswdEntry](mc, filename, files.PasswdCodec{}, nil)
	if err != nil {
		return "", "", err
	}
	return w.ModifyTimestampPath(), w.UpdateTimestampPath(), nil
}
