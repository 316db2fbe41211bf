// Package timestamp reads and writes the small sentinel files nsscache uses
// to track when each map was last synced against its source. Grounded on
// nss_cache/caches/base.py's _ReadTimestamp/_WriteTimestamp.
package timestamp

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// layout matches the original's "%Y-%m-%dT%H:%M:%SZ" strftime format.
const layout = "2006-01-02T15:04:05Z"

// futureGrace is how far beyond now a parsed timestamp may sit before Read
// treats it as bad data (clock jump, misbehaving source) rather than a
// merely-recent write racing the clock.
const futureGrace = time.Hour

// Read parses the timestamp stored at path. A missing file is not an error:
// it returns the zero time, signaling "never synced". A parsed value that
// exceeds now by futureGrace or more is logged and replaced with now, so a
// bad reading can't poison every future incremental fetch with an
// unreachable cursor; it never propagates the inflated value itself.
func Read(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("read timestamp %s: %w", path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(layout, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %s: %w", path, err)
	}
	t = t.UTC()

	now := time.Now().UTC()
	if t.Sub(now) >= futureGrace {
		slog.Default().Warn("timestamp file is far in the future, clamping to now",
			"path", path, "parsed", t, "now", now)
		return now, nil
	}
	return t, nil
}

// Write atomically stores t at path: write to a sibling temp file, fsync,
// chmod 0644, then rename over the destination.
func Write(path string, t time.Time) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".nsscache-ts-*")
	if err != nil {
		return fmt.Errorf("create temp timestamp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(t.UTC().Format(layout) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp timestamp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp timestamp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp timestamp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod temp timestamp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp timestamp file: %w", err)
	}
	return nil
}

// Format renders t using the on-disk layout, for logging and status
// output. The LDAP source builds its filter timestamps with its own layout.
func Format(t time.Time) string {
	return t.UTC().Format(layout)
}
