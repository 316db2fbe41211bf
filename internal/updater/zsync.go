package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nsscache/nsscache-go/internal/source"
)

// FileUpdater drives the zsync/file-level refresh path: rather than
// reconciling parsed entries, it atomically replaces a whole cache file
// with bytes fetched from a source.FileSource. Grounded on spec.md §4.6
// and nss_cache/sources/source.py's FileSource.GetFile path.
//
// Open Question OQ-2 (spec.md §9) is resolved here: on any fetch or
// verification error, the existing file and timestamp are left completely
// untouched and the error is returned — there is no partial commit.
type FileUpdater struct {
	Source   source.FileSource
	Name     string
	DestPath string
	Logger   *slog.Logger
}

func (u *FileUpdater) Update(ctx context.Context) error {
	logger := u.Logger
	if logger == nil {
		logger = slog.Default()
	}

	body, err := u.Source.GetFile(ctx, u.Name)
	if err != nil {
		logger.Warn("zsync fetch failed, leaving existing cache file untouched", "name", u.Name, "error", err)
		return fmt.Errorf("fetch %s: %w", u.Name, err)
	}
	if len(body) == 0 {
		return fmt.Errorf("fetch %s: empty file", u.Name)
	}

	dir := filepath.Dir(u.DestPath)
	tmp, err := os.CreateTemp(dir, ".nsscache-zsync-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, u.DestPath)
}
