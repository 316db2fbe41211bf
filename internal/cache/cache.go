// Package cache defines the storage-backend contract nsscache writes maps
// through, plus the two concrete backends (files, nssdb). Grounded on
// nss_cache/caches/base.py.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/nsscache/nsscache-go/internal/nsserror"
)

// Writer is the transactional contract a cache backend implements for one
// map kind: Load reads the committed map, Begin stages a new write, and the
// returned Transaction carries Write/Verify/Commit/Rollback.
//
// Implementations drain the map they are given via Map.PopItem, the way
// files.py's handlers do, to bound peak memory during a write.
type Writer[T maps.Entry] interface {
	// Load reads the currently committed map from disk. It returns
	// nsserror.ErrCacheNotFound if no cache exists yet.
	Load() (*maps.Map[T], error)

	// Begin opens a new staged write, returning a handle used for the
	// rest of the transaction.
	Begin() (Transaction[T], error)

	// ModifyTimestampPath and UpdateTimestampPath locate this backend's
	// sentinel timestamp files, shared by the orchestration in Updater.
	ModifyTimestampPath() string
	UpdateTimestampPath() string

	// CachePath returns this backend's final on-disk pathname, used by the
	// automount updater to rewrite a master map entry's location from the
	// source's addressing scheme to where the submap actually lives locally.
	CachePath() string
}

// Transaction is a single staged write against a cache backend.
type Transaction[T maps.Entry] interface {
	// Write streams m's entries into the staged file. m is drained via
	// PopItem as files.py's Write does.
	Write(m *maps.Map[T]) error

	// Verify re-reads the staged data and fails if any key of want is
	// missing from it, matching base.py Verify's set-difference check. The
	// files backend also fails on staged keys that want lacks; the nssdb
	// backend checks only that want's keys are present.
	Verify(want *maps.Map[T]) error

	// Commit makes the staged write visible (rename over the live file).
	Commit() error

	// Rollback discards the staged write without touching the live file.
	Rollback() error
}

// wrapNotFound normalizes an os.IsNotExist-style error into the shared
// sentinel so callers (Updater) can use errors.Is uniformly across backends.
func wrapNotFound(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", nsserror.ErrCacheNotFound, err)
}

// compatDir is where the non-cache, NSS-compatible flat files live.
// Overridden by tests; production callers never touch it.
var compatDir = "/etc"

// CompatFilename returns the pathname of the plain, non-cache map that kind
// would normally live at (e.g. /etc/passwd), matching base.py's
// GetCompatFilename. automount and sshkey have no such file in /etc; callers
// still get a (nonexistent) path back and ApplyCommitPermissions falls
// through to the per-kind default mode exactly as it would for a compat
// file that happens to be missing.
func CompatFilename(kind maps.Kind) string {
	return filepath.Join(compatDir, string(kind))
}

// ApplyCommitPermissions sets path's mode and ownership to match kind's
// compat file, falling back to a sensible per-kind default when the compat
// file doesn't exist. Grounded on caches.py._Commit: shutil.copymode +
// os.chown from the compat file, with a chmod fallback of 0444 for sshkey
// and 0644 for everything else when the compat file is missing (so a
// shadow cache commit stays as restrictive as whatever /etc/shadow's own
// mode actually is, rather than the files.py default). Like the original,
// a chown failure (e.g. EPERM running unprivileged) is not fatal: the mode
// copy and rename still proceed, just without matching ownership.
func ApplyCommitPermissions(path string, kind maps.Kind) error {
	if kind == "" {
		return os.Chmod(path, fallbackMode(kind))
	}
	info, err := os.Stat(CompatFilename(kind))
	if err != nil || info.IsDir() {
		return os.Chmod(path, fallbackMode(kind))
	}
	if err := os.Chmod(path, info.Mode().Perm()); err != nil {
		return err
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		os.Chown(path, int(st.Uid), int(st.Gid))
	}
	return nil
}

func fallbackMode(kind maps.Kind) os.FileMode {
	if kind == maps.KindSSHKey {
		return 0444
	}
	return 0644
}
