package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nsscache/nsscache-go/internal/cache"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/nsscache/nsscache-go/internal/nsserror"
	"github.com/nsscache/nsscache-go/internal/timestamp"
)

// Writer is a files-backend cache.Writer for one map kind, living at
// Dir/Filename with Dir/.Filename.ts.modify and Dir/.Filename.ts.update as
// its timestamp sentinels. Grounded on files.py's FilesCache base class:
// Begin uses a tempfile in the same directory so the final rename is an
// atomic same-filesystem operation, and Verify re-reads the staged file
// and diffs its key set against the in-memory map in both directions.
type Writer[T maps.Entry] struct {
	Dir      string
	Filename string
	Codec    Codec[T]
	// Kind drives Commit's permission handling: which /etc compat file to
	// copy mode/ownership from, and which fallback mode to chmod to when
	// that file doesn't exist. Zero value behaves like KindPasswd/KindGroup
	// (the 0644 fallback), which is harmless but callers should always set it.
	Kind maps.Kind
}

var _ cache.Writer[*maps.PasswdEntry] = (*Writer[*maps.PasswdEntry])(nil)

func (w *Writer[T]) path() string               { return filepath.Join(w.Dir, w.Filename) }
func (w *Writer[T]) CachePath() string          { return w.path() }
func (w *Writer[T]) ModifyTimestampPath() string { return filepath.Join(w.Dir, "."+w.Filename+".ts.modify") }
func (w *Writer[T]) UpdateTimestampPath() string { return filepath.Join(w.Dir, "."+w.Filename+".ts.update") }

func (w *Writer[T]) Load() (*maps.Map[T], error) {
	f, err := os.Open(w.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", nsserror.ErrCacheNotFound, w.path())
		}
		return nil, err
	}
	defer f.Close()
	m, err := readLines[T](f, w.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", nsserror.ErrCacheInvalid, w.path(), err)
	}
	if err := LoadTimestamps[T](w, m); err != nil {
		return nil, err
	}
	return m, nil
}

// TimestampPaths is satisfied by any cache.Writer, giving LoadTimestamps a
// backend-agnostic way to locate the sentinel files.
type TimestampPaths interface {
	ModifyTimestampPath() string
	UpdateTimestampPath() string
}

// LoadTimestamps reads w's modify/update sentinel files into m.
func LoadTimestamps[T maps.Entry](w TimestampPaths, m *maps.Map[T]) error {
	modTS, err := timestamp.Read(w.ModifyTimestampPath())
	if err != nil {
		return err
	}
	updTS, err := timestamp.Read(w.UpdateTimestampPath())
	if err != nil {
		return err
	}
	m.SetModifyTimestamp(modTS)
	m.SetUpdateTimestamp(updTS)
	return nil
}

func (w *Writer[T]) Begin() (cache.Transaction[T], error) {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(w.Dir, "."+w.Filename+".nsscache-tmp-*")
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v", nsserror.ErrPermissionDenied, err)
		}
		return nil, err
	}
	return &transaction[T]{w: w, tmp: tmp, tmpPath: tmp.Name()}, nil
}

type transaction[T maps.Entry] struct {
	w       *Writer[T]
	tmp     *os.File
	tmpPath string
	done    bool
}

func (t *transaction[T]) Write(m *maps.Map[T]) error {
	if err := writeEntries(t.tmp, m, t.w.Codec); err != nil {
		return err
	}
	return t.tmp.Sync()
}

func (t *transaction[T]) Verify(want *maps.Map[T]) error {
	if err := t.tmp.Close(); err != nil {
		return err
	}
	f, err := os.Open(t.tmpPath)
	if err != nil {
		return err
	}
	defer f.Close()

	got, err := readLines[T](f, t.w.Codec)
	if err != nil {
		return fmt.Errorf("%w: %v", nsserror.ErrCacheInvalid, err)
	}

	gotKeys := keySet(got.Keys())
	wantKeys := keySet(want.Keys())
	for k := range wantKeys {
		if !gotKeys[k] {
			return fmt.Errorf("%w: key %q present in source but missing from staged write", nsserror.ErrCacheInvalid, k)
		}
	}
	for k := range gotKeys {
		if !wantKeys[k] {
			return fmt.Errorf("%w: key %q present in staged write but missing from source", nsserror.ErrCacheInvalid, k)
		}
	}
	return nil
}

func (t *transaction[T]) Commit() error {
	if err := cache.ApplyCommitPermissions(t.tmpPath, t.w.Kind); err != nil {
		return err
	}
	if err := os.Rename(t.tmpPath, t.w.path()); err != nil {
		return err
	}
	t.done = true
	return nil
}

func (t *transaction[T]) Rollback() error {
	if t.done {
		return nil
	}
	t.tmp.Close()
	return os.Remove(t.tmpPath)
}

func keySet(keys []string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

// AutomountFilename derives the on-disk filename for an automount
// submap from its mountpoint, matching files.py's sanitization: the
// master map is always "auto.master", everything else is "auto" plus the
// mountpoint with '/' replaced by '_'.
func AutomountFilename(mountpoint string) string {
	if mountpoint == "" || mountpoint == "/-" {
		return "auto.master"
	}
	sanitized := strings.ReplaceAll(strings.TrimPrefix(mountpoint, "/"), "/", "_")
	return "auto." + sanitized
}
