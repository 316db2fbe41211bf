package cmd

import (
	"context"
	"testing"

	"github.com/nsscache/nsscache-go/internal/cache"
	"github.com/nsscache/nsscache-go/internal/cache/hotcache"
	"github.com/nsscache/nsscache-go/internal/config"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/stretchr/testify/require"
)

// fakeWriter is a minimal cache.Writer[T] stub so loadCached can be tested
// without touching disk; only Load is exercised here.
type fakeWriter struct {
	m         *maps.Map[*maps.PasswdEntry]
	loadCalls int
}

func (f *fakeWriter) Load() (*maps.Map[*maps.PasswdEntry], error) {
	f.loadCalls++
	return f.m, nil
}
func (f *fakeWriter) Begin() (cache.Transaction[*maps.PasswdEntry], error) {
	panic("not used in this test")
}
func (f *fakeWriter) ModifyTimestampPath() string { return "" }
func (f *fakeWriter) UpdateTimestampPath() string { return "" }
func (f *fakeWriter) CachePath() string           { return "" }

func newTestMap(t *testing.T) *maps.Map[*maps.PasswdEntry] {
	t.Helper()
	m := maps.NewMap[*maps.PasswdEntry]()
	require.NoError(t, m.Add(&maps.PasswdEntry{Name: "alice", UID: 1000, GID: 1000, Dir: "/home/alice", Shell: "/bin/bash"}))
	return m
}

func TestLoadCachedNilCacheFallsThroughToWriter(t *testing.T) {
	w := &fakeWriter{m: newTestMap(t)}
	mc := config.MapConfig{Kind: "passwd"}

	got, err := loadCached[*maps.PasswdEntry](context.Background(), nil, mc, w)
	require.NoError(t, err)
	require.Equal(t, 1, w.loadCalls)
	require.Len(t, got.Entries(), 1)
}

func TestLoadCachedPopulatesAndReusesLRU(t *testing.T) {
	hc, err := hotcache.NewLRU(8)
	require.NoError(t, err)
	w := &fakeWriter{m: newTestMap(t)}
	mc := config.MapConfig{Kind: "passwd"}
	ctx := context.Background()

	first, err := loadCached[*maps.PasswdEntry](ctx, hc, mc, w)
	require.NoError(t, err)
	require.Len(t, first.Entries(), 1)
	require.Equal(t, 1, w.loadCalls)

	second, err := loadCached[*maps.PasswdEntry](ctx, hc, mc, w)
	require.NoError(t, err)
	require.Len(t, second.Entries(), 1)
	require.Equal(t, 1, w.loadCalls, "second read should be served from the hotcache, not the writer")

	require.NoError(t, hc.Invalidate(ctx, "passwd"))
	_, err = loadCached[*maps.PasswdEntry](ctx, hc, mc, w)
	require.NoError(t, err)
	require.Equal(t, 2, w.loadCalls, "read after invalidate should fall back to the writer")
}
