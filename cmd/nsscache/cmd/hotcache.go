package cmd

import (
	"context"
	"time"

	"github.com/nsscache/nsscache-go/internal/cache"
	"github.com/nsscache/nsscache-go/internal/cache/hotcache"
	"github.com/nsscache/nsscache-go/internal/config"
	"github.com/nsscache/nsscache-go/internal/maps"
)

// defaultHotCacheSize bounds the in-process LRU variant used when no
// hotcache_addr is set in [DEFAULT].
const defaultHotCacheSize = 256

// hotCacheTTL is passed to every Cache.Set. The Redis variant expires a
// cached map after it, so a cache entry from a process that missed an
// Invalidate doesn't serve stale data forever; the in-process LRU ignores
// it and keeps an entry until it is evicted or invalidated.
const hotCacheTTL = 5 * time.Minute

// buildHotCache constructs the read-through accelerator in front of
// cache.Writer.Load. verify reads committed caches through it; update and
// repair use it to invalidate a map after a changed commit. Grounded on
// SPEC_FULL.md §4.9: Redis when [DEFAULT] hotcache_addr is set (shared
// across processes), otherwise an in-process LRU.
func buildHotCache(cfg *config.Config) hotcache.Cache {
	if cfg.Global.HotCacheAddr != "" {
		c, err := hotcache.NewRedisFromURL(cfg.Global.HotCacheAddr, log)
		if err == nil {
			return c
		}
		log.Warn("hotcache redis init failed, falling back to in-process LRU", "error", err)
	}
	c, err := hotcache.NewLRU(defaultHotCacheSize)
	if err != nil {
		return nil
	}
	return c
}

// loadCached reads a map through hc, falling back to w.Load on a miss and
// populating hc with the decoded entries for next time. A nil hc (cache
// unavailable) degrades to a plain w.Load.
func loadCached[T maps.Entry](ctx context.Context, hc hotcache.Cache, mc config.MapConfig, w cache.Writer[T]) (*maps.Map[T], error) {
	if hc == nil {
		return w.Load()
	}

	key := mc.Kind + ":entries"
	var entries []T
	if hit, err := hc.Get(ctx, key, &entries); err == nil && hit {
		m := maps.NewMap[T]()
		for _, e := range entries {
			if err := m.Add(e); err != nil {
				// A corrupt cached entry falls back to disk rather than
				// surfacing a stale-cache error to the caller.
				return w.Load()
			}
		}
		return m, nil
	}

	m, err := w.Load()
	if err != nil {
		return nil, err
	}
	_ = hc.Set(ctx, key, m.Entries(), hotCacheTTL)
	return m, nil
}
