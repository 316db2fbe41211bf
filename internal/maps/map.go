package maps

import (
	"fmt"
	"time"

	"github.com/nsscache/nsscache-go/internal/nsserror"
)

// Map is an ordered collection of entries of a single kind, plus the two
// timestamps that track its freshness: ModifyTimestamp (the newest
// modification time seen among its entries, used for incremental source
// fetches) and UpdateTimestamp (the last time this map was successfully
// synced against its source, whether or not anything changed).
//
// Grounded on nss_cache/maps/base.py's Map/MapEntry pair. The primary-key
// reindex-on-mutation behavior of the original's UpdateKey is intentionally
// dropped: Go's Entry.Key() is immutable once an entry is constructed.
type Map[T Entry] struct {
	byKey  map[string]T
	order  []string
	modTS  time.Time
	updTS  time.Time
}

// NewMap returns an empty map.
func NewMap[T Entry]() *Map[T] {
	return &Map[T]{byKey: make(map[string]T)}
}

// Len reports the number of entries in the map.
func (m *Map[T]) Len() int { return len(m.order) }

// Contains reports whether an entry with the given key exists.
func (m *Map[T]) Contains(key string) bool {
	_, ok := m.byKey[key]
	return ok
}

// Get returns the entry for key, if present.
func (m *Map[T]) Get(key string) (T, bool) {
	e, ok := m.byKey[key]
	return e, ok
}

// Delete removes the entry at key, if present. Used by the automount
// updater to restrict a fetched master map down to an administrator-
// curated set of mountpoints (spec.md §4.5's local_automount_master).
func (m *Map[T]) Delete(key string) {
	if _, ok := m.byKey[key]; !ok {
		return
	}
	delete(m.byKey, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Add inserts entry, overwriting any existing entry with the same key, and
// runs Verify on it first. Matches base.py Map.Add: a failed Verify aborts
// the add, an existing key is silently replaced (no UpdateKey bookkeeping).
func (m *Map[T]) Add(entry T) error {
	if err := entry.Verify(); err != nil {
		return fmt.Errorf("verify failed: %w", err)
	}
	key := entry.Key()
	if _, exists := m.byKey[key]; !exists {
		m.order = append(m.order, key)
	}
	m.byKey[key] = entry
	return nil
}

// PopItem removes and returns the oldest remaining entry, emptying the map
// one entry at a time in insertion order. Cache writers stream a map out
// destructively via repeated PopItem calls (files.py's _WriteData/Write use
// this pattern to cap memory); insertion order must survive that drain so
// the on-disk line order matches what a plain iteration would have
// produced (spec scenario S1: cache lines appear in insertion order).
func (m *Map[T]) PopItem() (T, bool) {
	var zero T
	if len(m.order) == 0 {
		return zero, false
	}
	key := m.order[0]
	m.order = m.order[1:]
	entry := m.byKey[key]
	delete(m.byKey, key)
	return entry, true
}

// Keys returns the map's keys in insertion order.
func (m *Map[T]) Keys() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Entries returns the map's entries in insertion order. Callers that need
// to drain the map destructively should use PopItem instead, to bound peak
// memory the way the cache writers do.
func (m *Map[T]) Entries() []T {
	out := make([]T, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.byKey[k])
	}
	return out
}

// ModifyTimestamp returns the newest per-entry modification time folded
// into this map, used as the "since" cursor for the next incremental fetch.
func (m *Map[T]) ModifyTimestamp() time.Time { return m.modTS }

// SetModifyTimestamp sets the map's modify timestamp directly.
func (m *Map[T]) SetModifyTimestamp(t time.Time) { m.modTS = t }

// UpdateTimestamp returns the last time this map was synced, regardless of
// whether any entries actually changed.
func (m *Map[T]) UpdateTimestamp() time.Time { return m.updTS }

// SetUpdateTimestamp sets the map's update timestamp directly.
func (m *Map[T]) SetUpdateTimestamp(t time.Time) { m.updTS = t }

// Merge folds other's entries into m: for every entry in other that has no
// deep-equal counterpart already in m, m.Add is called, which both inserts
// new keys and overwrites changed ones. It returns the number of entries
// actually added or overwritten.
//
// Grounded on base.py Map.Merge, in the order spec.md §4.1 specifies:
//  1. other must carry a modify/update timestamp no older than m's, or the
//     merge is rejected outright with InvalidMerge and m is left untouched
//     (an older snapshot must never overwrite a newer cache).
//  2. Every entry of other not already present in m by deep equality is
//     added via m.Add, which overwrites on key collision — incremental
//     sources must therefore send the full replacement entry, not a diff.
//  3. The modify timestamp only advances when at least one entry changed
//     (an empty or no-op incremental update must not bump the cursor
//     forward), but the update timestamp always advances to other's, since
//     a sync attempt happened regardless of whether it produced new data.
func (m *Map[T]) Merge(other *Map[T]) (int, error) {
	if other.ModifyTimestamp().Before(m.ModifyTimestamp()) || other.UpdateTimestamp().Before(m.UpdateTimestamp()) {
		return 0, fmt.Errorf("%w: incoming modify/update timestamp older than current map", nsserror.ErrInvalidMerge)
	}

	added := 0
	for _, key := range other.order {
		entry := other.byKey[key]
		if existing, ok := m.Get(key); ok && existing.Equal(entry) {
			continue
		}
		if err := m.Add(entry); err != nil {
			return added, fmt.Errorf("merge: entry %q: %w", key, err)
		}
		added++
	}
	if added > 0 {
		m.SetModifyTimestamp(other.ModifyTimestamp())
	}
	m.SetUpdateTimestamp(other.UpdateTimestamp())
	return added, nil
}

// Verify checks every entry in the map and returns the first error found.
func (m *Map[T]) Verify() error {
	if m.Len() == 0 {
		return nsserror.ErrEmptyMap
	}
	for _, key := range m.order {
		if err := m.byKey[key].Verify(); err != nil {
			return fmt.Errorf("entry %q: %w", key, err)
		}
	}
	return nil
}
