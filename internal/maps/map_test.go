package maps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsscache/nsscache-go/internal/nsserror"
)

func TestMapAddRejectsColon(t *testing.T) {
	m := NewMap[*PasswdEntry]()
	err := m.Add(&PasswdEntry{Name: "bad:name", UID: 1, GID: 1})
	require.Error(t, err)
}

func TestMapAddOverwritesOnKeyCollision(t *testing.T) {
	m := NewMap[*PasswdEntry]()
	require.NoError(t, m.Add(&PasswdEntry{Name: "alice", UID: 1, GID: 1, Shell: "/bin/sh"}))
	require.NoError(t, m.Add(&PasswdEntry{Name: "alice", UID: 1, GID: 1, Shell: "/bin/zsh"}))
	assert.Equal(t, 1, m.Len())
	e, ok := m.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "/bin/zsh", e.Shell)
}

func TestMapMergeAddsNewKeysAndOverwritesChangedOnes(t *testing.T) {
	base := NewMap[*PasswdEntry]()
	require.NoError(t, base.Add(&PasswdEntry{Name: "alice", UID: 1, GID: 1}))

	incoming := NewMap[*PasswdEntry]()
	require.NoError(t, incoming.Add(&PasswdEntry{Name: "alice", UID: 99, GID: 99}))
	require.NoError(t, incoming.Add(&PasswdEntry{Name: "bob", UID: 2, GID: 2}))
	incoming.SetModifyTimestamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	incoming.SetUpdateTimestamp(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	added, err := base.Merge(incoming)
	require.NoError(t, err)
	assert.Equal(t, 2, added, "both the changed alice entry and the new bob entry count as merged")

	alice, _ := base.Get("alice")
	assert.Equal(t, 99, alice.UID, "a changed entry at an existing key must be overwritten by merge")
	_, ok := base.Get("bob")
	assert.True(t, ok)

	assert.True(t, base.ModifyTimestamp().Equal(incoming.ModifyTimestamp()))
	assert.True(t, base.UpdateTimestamp().Equal(incoming.UpdateTimestamp()))
}

func TestMapMergeSkipsDeepEqualEntries(t *testing.T) {
	base := NewMap[*PasswdEntry]()
	require.NoError(t, base.Add(&PasswdEntry{Name: "alice", UID: 1, GID: 1}))
	base.SetModifyTimestamp(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	incoming := NewMap[*PasswdEntry]()
	require.NoError(t, incoming.Add(&PasswdEntry{Name: "alice", UID: 1, GID: 1}))
	incoming.SetModifyTimestamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	incoming.SetUpdateTimestamp(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	added, err := base.Merge(incoming)
	require.NoError(t, err)
	assert.Equal(t, 0, added, "a deep-equal entry at the same key is not a change")
	assert.True(t, base.ModifyTimestamp().Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
		"modify timestamp must not advance when nothing actually changed")
}

func TestMapMergeRejectsOlderSource(t *testing.T) {
	base := NewMap[*PasswdEntry]()
	require.NoError(t, base.Add(&PasswdEntry{Name: "alice", UID: 1, GID: 1}))
	base.SetModifyTimestamp(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	base.SetUpdateTimestamp(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	stale := NewMap[*PasswdEntry]()
	require.NoError(t, stale.Add(&PasswdEntry{Name: "alice", UID: 2, GID: 2}))
	stale.SetModifyTimestamp(time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC))
	stale.SetUpdateTimestamp(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))

	_, err := base.Merge(stale)
	require.ErrorIs(t, err, nsserror.ErrInvalidMerge)

	alice, _ := base.Get("alice")
	assert.Equal(t, 1, alice.UID, "a rejected merge must leave the map untouched")
}

func TestMapMergeEmptyIncomingDoesNotAdvanceModifyTimestamp(t *testing.T) {
	base := NewMap[*PasswdEntry]()
	require.NoError(t, base.Add(&PasswdEntry{Name: "alice", UID: 1, GID: 1}))
	base.SetModifyTimestamp(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	incoming := NewMap[*PasswdEntry]()
	incoming.SetModifyTimestamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	incoming.SetUpdateTimestamp(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	added, err := base.Merge(incoming)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.True(t, base.ModifyTimestamp().Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)),
		"modify timestamp must not advance when merge adds nothing")
	assert.True(t, base.UpdateTimestamp().Equal(incoming.UpdateTimestamp()),
		"update timestamp advances regardless, a sync attempt happened")
}

func TestMapPopItemDrainsAllEntries(t *testing.T) {
	m := NewMap[*GroupEntry]()
	require.NoError(t, m.Add(&GroupEntry{Name: "wheel", GID: 0, Members: []string{"root"}}))
	require.NoError(t, m.Add(&GroupEntry{Name: "users", GID: 100}))

	seen := map[string]bool{}
	for {
		e, ok := m.PopItem()
		if !ok {
			break
		}
		seen[e.Name] = true
	}
	assert.Len(t, seen, 2)
	assert.Equal(t, 0, m.Len())
}

func TestMapVerifyRejectsEmptyMap(t *testing.T) {
	m := NewMap[*PasswdEntry]()
	require.Error(t, m.Verify())
}

func TestShadowEntryRejectsColonInPasswd(t *testing.T) {
	e := &ShadowEntry{Name: "alice", Passwd: "bad:hash"}
	require.Error(t, e.Verify(), "a shadow passwd field containing ':' must fail Verify like passwd/group fields do")
}

func TestShadowEntryOptionalIntFields(t *testing.T) {
	lstchg := 18000
	e := &ShadowEntry{Name: "alice", Passwd: "!!", Lstchg: &lstchg}
	require.NoError(t, e.Verify())

	other := &ShadowEntry{Name: "alice", Passwd: "!!", Lstchg: &lstchg}
	assert.True(t, e.Equal(other))

	other.Min = new(int)
	assert.False(t, e.Equal(other))
}
