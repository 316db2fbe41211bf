package nssdb

import (
	"database/sql"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/nsscache/nsscache-go/internal/cache/files"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := &Writer[*maps.GroupEntry]{Dir: dir, Filename: "group", Codec: files.GroupCodec{}}

	m := maps.NewMap[*maps.GroupEntry]()
	require.NoError(t, m.Add(&maps.GroupEntry{Name: "wheel", GID: 0, Members: []string{"root", "alice"}}))

	expect := maps.NewMap[*maps.GroupEntry]()
	expect.Add(&maps.GroupEntry{Name: "wheel"})

	tx, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Write(m))
	require.NoError(t, tx.Verify(expect))
	require.NoError(t, tx.Commit())

	got, err := w.Load()
	require.NoError(t, err)
	wheel, ok := got.Get("wheel")
	require.True(t, ok)
	assert.Equal(t, []string{"root", "alice"}, wheel.Members)
}

func TestPasswdWriterFansOutNameIDAndEnumerationKeys(t *testing.T) {
	dir := t.TempDir()
	w := &Writer[*maps.PasswdEntry]{
		Dir: dir, Filename: "passwd", Codec: files.PasswdCodec{},
		NumericKey: func(e *maps.PasswdEntry) (string, bool) { return strconv.Itoa(e.UID), true },
	}

	m := maps.NewMap[*maps.PasswdEntry]()
	require.NoError(t, m.Add(&maps.PasswdEntry{Name: "alice", UID: 1000, GID: 1000}))

	expect := maps.NewMap[*maps.PasswdEntry]()
	expect.Add(&maps.PasswdEntry{Name: "alice"})

	tx, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Write(m))
	require.NoError(t, tx.Verify(expect))
	require.NoError(t, tx.Commit())

	db, err := sql.Open("sqlite", filepath.Join(dir, "passwd.db"))
	require.NoError(t, err)
	defer db.Close()

	for _, key := range []string{".alice", "=1000", "00"} {
		var count int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM entries WHERE key = ?`, key).Scan(&count))
		assert.Equal(t, 1, count, "expected lookup key %q to be present", key)
	}

	got, err := w.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len(), "Load must reconstruct one logical record, not three rows")
}

func TestShadowWriterHasNoNumericIDKey(t *testing.T) {
	dir := t.TempDir()
	w := &Writer[*maps.ShadowEntry]{Dir: dir, Filename: "shadow", Codec: files.ShadowCodec{}}

	m := maps.NewMap[*maps.ShadowEntry]()
	require.NoError(t, m.Add(&maps.ShadowEntry{Name: "alice"}))

	expect := maps.NewMap[*maps.ShadowEntry]()
	expect.Add(&maps.ShadowEntry{Name: "alice"})

	tx, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Write(m))
	require.NoError(t, tx.Verify(expect))
	require.NoError(t, tx.Commit())

	db, err := sql.Open("sqlite", filepath.Join(dir, "shadow.db"))
	require.NoError(t, err)
	defer db.Close()

	var total int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&total))
	assert.Equal(t, 2, total, "shadow writes only the name- and enumeration-keyed variants, no '=' row")
}
