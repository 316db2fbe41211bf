package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswdWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := &Writer[*maps.PasswdEntry]{Dir: dir, Filename: "passwd", Codec: PasswdCodec{}}

	m := maps.NewMap[*maps.PasswdEntry]()
	require.NoError(t, m.Add(&maps.PasswdEntry{Name: "alice", UID: 1000, GID: 1000, Dir: "/home/alice", Shell: "/bin/bash"}))
	require.NoError(t, m.Add(&maps.PasswdEntry{Name: "bob", UID: 1001, GID: 1001, Dir: "/home/bob", Shell: "/bin/zsh"}))

	verifySrc := maps.NewMap[*maps.PasswdEntry]()
	verifySrc.Add(&maps.PasswdEntry{Name: "alice"})
	verifySrc.Add(&maps.PasswdEntry{Name: "bob"})

	tx, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Write(m))
	require.NoError(t, tx.Verify(verifySrc))
	require.NoError(t, tx.Commit())

	got, err := w.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
	alice, ok := got.Get("alice")
	require.True(t, ok)
	assert.Equal(t, 1000, alice.UID)
	assert.Equal(t, "x", alice.Passwd)
}

func TestPasswdWriterPreservesInsertionOrder(t *testing.T) {
	dir := t.TempDir()
	w := &Writer[*maps.PasswdEntry]{Dir: dir, Filename: "passwd", Codec: PasswdCodec{}}

	m := maps.NewMap[*maps.PasswdEntry]()
	require.NoError(t, m.Add(&maps.PasswdEntry{Name: "root", Dir: "/root", Shell: "/bin/bash"}))
	require.NoError(t, m.Add(&maps.PasswdEntry{Name: "alice", UID: 1000, GID: 1000, Dir: "/home/alice", Shell: "/bin/bash"}))

	verifySrc := maps.NewMap[*maps.PasswdEntry]()
	verifySrc.Add(&maps.PasswdEntry{Name: "root"})
	verifySrc.Add(&maps.PasswdEntry{Name: "alice"})

	tx, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Write(m))
	require.NoError(t, tx.Verify(verifySrc))
	require.NoError(t, tx.Commit())

	raw, err := os.ReadFile(filepath.Join(dir, "passwd"))
	require.NoError(t, err)
	assert.Equal(t, "root:x:0:0::/root:/bin/bash\nalice:x:1000:1000::/home/alice:/bin/bash\n", string(raw),
		"lines must appear in insertion order, matching a plain (non-draining) iteration")
}

func TestVerifyDetectsKeyMismatch(t *testing.T) {
	dir := t.TempDir()
	w := &Writer[*maps.GroupEntry]{Dir: dir, Filename: "group", Codec: GroupCodec{}}

	m := maps.NewMap[*maps.GroupEntry]()
	require.NoError(t, m.Add(&maps.GroupEntry{Name: "wheel", GID: 0}))

	wrongExpectation := maps.NewMap[*maps.GroupEntry]()
	wrongExpectation.Add(&maps.GroupEntry{Name: "wheel"})
	wrongExpectation.Add(&maps.GroupEntry{Name: "extra"})

	tx, err := w.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Write(m))
	err = tx.Verify(wrongExpectation)
	require.Error(t, err)
	require.NoError(t, tx.Rollback())

	_, err = w.Load()
	require.Error(t, err, "rollback must not create the live file")
}

func TestAutomountFilenameSanitization(t *testing.T) {
	assert.Equal(t, "auto.master", AutomountFilename(""))
	assert.Equal(t, "auto.master", AutomountFilename("/-"))
	assert.Equal(t, "auto.home", AutomountFilename("/home"))
	assert.Equal(t, "auto.mnt_data", AutomountFilename("/mnt/data"))
}

func TestNetgroupCodecPreservesRemainderVerbatim(t *testing.T) {
	c := NetgroupCodec{}
	e, err := c.Decode("admins (host1,user1,) (host2,user2,)")
	require.NoError(t, err)
	assert.Equal(t, "admins", e.Name)
	assert.Equal(t, "(host1,user1,) (host2,user2,)", e.Entries)
	assert.Equal(t, "admins (host1,user1,) (host2,user2,)", c.Encode(e))
}

func TestShadowCodecEmptyOptionalFields(t *testing.T) {
	c := ShadowCodec{}
	e, err := c.Decode("alice:!!:::::::")
	require.NoError(t, err)
	assert.Nil(t, e.Lstchg)
	assert.Equal(t, "alice:!!:::::::", c.Encode(e))
}
