package updater

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nsscache/nsscache-go/internal/cache/files"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAutomountSource serves a fixed master map and one submap per
// mountpoint, recording which mountpoints GetAutomountMap is called for.
type fakeAutomountSource struct {
	master *maps.Map[*maps.AutomountEntry]
	subs   map[string]*maps.Map[*maps.AutomountEntry]
	failOn map[string]bool
	calls  *[]string
}

func (s *fakeAutomountSource) GetAutomountMasterMap(ctx context.Context) (*maps.Map[*maps.AutomountEntry], error) {
	return s.master, nil
}

func (s *fakeAutomountSource) GetAutomountMap(ctx context.Context, mountpoint string, since time.Time) (*maps.Map[*maps.AutomountEntry], error) {
	if s.calls != nil {
		*s.calls = append(*s.calls, mountpoint)
	}
	if s.failOn[mountpoint] {
		return nil, fmt.Errorf("simulated fetch failure for %s", mountpoint)
	}
	return s.subs[mountpoint], nil
}

func newTestMasterMap(t *testing.T, entries ...*maps.AutomountEntry) *maps.Map[*maps.AutomountEntry] {
	m := maps.NewMap[*maps.AutomountEntry]()
	for _, e := range entries {
		require.NoError(t, m.Add(e))
	}
	m.SetModifyTimestamp(time.Now().UTC())
	m.SetUpdateTimestamp(time.Now().UTC())
	return m
}

func buildAutomountUpdater(t *testing.T, dir string, src *fakeAutomountSource, localMaster bool) *AutomountUpdater {
	masterWriter := &files.Writer[*maps.AutomountEntry]{Dir: dir, Filename: "auto.master", Codec: files.AutomountCodec{}}
	return &AutomountUpdater{
		Source:       src,
		MasterWriter: masterWriter,
		SubWriterFor: func(mountpoint string) Writer[*maps.AutomountEntry] {
			return &files.Writer[*maps.AutomountEntry]{Dir: dir, Filename: SubFilename(mountpoint), Codec: files.AutomountCodec{}}
		},
		LocalMaster: localMaster,
	}
}

func TestAutomountUpdateSyncsSubmapsAndRewritesMasterLocations(t *testing.T) {
	dir := t.TempDir()
	var calls []string

	src := &fakeAutomountSource{
		master: newTestMasterMap(t,
			&maps.AutomountEntry{KeyName: "/home", Location: "ldap:ou=auto.home,dc=example,dc=com", Options: ""},
			&maps.AutomountEntry{KeyName: "/data", Location: "ldap:ou=auto.data,dc=example,dc=com", Options: ""},
		),
		subs: map[string]*maps.Map[*maps.AutomountEntry]{
			"/home": newTestMasterMap(t, &maps.AutomountEntry{KeyName: "*", Location: "fileserver:/export/home/&"}),
			"/data": newTestMasterMap(t, &maps.AutomountEntry{KeyName: "*", Location: "fileserver:/export/data/&"}),
		},
		failOn: map[string]bool{},
		calls:  &calls,
	}

	u := buildAutomountUpdater(t, dir, src, false)
	result := u.Update(context.Background())

	require.NoError(t, result.Master.Err)
	require.NoError(t, result.Subs["/home"].Err)
	require.NoError(t, result.Subs["/data"].Err)
	assert.ElementsMatch(t, []string{"/home", "/data"}, calls)

	master, err := u.MasterWriter.Load()
	require.NoError(t, err)
	homeEntry, ok := master.Get("/home")
	require.True(t, ok)
	// the master location must be rewritten to the local submap's path,
	// not left pointing at the source's own LDAP addressing scheme.
	assert.Equal(t, SubFilename("/home"), filenameOf(homeEntry.Location))
	assert.NotContains(t, homeEntry.Location, "ldap:")
}

func TestAutomountUpdateWritesMasterEvenWhenASubmapFails(t *testing.T) {
	dir := t.TempDir()

	src := &fakeAutomountSource{
		master: newTestMasterMap(t,
			&maps.AutomountEntry{KeyName: "/home", Location: "ldap:ou=auto.home,dc=example,dc=com"},
			&maps.AutomountEntry{KeyName: "/broken", Location: "ldap:ou=auto.broken,dc=example,dc=com"},
		),
		subs: map[string]*maps.Map[*maps.AutomountEntry]{
			"/home": newTestMasterMap(t, &maps.AutomountEntry{KeyName: "*", Location: "fileserver:/export/home/&"}),
		},
		failOn: map[string]bool{"/broken": true},
	}

	u := buildAutomountUpdater(t, dir, src, false)
	result := u.Update(context.Background())

	require.Error(t, result.Subs["/broken"].Err)
	require.NoError(t, result.Master.Err)

	master, err := u.MasterWriter.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, master.Len())
}

func TestAutomountUpdateLocalMasterRestrictsAndSkipsWrite(t *testing.T) {
	dir := t.TempDir()

	// Seed a local master map that only knows about /home, simulating an
	// administrator-curated master map already committed to the cache.
	seedWriter := &files.Writer[*maps.AutomountEntry]{Dir: dir, Filename: "auto.master", Codec: files.AutomountCodec{}}
	tx, err := seedWriter.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Write(newTestMasterMap(t, &maps.AutomountEntry{KeyName: "/home", Location: "auto.home"})))
	require.NoError(t, tx.Commit())
	before, err := seedWriter.Load()
	require.NoError(t, err)
	beforeLoc, _ := before.Get("/home")
	beforeLocation := beforeLoc.Location

	src := &fakeAutomountSource{
		master: newTestMasterMap(t,
			&maps.AutomountEntry{KeyName: "/home", Location: "ldap:ou=auto.home,dc=example,dc=com"},
			&maps.AutomountEntry{KeyName: "/data", Location: "ldap:ou=auto.data,dc=example,dc=com"},
		),
		subs: map[string]*maps.Map[*maps.AutomountEntry]{
			"/home": newTestMasterMap(t, &maps.AutomountEntry{KeyName: "*", Location: "fileserver:/export/home/&"}),
			"/data": newTestMasterMap(t, &maps.AutomountEntry{KeyName: "*", Location: "fileserver:/export/data/&"}),
		},
	}

	u := buildAutomountUpdater(t, dir, src, true)
	result := u.Update(context.Background())

	assert.True(t, result.Master.Unchanged)
	_, dataSynced := result.Subs["/data"]
	assert.False(t, dataSynced, "/data is not in the local master and must not be synced")
	require.NoError(t, result.Subs["/home"].Err)

	after, err := u.MasterWriter.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, after.Len())
	afterLoc, _ := after.Get("/home")
	assert.Equal(t, beforeLocation, afterLoc.Location, "local master content must be left untouched")
}

// filenameOf strips the test's tempdir prefix from a rewritten location so
// assertions only depend on the filename, not the tempdir path.
func filenameOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
