package lock

import (
	"path/filepath"
	"testing"

	"github.com/nsscache/nsscache-go/internal/nsserror"
	"github.com/stretchr/testify/require"
)

func TestLockUnlockRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nsscache.pid")

	p, err := New(path)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Lock(false))
	require.NoError(t, p.Unlock())
}

func TestSecondLockWithoutForceFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nsscache.pid")

	first, err := New(path)
	require.NoError(t, err)
	defer first.Close()
	require.NoError(t, first.Lock(false))

	second, err := New(path)
	require.NoError(t, err)
	defer second.Close()

	err = second.Lock(false)
	require.ErrorIs(t, err, nsserror.ErrLockHeld)
}

func TestForcedTakeoverRefusesToSignalNonNsscacheHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nsscache.pid")

	first, err := New(path)
	require.NoError(t, err)
	defer first.Close()
	require.NoError(t, first.Lock(false))

	// The pid file now holds this test process's own pid, and the test
	// binary's /proc/self/cmdline does not contain "nsscache". A forced
	// takeover must refuse to signal it rather than risk killing an
	// unrelated process that happens to share the recorded pid, matching
	// lock.py's SendTerm command-line check.
	second, err := New(path)
	require.NoError(t, err)
	defer second.Close()

	err = second.Lock(true)
	require.ErrorIs(t, err, nsserror.ErrLockHeld)
}
