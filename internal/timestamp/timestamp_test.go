package timestamp

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwd.ts")
	want := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	require.NoError(t, Write(path, want))
	got, err := Read(path)
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestReadMissingFileReturnsZero(t *testing.T) {
	got, err := Read(filepath.Join(t.TempDir(), "missing.ts"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestReadClampsFarFutureTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.ts")
	future := time.Now().Add(24 * time.Hour)

	require.NoError(t, Write(path, future))
	got, err := Read(path)
	require.NoError(t, err)
	assert.True(t, got.Before(future), "a timestamp more than an hour in the future is clamped to now on read")
}

func TestReadDoesNotClampNearFutureTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "near-future.ts")
	nearFuture := time.Now().Add(5 * time.Minute).Truncate(time.Second)

	require.NoError(t, Write(path, nearFuture))
	got, err := Read(path)
	require.NoError(t, err)
	assert.True(t, got.Equal(nearFuture), "a timestamp less than an hour in the future is trusted as-is")
}
