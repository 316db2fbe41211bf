package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nsscache/nsscache-go/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistoryStore struct {
	recent []history.Attempt
	err    error
}

func (f *fakeHistoryStore) Record(ctx context.Context, a history.Attempt) error { return nil }
func (f *fakeHistoryStore) Recent(ctx context.Context, mapName string, limit int) ([]history.Attempt, error) {
	return f.recent, f.err
}
func (f *fakeHistoryStore) Close() error { return nil }

func TestCacheLabel(t *testing.T) {
	assert.Equal(t, "files", cacheLabel(""))
	assert.Equal(t, "nssdb", cacheLabel("nssdb"))
}

func TestLastAttemptSuffixNoStore(t *testing.T) {
	assert.Equal(t, "", lastAttemptSuffix(context.Background(), nil, "passwd"))
}

func TestLastAttemptSuffixNoAttempts(t *testing.T) {
	store := &fakeHistoryStore{}
	assert.Equal(t, "", lastAttemptSuffix(context.Background(), store, "passwd"))
}

func TestLastAttemptSuffixStoreError(t *testing.T) {
	store := &fakeHistoryStore{err: errors.New("boom")}
	assert.Equal(t, "", lastAttemptSuffix(context.Background(), store, "passwd"))
}

func TestLastAttemptSuffixSuccess(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := &fakeHistoryStore{recent: []history.Attempt{{StartedAt: started, Duration: 2 * time.Second}}}
	got := lastAttemptSuffix(context.Background(), store, "passwd")
	require.Contains(t, got, "last_ok=")
	require.Contains(t, got, "last_duration=2s")
}

func TestLastAttemptSuffixError(t *testing.T) {
	store := &fakeHistoryStore{recent: []history.Attempt{{Error: "ldap: connection refused", Duration: time.Second}}}
	got := lastAttemptSuffix(context.Background(), store, "passwd")
	require.Contains(t, got, `last_error="ldap: connection refused"`)
}
