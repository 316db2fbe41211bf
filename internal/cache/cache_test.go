package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/stretchr/testify/require"
)

func TestApplyCommitPermissionsFallsBackWhenCompatFileMissing(t *testing.T) {
	dir := t.TempDir()
	compatDir = filepath.Join(dir, "etc-missing")
	defer func() { compatDir = "/etc" }()

	tmp := filepath.Join(dir, "shadow.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("data"), 0600))

	require.NoError(t, ApplyCommitPermissions(tmp, maps.KindShadow))
	info, err := os.Stat(tmp)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestApplyCommitPermissionsSshkeyFallbackIsReadOnly(t *testing.T) {
	dir := t.TempDir()
	compatDir = filepath.Join(dir, "etc-missing")
	defer func() { compatDir = "/etc" }()

	tmp := filepath.Join(dir, "sshkey.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("data"), 0600))

	require.NoError(t, ApplyCommitPermissions(tmp, maps.KindSSHKey))
	info, err := os.Stat(tmp)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0444), info.Mode().Perm())
}

func TestApplyCommitPermissionsCopiesCompatFileMode(t *testing.T) {
	dir := t.TempDir()
	compatDir = filepath.Join(dir, "etc")
	require.NoError(t, os.MkdirAll(compatDir, 0755))
	defer func() { compatDir = "/etc" }()

	compatFile := filepath.Join(compatDir, string(maps.KindShadow))
	require.NoError(t, os.WriteFile(compatFile, []byte("compat"), 0640))

	tmp := filepath.Join(dir, "shadow.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("data"), 0600))

	require.NoError(t, ApplyCommitPermissions(tmp, maps.KindShadow))
	info, err := os.Stat(tmp)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0640), info.Mode().Perm())
}
