package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConf = `
[DEFAULT]
source   = ldap
cache    = files
dir      = /var/lib/nsscache
maps     = passwd, group
lockfile = /var/run/nsscache.pid

[passwd]
uri = ldap://ldap.example.com
base_dn = ou=people,dc=example,dc=com

[group]
cache = nssdb
`

func TestLoadResolvesGlobalAndPerMapSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nsscache.conf")
	require.NoError(t, os.WriteFile(path, []byte(sampleConf), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ldap", cfg.Global.Source)
	assert.ElementsMatch(t, []string{"passwd", "group"}, cfg.Global.Maps)

	passwd := cfg.Maps["passwd"]
	assert.Equal(t, "ldap", passwd.Source)
	assert.Equal(t, "files", passwd.Cache, "map without a cache override inherits the global default")
	assert.Equal(t, "ldap://ldap.example.com", passwd.Options["uri"])
	assert.Equal(t, "/var/lib/nsscache", passwd.Options["dir"], "dir set only in [DEFAULT] must flow down to every map")

	group := cfg.Maps["group"]
	assert.Equal(t, "nssdb", group.Cache, "per-map cache override takes precedence over the global default")
	assert.Equal(t, "/var/lib/nsscache", group.Options["dir"], "group has no dir override, so it inherits the default too")
}

func TestLoadMapSectionOverridesDefaultOption(t *testing.T) {
	const conf = `
[DEFAULT]
source   = ldap
cache    = files
dir      = /var/lib/nsscache
maps     = passwd, group

[passwd]
dir = /custom/passwd/dir

[group]
`
	path := filepath.Join(t.TempDir(), "nsscache.conf")
	require.NoError(t, os.WriteFile(path, []byte(conf), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/custom/passwd/dir", cfg.Maps["passwd"].Options["dir"])
	assert.Equal(t, "/var/lib/nsscache", cfg.Maps["group"].Options["dir"], "group is unaffected by passwd's override")
}

func TestLoadUsesEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.conf")
	require.NoError(t, os.WriteFile(path, []byte(sampleConf), 0644))
	t.Setenv(EnvOverrideVar, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ldap", cfg.Global.Source)
}

func TestLoadMissingConfigReturnsNoConfigFound(t *testing.T) {
	t.Setenv(EnvOverrideVar, "")
	orig := DefaultPaths
	DefaultPaths = []string{filepath.Join(t.TempDir(), "does-not-exist.conf")}
	defer func() { DefaultPaths = orig }()

	_, err := Load("")
	require.Error(t, err)
}
