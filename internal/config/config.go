// Package config loads nsscache.conf: a global [DEFAULT]-style section plus
// one section per configured map, in the traditional nsscache INI format.
// Grounded on this package's pre-existing viper-backed mapstructure tree
// (adapted here from a YAML/env service config to an INI file reader) and
// nss_cache/config.py's OPT_* constants, NSSCACHE_CONFIG env override, and
// per-map section merge semantics.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/nsscache/nsscache-go/internal/nsserror"
	"github.com/spf13/viper"
)

// EnvOverrideVar is the environment variable that, when set, takes
// precedence over every other config path, matching config.py's
// NSSCACHE_CONFIG.
const EnvOverrideVar = "NSSCACHE_CONFIG"

// DefaultPaths are searched in order when EnvOverrideVar is unset.
var DefaultPaths = []string{"/etc/nsscache.conf", "/etc/nsscache/nsscache.conf"}

// Global holds the [DEFAULT]-section options shared by every map unless a
// map-specific section overrides them.
type Global struct {
	Source       string
	Cache        string
	CacheDir     string
	Maps         []string
	LockFile     string
	LockTimeout  int
	LogLevel     string
	LogFormat    string
	HistoryDSN   string
	HotCacheAddr string
}

// MapConfig is one map's fully-resolved section: the global defaults with
// any per-map [<kind>] overrides layered on top, plus the raw option bag
// passed through to the source adapter (bind_dn, bucket, ...).
type MapConfig struct {
	Kind    string
	Source  string
	Cache   string
	Options map[string]string
}

// Config is the fully parsed nsscache.conf.
type Config struct {
	Global Global
	Maps   map[string]MapConfig
}

// Load resolves the config file path (env override, then DefaultPaths) and
// parses it.
func Load(explicitPath string) (*Config, error) {
	path := explicitPath
	if path == "" {
		path = os.Getenv(EnvOverrideVar)
	}
	if path == "" {
		for _, p := range DefaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path == "" {
		return nil, nsserror.ErrNoConfigFound
	}
	return loadFrom(path)
}

func loadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %v", nsserror.ErrConfigurationError, err)
	}

	global := Global{
		Source:       v.GetString("default.source"),
		Cache:        v.GetString("default.cache"),
		CacheDir:     v.GetString("default.dir"),
		LockFile:     v.GetString("default.lockfile"),
		LockTimeout:  v.GetInt("default.timeout"),
		LogLevel:     orDefault(v.GetString("default.log_level"), "info"),
		LogFormat:    orDefault(v.GetString("default.log_format"), "text"),
		HistoryDSN:   v.GetString("default.history_dsn"),
		HotCacheAddr: v.GetString("default.hotcache_addr"),
	}
	if maps := v.GetString("default.maps"); maps != "" {
		for _, m := range strings.Split(maps, ",") {
			global.Maps = append(global.Maps, strings.TrimSpace(m))
		}
	}
	if global.Source == "" || global.Cache == "" {
		return nil, fmt.Errorf("%w: [DEFAULT] section must set source and cache", nsserror.ErrConfigurationError)
	}

	defaultOptions := map[string]string{}
	if def := v.Sub("default"); def != nil {
		for _, key := range def.AllKeys() {
			if reservedGlobalKeys[key] {
				continue
			}
			defaultOptions[key] = def.GetString(key)
		}
	}

	cfg := &Config{Global: global, Maps: map[string]MapConfig{}}
	for _, kind := range global.Maps {
		section := strings.ToLower(kind)
		mc := MapConfig{
			Kind:    kind,
			Source:  orDefault(v.GetString(section+".source"), global.Source),
			Cache:   orDefault(v.GetString(section+".cache"), global.Cache),
			Options: map[string]string{},
		}
		// Any option not overridden at the map level (e.g. "dir", common to
		// every map using the same cache directory) is inherited from
		// [DEFAULT], matching config.py's merge of default-section options
		// into each map's MapOptions before the section-specific overlay.
		for k, v := range defaultOptions {
			mc.Options[k] = v
		}
		sub := v.Sub(section)
		if sub != nil {
			for _, key := range sub.AllKeys() {
				mc.Options[key] = sub.GetString(key)
			}
		}
		cfg.Maps[kind] = mc
	}
	return cfg, nil
}

// reservedGlobalKeys are [DEFAULT] options already captured in Global and
// not passed through to a map's free-form Options bag.
var reservedGlobalKeys = map[string]bool{
	"source": true, "cache": true, "maps": true, "lockfile": true,
	"timeout": true, "log_level": true, "log_format": true,
	"history_dsn": true, "hotcache_addr": true,
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
