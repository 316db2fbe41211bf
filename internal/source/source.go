// Package source defines the contract remote directories implement to feed
// nsscache maps, a registry for wiring concrete adapters by name, and the
// seven adapters themselves (ldap, http, s3, gcs, consul, scim, zsync).
//
// Grounded on nss_cache/sources/source.go's Source.GetMap dispatch. The
// REDESIGN FLAG in spec.md replaces the Python metaclass-based
// RegisterImplementation import side effect with an explicit Registry the
// CLI populates at startup (see DefaultRegistry, called by cmd/nsscache's
// update and repair commands).
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/nsscache/nsscache-go/internal/nsserror"
)

// PasswdSource, GroupSource, etc. are implemented by whichever concrete
// adapters support that map kind. An adapter need only implement the
// subset it can serve; the updater type-asserts and returns
// nsserror.ErrUnsupportedMap for the rest, mirroring source.py's GetMap
// switch raising UnsupportedMap for a kind with no matching GetXMap method.
type PasswdSource interface {
	GetPasswdMap(ctx context.Context, since time.Time) (*maps.Map[*maps.PasswdEntry], error)
}

type GroupSource interface {
	GetGroupMap(ctx context.Context, since time.Time) (*maps.Map[*maps.GroupEntry], error)
}

type ShadowSource interface {
	GetShadowMap(ctx context.Context, since time.Time) (*maps.Map[*maps.ShadowEntry], error)
}

type NetgroupSource interface {
	GetNetgroupMap(ctx context.Context, since time.Time) (*maps.Map[*maps.NetgroupEntry], error)
}

type SSHKeySource interface {
	GetSSHKeyMap(ctx context.Context, since time.Time) (*maps.Map[*maps.SSHKeyEntry], error)
}

// AutomountSource serves the two-level automount map: the master map lists
// mountpoint -> submap location, and each submap is fetched independently.
type AutomountSource interface {
	GetAutomountMasterMap(ctx context.Context) (*maps.Map[*maps.AutomountEntry], error)
	GetAutomountMap(ctx context.Context, mountpoint string, since time.Time) (*maps.Map[*maps.AutomountEntry], error)
}

// FileSource serves the zsync/file-level transfer path, where the source
// hands back an entire file's bytes rather than parsed entries. Grounded on
// source.py's FileSource.GetFile abstract base.
type FileSource interface {
	GetFile(ctx context.Context, name string) ([]byte, error)
}

// Factory constructs a Source from a map-scoped config section. Returned as
// `any` because each adapter implements only the kind-specific interfaces
// above that it actually supports.
type Factory func(cfg Config) (any, error)

// Config is the subset of a map's config section every adapter needs,
// plus a free-form Options bag for adapter-specific keys (bind_dn, bucket,
// datacenter, json_path_map, ...). Grounded on nss_cache/config.py's
// MapOptions merge of global + per-map sections.
type Config struct {
	Kind    string
	Options map[string]string
}

func (c Config) option(key, def string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return def
}

// Registry maps a source kind name (as used in nsscache.conf's "source"
// option) to the factory that constructs it.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

func (r *Registry) Build(cfg Config) (any, error) {
	f, ok := r.factories[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no source registered for kind %q", nsserror.ErrConfigurationError, cfg.Kind)
	}
	return f(cfg)
}

// DefaultRegistry wires every adapter in this package under its
// conventional nsscache.conf name. cmd/nsscache calls this once at
// startup; tests construct a bare Registry and register only what they need.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("ldap", func(cfg Config) (any, error) { return NewLDAPSource(cfg) })
	r.Register("http", func(cfg Config) (any, error) { return NewHTTPSource(cfg), nil })
	r.Register("consul", func(cfg Config) (any, error) { return NewConsulSource(cfg), nil })
	r.Register("s3", func(cfg Config) (any, error) { return NewS3Source(cfg) })
	r.Register("gcs", func(cfg Config) (any, error) { return NewGCSSource(cfg) })
	r.Register("scim", func(cfg Config) (any, error) { return NewSCIMSource(cfg), nil })
	r.Register("zsync", func(cfg Config) (any, error) { return NewZsyncSource(cfg), nil })
	return r
}
