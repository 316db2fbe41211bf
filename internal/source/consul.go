package source

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/nsscache/nsscache-go/internal/cache/files"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/nsscache/nsscache-go/internal/nsserror"
)

// ConsulSource fetches flat-file-formatted maps stored as values under a
// Consul KV prefix, one key per map kind. Grounded on
// nss_cache/sources/consulsource.py's ConsulFilesSource, which is itself
// httpsource.py's HttpFilesSource plus datacenter/token query parameters;
// here the equivalent specialization is swapping net/http GETs for the
// official Consul KV client.
type ConsulSource struct {
	client     *api.Client
	datacenter string
	keys       map[string]string
}

var (
	_ PasswdSource   = (*ConsulSource)(nil)
	_ GroupSource    = (*ConsulSource)(nil)
	_ ShadowSource   = (*ConsulSource)(nil)
	_ NetgroupSource = (*ConsulSource)(nil)
)

func NewConsulSource(cfg Config) *ConsulSource {
	apiCfg := api.DefaultConfig()
	if addr := cfg.option("address", ""); addr != "" {
		apiCfg.Address = addr
	}
	if token := cfg.option("token", ""); token != "" {
		apiCfg.Token = token
	}
	client, _ := api.NewClient(apiCfg)

	return &ConsulSource{
		client:     client,
		datacenter: cfg.option("datacenter", "dc1"),
		keys: map[string]string{
			"passwd":   cfg.option("passwd_key", "nsscache/passwd"),
			"group":    cfg.option("group_key", "nsscache/group"),
			"shadow":   cfg.option("shadow_key", "nsscache/shadow"),
			"netgroup": cfg.option("netgroup_key", "nsscache/netgroup"),
		},
	}
}

func (s *ConsulSource) fetch(ctx context.Context, kvKey string) ([]byte, error) {
	kv := s.client.KV()
	pair, _, err := kv.Get(kvKey, (&api.QueryOptions{Datacenter: s.datacenter}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nsserror.ErrSourceUnavailable, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("%w: key %q not found", nsserror.ErrCacheNotFound, kvKey)
	}
	return pair.Value, nil
}

func (s *ConsulSource) GetPasswdMap(ctx context.Context, since time.Time) (*maps.Map[*maps.PasswdEntry], error) {
	body, err := s.fetch(ctx, s.keys["passwd"])
	if err != nil {
		return nil, err
	}
	return decodeBody[*maps.PasswdEntry](body, files.PasswdCodec{})
}

func (s *ConsulSource) GetGroupMap(ctx context.Context, since time.Time) (*maps.Map[*maps.GroupEntry], error) {
	body, err := s.fetch(ctx, s.keys["group"])
	if err != nil {
		return nil, err
	}
	return decodeBody[*maps.GroupEntry](body, files.GroupCodec{})
}

func (s *ConsulSource) GetShadowMap(ctx context.Context, since time.Time) (*maps.Map[*maps.ShadowEntry], error) {
	body, err := s.fetch(ctx, s.keys["shadow"])
	if err != nil {
		return nil, err
	}
	return decodeBody[*maps.ShadowEntry](body, files.ShadowCodec{})
}

func (s *ConsulSource) GetNetgroupMap(ctx context.Context, since time.Time) (*maps.Map[*maps.NetgroupEntry], error) {
	body, err := s.fetch(ctx, s.keys["netgroup"])
	if err != nil {
		return nil, err
	}
	return decodeBody[*maps.NetgroupEntry](body, files.NetgroupCodec{})
}
