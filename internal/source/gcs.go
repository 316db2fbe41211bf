package source

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/nsscache/nsscache-go/internal/cache/files"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/nsscache/nsscache-go/internal/nsserror"
)

// GCSSource fetches flat-file-formatted maps stored as objects in a Google
// Cloud Storage bucket. Grounded on nss_cache/sources/gcssource.py's
// GcsFilesSource, including its lazy client construction (_GetClient).
type GCSSource struct {
	bucket  string
	objects map[string]string

	mu     sync.Mutex
	client *storage.Client
}

var (
	_ PasswdSource = (*GCSSource)(nil)
	_ GroupSource  = (*GCSSource)(nil)
	_ ShadowSource = (*GCSSource)(nil)
)

func NewGCSSource(cfg Config) (*GCSSource, error) {
	bucket := cfg.option("bucket", "")
	if bucket == "" {
		return nil, fmt.Errorf("%w: gcs source requires a bucket", nsserror.ErrConfigurationError)
	}
	return &GCSSource{
		bucket: bucket,
		objects: map[string]string{
			"passwd": cfg.option("passwd_object", "passwd"),
			"group":  cfg.option("group_object", "group"),
			"shadow": cfg.option("shadow_object", "shadow"),
		},
	}, nil
}

// getClient constructs the GCS client on first use rather than at adapter
// construction, mirroring GcsFilesSource._GetClient's lazy init.
func (s *GCSSource) getClient(ctx context.Context) (*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nsserror.ErrConfigurationError, err)
	}
	s.client = client
	return client, nil
}

func (s *GCSSource) fetch(ctx context.Context, object string) ([]byte, error) {
	client, err := s.getClient(ctx)
	if err != nil {
		return nil, err
	}
	r, err := client.Bucket(s.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nsserror.ErrSourceUnavailable, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (s *GCSSource) GetPasswdMap(ctx context.Context, since time.Time) (*maps.Map[*maps.PasswdEntry], error) {
	body, err := s.fetch(ctx, s.objects["passwd"])
	if err != nil {
		return nil, err
	}
	return decodeBody[*maps.PasswdEntry](body, files.PasswdCodec{})
}

func (s *GCSSource) GetGroupMap(ctx context.Context, since time.Time) (*maps.Map[*maps.GroupEntry], error) {
	body, err := s.fetch(ctx, s.objects["group"])
	if err != nil {
		return nil, err
	}
	return decodeBody[*maps.GroupEntry](body, files.GroupCodec{})
}

func (s *GCSSource) GetShadowMap(ctx context.Context, since time.Time) (*maps.Map[*maps.ShadowEntry], error) {
	body, err := s.fetch(ctx, s.objects["shadow"])
	if err != nil {
		return nil, err
	}
	return decodeBody[*maps.ShadowEntry](body, files.ShadowCodec{})
}
