package source

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nsscache/nsscache-go/internal/cache/files"
	"github.com/nsscache/nsscache-go/internal/maps"
	"github.com/nsscache/nsscache-go/internal/nsserror"
)

// S3Source fetches flat-file-formatted maps stored as objects in an S3
// bucket. Grounded on nss_cache/sources/s3source.py's S3FilesSource
// (boto3 client, BUCKET/PASSWD_OBJECT/GROUP_OBJECT/SHADOW_OBJECT config).
type S3Source struct {
	client  *s3.Client
	bucket  string
	objects map[string]string
}

var (
	_ PasswdSource = (*S3Source)(nil)
	_ GroupSource  = (*S3Source)(nil)
	_ ShadowSource = (*S3Source)(nil)
)

func NewS3Source(cfg Config) (*S3Source, error) {
	bucket := cfg.option("bucket", "")
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 source requires a bucket", nsserror.ErrConfigurationError)
	}

	ctx := context.Background()
	var optFns []func(*awsconfig.LoadOptions) error
	if region := cfg.option("region", ""); region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nsserror.ErrConfigurationError, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := cfg.option("endpoint", ""); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &S3Source{
		client: client,
		bucket: bucket,
		objects: map[string]string{
			"passwd": cfg.option("passwd_object", "passwd"),
			"group":  cfg.option("group_object", "group"),
			"shadow": cfg.option("shadow_object", "shadow"),
		},
	}, nil
}

func (s *S3Source) fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nsserror.ErrSourceUnavailable, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Source) GetPasswdMap(ctx context.Context, since time.Time) (*maps.Map[*maps.PasswdEntry], error) {
	body, err := s.fetch(ctx, s.objects["passwd"])
	if err != nil {
		return nil, err
	}
	return decodeBody[*maps.PasswdEntry](body, files.PasswdCodec{})
}

func (s *S3Source) GetGroupMap(ctx context.Context, since time.Time) (*maps.Map[*maps.GroupEntry], error) {
	body, err := s.fetch(ctx, s.objects["group"])
	if err != nil {
		return nil, err
	}
	return decodeBody[*maps.GroupEntry](body, files.GroupCodec{})
}

func (s *S3Source) GetShadowMap(ctx context.Context, since time.Time) (*maps.Map[*maps.ShadowEntry], error) {
	body, err := s.fetch(ctx, s.objects["shadow"])
	if err != nil {
		return nil, err
	}
	return decodeBody[*maps.ShadowEntry](body, files.ShadowCodec{})
}
