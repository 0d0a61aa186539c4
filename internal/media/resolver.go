package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// DefaultPresignTTL is how long resolved URLs stay valid.
const DefaultPresignTTL = 24 * time.Hour

type headObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type presignGetAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// ResolverConfig carries the bucket and fallback settings for URL resolution.
type ResolverConfig struct {
	Bucket         string
	DefaultKey     string
	PlaceholderURL string
	PresignTTL     time.Duration
}

// Resolver turns stored media keys into fetchable URLs. A key that exists in
// the bucket resolves to a presigned GET URL; a missing key falls back to the
// configured default image, and if that is missing too, to the static
// placeholder URL.
type Resolver struct {
	head      headObjectAPI
	presigner presignGetAPI
	cfg       ResolverConfig
}

// NewResolver creates a resolver over an existing S3 client.
func NewResolver(client *s3.Client, cfg ResolverConfig) *Resolver {
	return newResolver(client, s3.NewPresignClient(client), cfg)
}

// NewResolverFromConfig loads AWS config (optionally with a shared profile)
// and creates the resolver.
func NewResolverFromConfig(ctx context.Context, region, profile string, cfg ResolverConfig) (*Resolver, error) {
	var awsCfg aws.Config
	var err error
	if profile != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithSharedConfigProfile(profile),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return NewResolver(client, cfg), nil
}

func newResolver(head headObjectAPI, presigner presignGetAPI, cfg ResolverConfig) *Resolver {
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = DefaultPresignTTL
	}
	return &Resolver{head: head, presigner: presigner, cfg: cfg}
}

// ResolveURL returns a fetchable URL for key, walking the fallback chain
// when the object is absent. S3 failures other than a missing object are
// returned to the caller.
func (r *Resolver) ResolveURL(ctx context.Context, key string) (string, error) {
	if key != "" {
		ok, err := r.exists(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			return r.presign(ctx, key)
		}
	}

	if r.cfg.DefaultKey != "" {
		ok, err := r.exists(ctx, r.cfg.DefaultKey)
		if err != nil {
			return "", err
		}
		if ok {
			return r.presign(ctx, r.cfg.DefaultKey)
		}
	}

	return r.cfg.PlaceholderURL, nil
}

// ResolveAll resolves every key, preserving order. A single bad key doesn't
// poison the batch; its slot gets the fallback chain like any other miss.
func (r *Resolver) ResolveAll(ctx context.Context, keys []string) ([]string, error) {
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		u, err := r.ResolveURL(ctx, key)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, nil
}

func (r *Resolver) exists(ctx context.Context, key string) (bool, error) {
	_, err := r.head.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking object %s: %w", key, err)
	}
	return true, nil
}

func (r *Resolver) presign(ctx context.Context, key string) (string, error) {
	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = r.cfg.PresignTTL
	})
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", key, err)
	}
	return req.URL, nil
}
