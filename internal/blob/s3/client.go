// Package s3blob stores the auction archive's blobs in S3-compatible object
// storage: one JSON snapshot per settled auction under auctions/, and monthly
// JSONL rollups under archive/auctions/. Non-AWS providers (MinIO, Cloudflare
// R2) are reached through a custom endpoint with path-style addressing.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds connection parameters for the object store.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for S3-compatible providers.
	// Empty selects standard AWS S3.
	Endpoint string

	// Region is the bucket region, or the provider's equivalent.
	Region string

	// Bucket receives every snapshot and rollup the archive writes.
	Bucket string

	AccessKey string
	SecretKey string

	// UseSSL picks the scheme when Endpoint is given without one.
	UseSSL bool

	// ForcePathStyle addresses the bucket in the path instead of the
	// subdomain. Most self-hosted providers require it.
	ForcePathStyle bool
}

// Client carries the SDK client and the archive bucket for the reader,
// writer and snapshot components in this package.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds the S3 client for the archive bucket. Static credentials only:
// the archive runs against a single dedicated bucket, so instance-profile
// and SSO resolution are not in play.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(resolveEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Health verifies the archive bucket is reachable and accessible.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", c.bucket, err)
	}
	return nil
}

// Close is a no-op; the SDK's HTTP client needs no explicit teardown.
func (c *Client) Close() error {
	return nil
}

// S3 returns the underlying SDK client.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the archive bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// resolveEndpoint prepends a scheme when the configured endpoint lacks one.
func resolveEndpoint(endpoint string, useSSL bool) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Scheme != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
