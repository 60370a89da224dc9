package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vectaconvert/api/internal/config"
)

// R2Client implements ObjectStorage for Cloudflare R2 / S3-compatible stores.
type R2Client struct {
	s3Client   *s3.Client
	presigner  *s3.PresignClient
	bucketName string
	presignTTL time.Duration
	urlCache   URLCache
	cacheTTL   time.Duration
}

// NewR2Client creates a storage client. urlCache may be nil, in which case
// download URLs are signed on every request.
func NewR2Client(cfg *config.StorageConfig, urlCache URLCache) (*R2Client, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("storage configuration incomplete")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.AccountID == "" {
			return nil, fmt.Errorf("storage configuration incomplete")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.UsePathStyle
	})
	presigner := s3.NewPresignClient(s3Client)

	cacheTTL := cfg.PresignTTL - cfg.URLCacheMargin
	if cacheTTL <= 0 {
		log.Printf("Warning: URL cache margin >= presign TTL, disabling download URL cache")
		urlCache = nil
	}

	return &R2Client{
		s3Client:   s3Client,
		presigner:  presigner,
		bucketName: cfg.BucketName,
		presignTTL: cfg.PresignTTL,
		urlCache:   urlCache,
		cacheTTL:   cacheTTL,
	}, nil
}

func (c *R2Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return wrapErr("upload", key, err)
	}
	return nil
}

func (c *R2Client) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapErr("download", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, wrapErr("download", key, err)
	}
	return data, nil
}

func (c *R2Client) DownloadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapErr("stream", key, err)
	}
	return out.Body, nil
}

func (c *R2Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return wrapErr("delete", key, err)
	}
	return nil
}

func (c *R2Client) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
	}
	_, err := c.s3Client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(c.bucketName),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return wrapErr("bulk delete", fmt.Sprintf("%d keys", len(keys)), err)
	}
	return nil
}

// Ping verifies the bucket is reachable with the configured credentials.
func (c *R2Client) Ping(ctx context.Context) error {
	_, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucketName),
	})
	if err != nil {
		return wrapErr("reach bucket", c.bucketName, err)
	}
	return nil
}

// Exists checks object presence. A missing object is a normal false result,
// not an error.
func (c *R2Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, wrapErr("check existence of", key, err)
	}
	return true, nil
}

func (c *R2Client) PresignUpload(ctx context.Context, key, contentType string) (string, error) {
	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(c.presignTTL))
	if err != nil {
		return "", wrapErr("generate upload URL for", key, err)
	}
	return req.URL, nil
}

// PresignDownload signs a GET URL. URLs are cached with a margin below the
// real expiry so a cached URL is always still valid when handed out.
func (c *R2Client) PresignDownload(ctx context.Context, key string) (string, error) {
	if c.urlCache != nil {
		if url, ok, err := c.urlCache.Get(ctx, key); err == nil && ok {
			return url, nil
		}
	}

	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucketName),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(c.presignTTL))
	if err != nil {
		return "", wrapErr("generate download URL for", key, err)
	}

	if c.urlCache != nil {
		if err := c.urlCache.Store(ctx, key, req.URL, c.cacheTTL); err != nil {
			log.Printf("Failed to cache download URL for %s: %v", key, err)
		}
	}
	return req.URL, nil
}
