// Package minio stores run artifacts and serves model weights from an
// S3-compatible object store.
package minio

import (
	"context"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/RuoyuGao1/cancer-system/internal/config"
	"github.com/RuoyuGao1/cancer-system/internal/infrastructure/monitoring/logging"
	"github.com/RuoyuGao1/cancer-system/pkg/errors"
)

// MinIOAPI is the subset of *minio.Client used here.
type MinIOAPI interface {
	ListBuckets(ctx context.Context) ([]minio.BucketInfo, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
}

const connectTimeout = 10 * time.Second

// MinIOClient wraps the API together with the configured buckets.
type MinIOClient struct {
	client MinIOAPI
	config config.MinIOConfig
	logger logging.Logger
}

// NewMinIOClient connects to the endpoint and makes sure both buckets exist.
func NewMinIOClient(cfg config.MinIOConfig, logger logging.Logger) (*MinIOClient, error) {
	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageError, "create minio client")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if _, err := api.ListBuckets(ctx); err != nil {
		return nil, errors.Wrapf(err, errors.CodeStorageError, "connect to minio at %s", cfg.Endpoint)
	}

	c := NewMinIOClientWithAPI(api, cfg, logger)
	if err := c.EnsureBuckets(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("MinIO client connected", logging.String("endpoint", cfg.Endpoint), logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

// NewMinIOClientWithAPI wraps an existing API implementation.
func NewMinIOClientWithAPI(api MinIOAPI, cfg config.MinIOConfig, logger logging.Logger) *MinIOClient {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &MinIOClient{client: api, config: cfg, logger: logger}
}

// EnsureBuckets creates the artifact and model buckets when missing.
func (c *MinIOClient) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range c.buckets() {
		exists, err := c.client.BucketExists(ctx, bucket)
		if err != nil {
			return errors.Wrapf(err, errors.CodeStorageError, "check bucket %s", bucket)
		}
		if exists {
			continue
		}
		if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
			return errors.Wrapf(err, errors.CodeStorageError, "create bucket %s", bucket)
		}
		c.logger.Info("Created bucket", logging.String("bucket", bucket))
	}
	return nil
}

func (c *MinIOClient) buckets() []string {
	out := []string{c.config.ArtifactBucket}
	if c.config.ModelBucket != "" && c.config.ModelBucket != c.config.ArtifactBucket {
		out = append(out, c.config.ModelBucket)
	}
	return out
}

// ArtifactBucket returns the bucket run outputs are uploaded to.
func (c *MinIOClient) ArtifactBucket() string { return c.config.ArtifactBucket }

// ModelBucket returns the bucket model weights are read from.
func (c *MinIOClient) ModelBucket() string { return c.config.ModelBucket }

// HealthCheck lists buckets to verify connectivity.
func (c *MinIOClient) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListBuckets(ctx); err != nil {
		return errors.Wrap(err, errors.CodeStorageError, "minio health check")
	}
	return nil
}
