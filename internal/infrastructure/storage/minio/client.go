// Package minio archives dataset snapshots and batch-edit audit records in
// an S3-compatible bucket.
package minio

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/turtacn/plankton-batchedit/internal/config"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// Object key prefixes inside the bucket.
const (
	SnapshotPrefix = "snapshots/"
	AuditPrefix    = "audit/"
)

// auditRetentionDays bounds how long audit records are kept.
const auditRetentionDays = 365

var (
	ErrObjectNotFound    = errors.New(errors.ErrCodeNotFound, "object not found")
	ErrMinIOClientClosed = errors.New(errors.ErrCodeInternal, "minio client is closed")
)

// ObjectAPI is the subset of the MinIO SDK the archive uses.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketLifecycle(ctx context.Context, bucketName string, config *lifecycle.Configuration) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	// ReadObject returns the full object body or ErrObjectNotFound.
	ReadObject(ctx context.Context, bucketName, objectName string) ([]byte, error)
}

// sdkAPI adapts *minio.Client to ObjectAPI.
type sdkAPI struct {
	*minio.Client
}

func (s sdkAPI) ReadObject(ctx context.Context, bucketName, objectName string) ([]byte, error) {
	obj, err := s.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrObjectNotFound.WithDetail(objectName)
		}
		return nil, err
	}
	return data, nil
}

// Client owns the bucket the batch-edit service writes to.
type Client struct {
	api    ObjectAPI
	bucket string
	region string
	logger logging.Logger
	mu     sync.RWMutex
	closed bool
}

// NewClient connects to the endpoint in cfg and makes sure the bucket and its
// lifecycle rules exist.
func NewClient(ctx context.Context, cfg config.MinIOConfig, log logging.Logger) (*Client, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.InvalidParam("minio endpoint and bucket are required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	sdk, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create minio client")
	}

	c := NewClientWithAPI(sdkAPI{sdk}, cfg.Bucket, cfg.Region, log)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("MinIO client connected",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket),
		logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

// NewClientWithAPI wraps an existing ObjectAPI.
func NewClientWithAPI(api ObjectAPI, bucket, region string, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Client{api: api, bucket: bucket, region: region, logger: log.Named("minio")}
}

// EnsureBucket creates the bucket when missing and installs the audit
// expiry rule. A lifecycle failure is logged, not returned.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to check bucket existence").WithDetail(c.bucket)
	}
	if !exists {
		if err := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
			return errors.Wrap(err, errors.ErrCodeExternalService, "failed to create bucket").WithDetail(c.bucket)
		}
		c.logger.Info("Created bucket", logging.String("bucket", c.bucket))
	}

	rules := lifecycle.NewConfiguration()
	rules.Rules = []lifecycle.Rule{{
		ID:         "audit-expiry",
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: AuditPrefix},
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(auditRetentionDays)},
	}}
	if err := c.api.SetBucketLifecycle(ctx, c.bucket, rules); err != nil {
		c.logger.Warn("Failed to set bucket lifecycle", logging.String("bucket", c.bucket), logging.Err(err))
	}
	return nil
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string { return c.bucket }

// HealthCheck reports whether the bucket is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.isClosed() {
		return ErrMinIOClientClosed
	}
	ok, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "minio health check failed")
	}
	if !ok {
		return errors.New(errors.ErrCodeExternalService, "bucket missing").WithDetail(c.bucket)
	}
	return nil
}

// Close marks the client closed. The SDK holds no resources to release.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
