package minio

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/plankton-batchedit/internal/config"
	apperrors "github.com/turtacn/plankton-batchedit/pkg/errors"
)

// MockObjectAPI records bucket-level calls.
type MockObjectAPI struct {
	mock.Mock
	fakeObjects
}

func (m *MockObjectAPI) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *MockObjectAPI) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	return m.Called(ctx, bucketName, opts).Error(0)
}

func (m *MockObjectAPI) SetBucketLifecycle(ctx context.Context, bucketName string, cfg *lifecycle.Configuration) error {
	return m.Called(ctx, bucketName, cfg).Error(0)
}

// fakeObjects is an in-memory object store keyed by object name.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	meta    map[string]map[string]string
	putErr  error
}

func (f *fakeObjects) PutObject(_ context.Context, _ string, objectName string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(data)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
		f.meta = map[string]map[string]string{}
	}
	f.objects[objectName] = data
	f.meta[objectName] = opts.UserMetadata
	return minio.UploadInfo{Key: objectName, Size: size}, nil
}

func (f *fakeObjects) ListObjects(_ context.Context, _ string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	f.mu.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, opts.Prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	ch := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		ch <- minio.ObjectInfo{Key: k, Size: int64(len(f.objects[k])), LastModified: time.Now()}
	}
	f.mu.Unlock()
	close(ch)
	return ch
}

func (f *fakeObjects) RemoveObject(_ context.Context, _ string, objectName string, _ minio.RemoveObjectOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectName)
	return nil
}

func (f *fakeObjects) ReadObject(_ context.Context, _ string, objectName string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectName]
	if !ok {
		return nil, ErrObjectNotFound.WithDetail(objectName)
	}
	return data, nil
}

func newTestClient(t *testing.T) (*Client, *MockObjectAPI) {
	t.Helper()
	api := &MockObjectAPI{}
	return NewClientWithAPI(api, "snapshots-test", "us-east-1", nil), api
}

func TestEnsureBucket_CreatesMissingBucket(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()
	api.On("BucketExists", ctx, "snapshots-test").Return(false, nil)
	api.On("MakeBucket", ctx, "snapshots-test", minio.MakeBucketOptions{Region: "us-east-1"}).Return(nil)
	api.On("SetBucketLifecycle", ctx, "snapshots-test", mock.MatchedBy(func(cfg *lifecycle.Configuration) bool {
		return len(cfg.Rules) == 1 && cfg.Rules[0].RuleFilter.Prefix == AuditPrefix
	})).Return(errors.New("not supported"))

	require.NoError(t, c.EnsureBucket(ctx))
	api.AssertExpectations(t)
}

func TestEnsureBucket_ExistingBucket(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()
	api.On("BucketExists", ctx, "snapshots-test").Return(true, nil)
	api.On("SetBucketLifecycle", ctx, "snapshots-test", mock.Anything).Return(nil)

	require.NoError(t, c.EnsureBucket(ctx))
	api.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
}

func TestEnsureBucket_Errors(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()
	api.On("BucketExists", ctx, "snapshots-test").Return(false, errors.New("dial tcp"))
	err := c.EnsureBucket(ctx)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeExternalService))
}

func TestHealthCheck(t *testing.T) {
	c, api := newTestClient(t)
	ctx := context.Background()
	api.On("BucketExists", ctx, "snapshots-test").Return(true, nil).Once()
	assert.NoError(t, c.HealthCheck(ctx))

	api.On("BucketExists", ctx, "snapshots-test").Return(false, nil).Once()
	assert.Error(t, c.HealthCheck(ctx))

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.HealthCheck(ctx), ErrMinIOClientClosed)
}

func TestNewClient_RequiresEndpointAndBucket(t *testing.T) {
	_, err := NewClient(context.Background(), config.MinIOConfig{Endpoint: "localhost:9000"}, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBadRequest))
}
