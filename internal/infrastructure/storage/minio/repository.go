package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

const (
	contentTypeJSON = "application/json"
	// keyTimeLayout sorts lexically in time order.
	keyTimeLayout = "20060102T150405.000000000Z"
)

// SnapshotObject describes one archived snapshot.
type SnapshotObject struct {
	Key          string
	DatasetID    string
	Size         int64
	LastModified time.Time
}

// SnapshotArchive stores pre-commit dataset copies as JSON objects under
// snapshots/<dataset id>/<timestamp>.json.
type SnapshotArchive struct {
	client *Client
	logger logging.Logger
	now    func() time.Time
}

// NewSnapshotArchive returns an archive writing through client.
func NewSnapshotArchive(client *Client, log logging.Logger) *SnapshotArchive {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &SnapshotArchive{client: client, logger: log.Named("snapshot_archive"), now: time.Now}
}

// SnapshotKey returns the object key of a snapshot of datasetID taken at at.
func SnapshotKey(datasetID string, at time.Time) string {
	return SnapshotPrefix + datasetID + "/" + at.UTC().Format(keyTimeLayout) + ".json"
}

// Archive uploads d and returns the object key. The reason is kept as
// object metadata.
func (a *SnapshotArchive) Archive(ctx context.Context, d *dataset.Dataset, reason string) (string, error) {
	if a.client.isClosed() {
		return "", ErrMinIOClientClosed
	}
	if d == nil || d.ID == "" {
		return "", errors.InvalidParam("dataset with id is required")
	}
	body, err := json.Marshal(d)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode snapshot")
	}
	key := SnapshotKey(d.ID, a.now())
	opts := minio.PutObjectOptions{
		ContentType: contentTypeJSON,
		UserMetadata: map[string]string{
			"dataset-id": d.ID,
			"reason":     url.QueryEscape(reason),
		},
	}
	if _, err := a.client.api.PutObject(ctx, a.client.bucket, key, bytes.NewReader(body), int64(len(body)), opts); err != nil {
		return "", errors.Wrap(err, errors.ErrCodeExternalService, "failed to upload snapshot").WithDetail(key)
	}
	a.logger.Debug("Snapshot archived", logging.DatasetID(d.ID), logging.String("key", key), logging.Int("bytes", len(body)))
	return key, nil
}

// Load downloads and decodes the snapshot stored at key.
func (a *SnapshotArchive) Load(ctx context.Context, key string) (*dataset.Dataset, error) {
	if !strings.HasPrefix(key, SnapshotPrefix) {
		return nil, errors.InvalidParam("not a snapshot key").WithDetail(key)
	}
	data, err := a.client.api.ReadObject(ctx, a.client.bucket, key)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "failed to download snapshot").WithDetail(key)
	}
	var d dataset.Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode snapshot").WithDetail(key)
	}
	return &d, nil
}

// List returns the snapshots of datasetID, newest first.
func (a *SnapshotArchive) List(ctx context.Context, datasetID string) ([]SnapshotObject, error) {
	if datasetID == "" {
		return nil, errors.InvalidParam("dataset id is required")
	}
	prefix := SnapshotPrefix + datasetID + "/"
	var out []SnapshotObject
	for obj := range a.client.api.ListObjects(ctx, a.client.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeExternalService, "failed to list snapshots")
		}
		out = append(out, SnapshotObject{
			Key:          obj.Key,
			DatasetID:    datasetID,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	return out, nil
}

// Prune deletes all but the newest keep snapshots of datasetID and returns
// how many were removed.
func (a *SnapshotArchive) Prune(ctx context.Context, datasetID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	objs, err := a.List(ctx, datasetID)
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := keep; i < len(objs); i++ {
		if err := a.client.api.RemoveObject(ctx, a.client.bucket, objs[i].Key, minio.RemoveObjectOptions{}); err != nil {
			return removed, errors.Wrap(err, errors.ErrCodeExternalService, "failed to remove snapshot").WithDetail(objs[i].Key)
		}
		removed++
	}
	return removed, nil
}

// AuditLog stores one JSON record per applied batch under
// audit/<dataset id>/<event id>.json. Rewriting the same event is a no-op in
// effect, so redelivered messages are harmless.
type AuditLog struct {
	client *Client
	logger logging.Logger
}

// NewAuditLog returns an audit log writing through client.
func NewAuditLog(client *Client, log logging.Logger) *AuditLog {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &AuditLog{client: client, logger: log.Named("audit_log")}
}

// AuditKey returns the object key of an audit record.
func AuditKey(datasetID, eventID string) string {
	return path.Join(strings.TrimSuffix(AuditPrefix, "/"), datasetID, eventID+".json")
}

// Record implements the worker's audit sink.
func (l *AuditLog) Record(ctx context.Context, evt domainbatch.EditsApplied) error {
	if evt.DatasetID == "" || evt.EventID == "" {
		return errors.InvalidParam("audit record needs dataset and event ids")
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode audit record")
	}
	key := AuditKey(evt.DatasetID, evt.EventID)
	opts := minio.PutObjectOptions{
		ContentType:  contentTypeJSON,
		UserMetadata: map[string]string{"session-id": evt.SessionID, "mode": string(evt.Mode)},
	}
	if _, err := l.client.api.PutObject(ctx, l.client.bucket, key, bytes.NewReader(body), int64(len(body)), opts); err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to write audit record").WithDetail(key)
	}
	l.logger.Debug("Audit record written", logging.DatasetID(evt.DatasetID), logging.String("key", key))
	return nil
}

// History returns the audit records of datasetID ordered by occurrence.
func (l *AuditLog) History(ctx context.Context, datasetID string) ([]domainbatch.EditsApplied, error) {
	if datasetID == "" {
		return nil, errors.InvalidParam("dataset id is required")
	}
	prefix := AuditPrefix + datasetID + "/"
	var out []domainbatch.EditsApplied
	for obj := range l.client.api.ListObjects(ctx, l.client.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeExternalService, "failed to list audit records")
		}
		data, err := l.client.api.ReadObject(ctx, l.client.bucket, obj.Key)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeExternalService, "failed to read audit record").WithDetail(obj.Key)
		}
		var evt domainbatch.EditsApplied
		if err := json.Unmarshal(data, &evt); err != nil {
			l.logger.Warn("Skipping undecodable audit record", logging.String("key", obj.Key), logging.Err(err))
			continue
		}
		out = append(out, evt)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}
