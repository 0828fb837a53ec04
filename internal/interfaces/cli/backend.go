package cli

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"

	appbatch "github.com/turtacn/plankton-batchedit/internal/application/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/bootstrap"
	"github.com/turtacn/plankton-batchedit/internal/config"
	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/client"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// Backend is what the dataset and edit commands need. Results use the SDK
// types in both modes so rendering does not depend on where a command ran.
type Backend interface {
	ListDatasets(ctx context.Context, page, pageSize int) (*client.DatasetList, error)
	GetDataset(ctx context.Context, id string) (*client.Dataset, error)
	CreateDataset(ctx context.Context, req *client.CreateDatasetRequest) (*client.Dataset, error)
	PutDataset(ctx context.Context, d *client.Dataset) (*client.Dataset, error)
	DeleteDataset(ctx context.Context, id string) error
	SnapshotDataset(ctx context.Context, id, reason string) (*client.Snapshot, error)

	StartSession(ctx context.Context, req *client.StartSessionRequest) (*client.Session, error)
	ResolveCorrection(ctx context.Context, sessionID string, d *client.CorrectionDecision) (*client.Session, error)
	Apply(ctx context.Context, sessionID string, opts *client.ApplyOptions) (*client.ApplyResult, error)
	CloseSession(ctx context.Context, sessionID string) error
	Settings(ctx context.Context) (*client.Settings, error)
}

// withBackend runs fn with the selected backend and releases it afterwards.
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, b Backend) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	defer cliCtx.close()
	ctx, cancel := commandContext(cmd)
	defer cancel()
	return fn(ctx, cliCtx.Backend())
}

// withRuntime runs fn against the in-process runtime. Commands that manage
// storage adapters directly cannot run against a remote server.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *bootstrap.Runtime) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	if cliCtx.Client != nil {
		return errors.InvalidParam("command is not available with --server").WithDetail(cmd.CommandPath())
	}
	defer cliCtx.close()
	ctx, cancel := commandContext(cmd)
	defer cancel()
	rt, err := cliCtx.localBackend().runtime(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, rt)
}

// remoteBackend forwards to the REST API.
type remoteBackend struct {
	client *client.Client
}

func (r *remoteBackend) ListDatasets(ctx context.Context, page, pageSize int) (*client.DatasetList, error) {
	return r.client.Datasets().List(ctx, page, pageSize)
}

func (r *remoteBackend) GetDataset(ctx context.Context, id string) (*client.Dataset, error) {
	return r.client.Datasets().Get(ctx, id)
}

func (r *remoteBackend) CreateDataset(ctx context.Context, req *client.CreateDatasetRequest) (*client.Dataset, error) {
	return r.client.Datasets().Create(ctx, req)
}

func (r *remoteBackend) PutDataset(ctx context.Context, d *client.Dataset) (*client.Dataset, error) {
	return r.client.Datasets().Replace(ctx, d.ID, d)
}

func (r *remoteBackend) DeleteDataset(ctx context.Context, id string) error {
	return r.client.Datasets().Delete(ctx, id)
}

func (r *remoteBackend) SnapshotDataset(ctx context.Context, id, reason string) (*client.Snapshot, error) {
	return r.client.Datasets().Snapshot(ctx, id, reason)
}

func (r *remoteBackend) StartSession(ctx context.Context, req *client.StartSessionRequest) (*client.Session, error) {
	return r.client.Sessions().Start(ctx, req)
}

func (r *remoteBackend) ResolveCorrection(ctx context.Context, sessionID string, d *client.CorrectionDecision) (*client.Session, error) {
	return r.client.Sessions().ResolveCorrection(ctx, sessionID, d)
}

func (r *remoteBackend) Apply(ctx context.Context, sessionID string, opts *client.ApplyOptions) (*client.ApplyResult, error) {
	return r.client.Sessions().Apply(ctx, sessionID, opts)
}

func (r *remoteBackend) CloseSession(ctx context.Context, sessionID string) error {
	return r.client.Sessions().Close(ctx, sessionID)
}

func (r *remoteBackend) Settings(ctx context.Context) (*client.Settings, error) {
	return r.client.Sessions().Settings(ctx)
}

// localBackend opens the runtime on first use.
type localBackend struct {
	cfg    *config.Config
	logger logging.Logger
	rt     *bootstrap.Runtime
}

func (l *localBackend) runtime(ctx context.Context) (*bootstrap.Runtime, error) {
	if l.rt != nil {
		return l.rt, nil
	}
	// The CLI never serves metrics.
	cfg := *l.cfg
	cfg.Metrics.Enabled = false
	rt, err := bootstrap.New(ctx, &cfg, l.logger, bootstrap.Options{})
	if err != nil {
		return nil, err
	}
	l.rt = rt
	return rt, nil
}

// Close releases the runtime.
func (l *localBackend) Close() error {
	if l.rt == nil {
		return nil
	}
	err := l.rt.Close()
	l.rt = nil
	return err
}

// convert re-reads v as T through its JSON form. The SDK types mirror the
// wire format of the service types.
func convert[T any](v interface{}) (*T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode result")
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode result")
	}
	return &out, nil
}

func (l *localBackend) ListDatasets(ctx context.Context, page, pageSize int) (*client.DatasetList, error) {
	rt, err := l.runtime(ctx)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	items, total, err := rt.Datasets.List(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	list, err := convert[[]client.DatasetSummary](items)
	if err != nil {
		return nil, err
	}
	return &client.DatasetList{Items: *list, Total: total, Page: page, PageSize: pageSize}, nil
}

func (l *localBackend) GetDataset(ctx context.Context, id string) (*client.Dataset, error) {
	rt, err := l.runtime(ctx)
	if err != nil {
		return nil, err
	}
	d, err := rt.Datasets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert[client.Dataset](d)
}

func (l *localBackend) CreateDataset(ctx context.Context, req *client.CreateDatasetRequest) (*client.Dataset, error) {
	rt, err := l.runtime(ctx)
	if err != nil {
		return nil, err
	}
	vol := rt.Service.Settings().DefaultVOrigL
	if req.DefaultVOrigL != nil {
		if *req.DefaultVOrigL < 0 {
			return nil, errors.InvalidParam("defaultVOrigL must not be negative")
		}
		vol = *req.DefaultVOrigL
	}
	d := dataset.NewDataset(strings.TrimSpace(req.TitlePrefix), vol)
	if err := rt.Datasets.Save(ctx, d); err != nil {
		return nil, err
	}
	return convert[client.Dataset](d)
}

// PutDataset creates or replaces d. Snapshots stay read-only and an
// existing dataset keeps its creation time.
func (l *localBackend) PutDataset(ctx context.Context, in *client.Dataset) (*client.Dataset, error) {
	rt, err := l.runtime(ctx)
	if err != nil {
		return nil, err
	}
	d, err := convert[dataset.Dataset](in)
	if err != nil {
		return nil, err
	}
	if d.ID == "" {
		d.ID = dataset.NewID()
	}
	now := time.Now().UTC()
	existing, err := rt.Datasets.Get(ctx, d.ID)
	switch {
	case err == nil:
		if existing.ReadOnly {
			return nil, errors.New(errors.ErrCodeDatasetReadOnly, "dataset is a read-only snapshot").WithDetail(d.ID)
		}
		d.CreatedAt = existing.CreatedAt
		d.ReadOnly = false
		d.SnapshotAt = nil
		d.SnapshotSourceID = ""
	case errors.IsCode(err, errors.ErrCodeDatasetNotFound):
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
	default:
		return nil, err
	}
	if d.Species == nil {
		d.Species = []dataset.Species{}
	}
	d.UpdatedAt = now
	if err := rt.Datasets.Save(ctx, d); err != nil {
		return nil, err
	}
	return convert[client.Dataset](d)
}

func (l *localBackend) DeleteDataset(ctx context.Context, id string) error {
	rt, err := l.runtime(ctx)
	if err != nil {
		return err
	}
	return rt.Datasets.Delete(ctx, id)
}

// SnapshotDataset archives to object storage when configured and to a
// read-only dataset copy otherwise.
func (l *localBackend) SnapshotDataset(ctx context.Context, id, reason string) (*client.Snapshot, error) {
	rt, err := l.runtime(ctx)
	if err != nil {
		return nil, err
	}
	d, err := rt.Datasets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = "手动快照"
	}
	var archiver appbatch.SnapshotArchiver = appbatch.NewStoreArchiver(rt.Datasets)
	if rt.Snapshots != nil {
		archiver = rt.Snapshots
	}
	key, err := archiver.Archive(ctx, d, reason)
	if err != nil {
		return nil, err
	}
	return &client.Snapshot{DatasetID: d.ID, Key: key}, nil
}

func (l *localBackend) StartSession(ctx context.Context, req *client.StartSessionRequest) (*client.Session, error) {
	rt, err := l.runtime(ctx)
	if err != nil {
		return nil, err
	}
	view, err := rt.Service.StartSession(ctx, &appbatch.StartRequest{
		DatasetID:     req.DatasetID,
		ActivePointID: req.ActivePointID,
		Input:         req.Input,
		BulkJSON:      req.BulkJSON,
		Mode:          req.Mode,
		Template:      req.Template,
	})
	if err != nil {
		return nil, err
	}
	return convert[client.Session](view)
}

func (l *localBackend) ResolveCorrection(ctx context.Context, sessionID string, d *client.CorrectionDecision) (*client.Session, error) {
	rt, err := l.runtime(ctx)
	if err != nil {
		return nil, err
	}
	view, err := rt.Service.ResolveCorrection(ctx, sessionID, &appbatch.CorrectionDecision{
		Kind:       domainbatch.CorrectionKind(d.Kind),
		Raw:        d.Raw,
		Adopt:      d.Adopt,
		Suggestion: d.Suggestion,
	})
	if err != nil {
		return nil, err
	}
	return convert[client.Session](view)
}

func (l *localBackend) Apply(ctx context.Context, sessionID string, opts *client.ApplyOptions) (*client.ApplyResult, error) {
	rt, err := l.runtime(ctx)
	if err != nil {
		return nil, err
	}
	res, err := rt.Service.Apply(ctx, sessionID, &appbatch.ApplyOptions{ConfirmDelete: opts != nil && opts.ConfirmDelete})
	if err != nil {
		return nil, err
	}
	return convert[client.ApplyResult](res)
}

func (l *localBackend) CloseSession(ctx context.Context, sessionID string) error {
	rt, err := l.runtime(ctx)
	if err != nil {
		return err
	}
	return rt.Service.CloseSession(ctx, sessionID)
}

func (l *localBackend) Settings(ctx context.Context) (*client.Settings, error) {
	rt, err := l.runtime(ctx)
	if err != nil {
		return nil, err
	}
	s := rt.Service.Settings()
	return &client.Settings{
		RequireConfirm:     s.RequireConfirm,
		AutoCorrect:        s.AutoCorrect,
		DefaultVOrigL:      s.DefaultVOrigL,
		AutoMatchWriteToDb: s.AutoMatchWriteToDb,
		DefaultMode:        string(rt.Service.DefaultMode()),
	}, nil
}
