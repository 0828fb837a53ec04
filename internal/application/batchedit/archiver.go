package batchedit

import (
	"context"
	"time"

	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
)

// StoreArchiver keeps pre-commit snapshots as read-only datasets in the
// dataset store itself. It is used when no object storage is configured.
type StoreArchiver struct {
	repo dataset.Repository
	now  func() time.Time
}

// NewStoreArchiver returns an archiver saving into repo.
func NewStoreArchiver(repo dataset.Repository) *StoreArchiver {
	return &StoreArchiver{repo: repo, now: time.Now}
}

// Archive saves a snapshot copy of d and returns "dataset:<snapshot id>".
func (a *StoreArchiver) Archive(ctx context.Context, d *dataset.Dataset, reason string) (string, error) {
	if d == nil {
		return "", errors.InvalidParam("dataset is required")
	}
	snap := dataset.NewSnapshot(d, reason, a.now())
	if err := a.repo.Save(ctx, snap); err != nil {
		return "", err
	}
	return "dataset:" + snap.ID, nil
}
