package batchedit

import (
	"context"
	"time"

	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/domain/dataset"
)

// Locker serializes commits per dataset. The returned func releases the
// lock.
type Locker interface {
	Acquire(ctx context.Context, datasetID string) (func(context.Context) error, error)
}

// SnapshotArchiver stores a copy of a dataset before it is overwritten and
// returns the object key.
type SnapshotArchiver interface {
	Archive(ctx context.Context, d *dataset.Dataset, reason string) (string, error)
}

// EventPublisher announces committed batches.
type EventPublisher interface {
	PublishEditsApplied(ctx context.Context, evt domainbatch.EditsApplied) error
}

// Metrics receives batch-edit observations.
type Metrics interface {
	RecordSessionStarted(mode string)
	RecordParse(requested, used string, warnings int)
	RecordPreview(lines []domainbatch.PreviewLine, pending, corrections int)
	RecordApply(outcome string, applied, failed int, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordSessionStarted(string)                       {}
func (noopMetrics) RecordParse(string, string, int)                   {}
func (noopMetrics) RecordPreview([]domainbatch.PreviewLine, int, int) {}
func (noopMetrics) RecordApply(string, int, int, time.Duration)       {}

// Apply outcomes reported to Metrics.
const (
	OutcomeApplied = "applied"
	OutcomePartial = "partial"
	OutcomeEmpty   = "empty"
	OutcomeBlocked = "blocked"
	OutcomeFailed  = "failed"
)
