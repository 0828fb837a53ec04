package main

import (
	"context"

	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/types/common"
)

// auditSink stores committed batch edits.
type auditSink interface {
	Record(ctx context.Context, evt domainbatch.EditsApplied) error
}

// consumeObserver counts consumed events per topic.
type consumeObserver interface {
	RecordEventConsumed(topic string, err error)
}

// auditRecorder writes every edits-applied event to the audit sink.
type auditRecorder struct {
	sink     auditSink
	observer consumeObserver
	logger   logging.Logger
}

func newAuditRecorder(sink auditSink, observer consumeObserver, logger logging.Logger) *auditRecorder {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &auditRecorder{sink: sink, observer: observer, logger: logger.Named("audit")}
}

// Handle is the consumer callback. A failed decode or write is returned so
// the consumer retries and finally dead-letters the message.
func (a *auditRecorder) Handle(ctx context.Context, msg *common.Message) (err error) {
	defer func() {
		if a.observer != nil {
			a.observer.RecordEventConsumed(msg.Topic, err)
		}
	}()

	evt, err := kafka.DecodeEditsApplied(msg)
	if err != nil {
		a.logger.Warn("Undecodable edits-applied event",
			logging.String("topic", msg.Topic),
			logging.String("event_type", msg.Header("event_type")),
			logging.Int64("offset", msg.Offset),
			logging.Err(err))
		return err
	}
	if err := a.sink.Record(ctx, *evt); err != nil {
		a.logger.Error("Audit write failed",
			logging.DatasetID(evt.DatasetID), logging.String("event_id", evt.EventID), logging.Err(err))
		return err
	}
	a.logger.Info("Batch edit audited",
		logging.DatasetID(evt.DatasetID),
		logging.SessionID(evt.SessionID),
		logging.Int("applied", evt.Applied),
	)
	return nil
}
