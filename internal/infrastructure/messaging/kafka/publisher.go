package kafka

import (
	"context"

	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
	"github.com/turtacn/plankton-batchedit/pkg/types/common"
)

// SourceService names this service in envelopes.
const SourceService = "plankton-batchedit"

// MessagePublisher is the subset of Producer the event publisher needs.
type MessagePublisher interface {
	Publish(ctx context.Context, msg *common.ProducerMessage) error
}

// EditsPublisher publishes committed batch edits on TopicEditsApplied.
type EditsPublisher struct {
	producer MessagePublisher
	topic    string
	logger   logging.Logger
}

// NewEditsPublisher wraps producer. An empty topic selects TopicEditsApplied.
func NewEditsPublisher(producer MessagePublisher, topic string, logger logging.Logger) *EditsPublisher {
	if topic == "" {
		topic = TopicEditsApplied
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EditsPublisher{producer: producer, topic: topic, logger: logger.Named("edits_publisher")}
}

// PublishEditsApplied sends evt keyed by its dataset id. The envelope reuses
// the event id so consumers can deduplicate redeliveries.
func (p *EditsPublisher) PublishEditsApplied(ctx context.Context, evt domainbatch.EditsApplied) error {
	if evt.DatasetID == "" {
		return errors.InvalidParam("event has no dataset id")
	}
	env, err := NewEventEnvelope(domainbatch.EventTypeEditsApplied, SourceService, evt)
	if err != nil {
		return err
	}
	if evt.EventID != "" {
		env.EventID = evt.EventID
	}
	if !evt.OccurredAt.IsZero() {
		env.Timestamp = evt.OccurredAt.UTC()
	}
	env.Metadata = map[string]string{"session_id": evt.SessionID, "mode": string(evt.Mode)}

	msg, err := env.ToMessage(p.topic, evt.DatasetID)
	if err != nil {
		return err
	}
	if err := p.producer.Publish(ctx, msg); err != nil {
		p.logger.Warn("Failed to publish edits-applied event",
			logging.DatasetID(evt.DatasetID), logging.SessionID(evt.SessionID), logging.Err(err))
		return err
	}
	return nil
}

// DecodeEditsApplied extracts the event from a consumed message.
func DecodeEditsApplied(msg *common.Message) (*domainbatch.EditsApplied, error) {
	env, err := MessageToEventEnvelope(msg)
	if err != nil {
		return nil, err
	}
	if env.EventType != domainbatch.EventTypeEditsApplied {
		return nil, errors.New(errors.ErrCodeValidation, "unexpected event type").WithDetail(env.EventType)
	}
	var evt domainbatch.EditsApplied
	if err := env.DecodePayload(&evt); err != nil {
		return nil, err
	}
	if evt.EventID == "" {
		evt.EventID = env.EventID
	}
	return &evt, nil
}
