package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
	"github.com/turtacn/plankton-batchedit/pkg/types/common"
)

// Topics.
const (
	TopicEditsApplied        = "batchedit.edits.applied"
	TopicDeadLetterBatchEdit = "dead_letter.batchedit"
)

// SchemaVersion tags every envelope this service produces.
const SchemaVersion = "v1"

// EventEnvelope wraps every event payload on the wire.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	TraceID       string            `json:"trace_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEventEnvelope marshals payload into a fresh envelope.
func NewEventEnvelope(eventType, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the payload into target. An empty payload is an
// error.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeValidation, "envelope has no payload").WithDetail(e.EventID)
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode payload")
	}
	return nil
}

// ToMessage encodes the envelope for topic, keyed by key.
func (e *EventEnvelope) ToMessage(topic string, key string) (*common.ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	headers := map[string]string{
		"event_type":     e.EventType,
		"source_service": e.Source,
		"schema_version": e.SchemaVersion,
	}
	if e.TraceID != "" {
		headers["trace_id"] = e.TraceID
	}
	msg := &common.ProducerMessage{
		Topic:     topic,
		Value:     val,
		Headers:   headers,
		Timestamp: e.Timestamp,
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	return msg, nil
}

// MessageToEventEnvelope decodes a consumed message.
func MessageToEventEnvelope(msg *common.Message) (*EventEnvelope, error) {
	if msg == nil || len(msg.Value) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to unmarshal envelope")
	}
	return &env, nil
}

// TopicSpec describes a topic the worker makes sure exists.
type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
	CleanupPolicy     string
}

// DefaultTopics lists the topics of the batch-edit service. Events are keyed
// by dataset id, so per-dataset ordering holds on any partition count.
func DefaultTopics(replication int) []TopicSpec {
	if replication <= 0 {
		replication = 1
	}
	const day = int64(24 * time.Hour / time.Millisecond)
	return []TopicSpec{
		{Name: TopicEditsApplied, NumPartitions: 6, ReplicationFactor: replication, RetentionMs: 30 * day},
		{Name: TopicDeadLetterBatchEdit, NumPartitions: 1, ReplicationFactor: replication, RetentionMs: 90 * day},
	}
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates topics through a broker connection.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

// NewTopicManager dials the first broker.
func NewTopicManager(ctx context.Context, brokers []string, sec SecurityConfig, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	mech, err := sec.mechanism()
	if err != nil {
		return nil, err
	}
	dialer.SASLMechanism = mech
	if dialer.TLS, err = sec.tlsConfig(); err != nil {
		return nil, err
	}
	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalService, "failed to dial kafka")
	}
	return &TopicManager{conn: conn, logger: logger.Named("kafka_topics")}, nil
}

// CreateTopic creates spec unless it already exists.
func (m *TopicManager) CreateTopic(ctx context.Context, spec TopicSpec) error {
	if spec.Name == "" {
		return errors.New(errors.ErrCodeValidation, "topic name required")
	}
	if spec.NumPartitions <= 0 || spec.ReplicationFactor <= 0 {
		return errors.New(errors.ErrCodeValidation, "partitions and replication factor must be > 0").WithDetail(spec.Name)
	}
	if exists, _ := m.TopicExists(ctx, spec.Name); exists {
		return nil
	}

	kCfg := kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.NumPartitions,
		ReplicationFactor: spec.ReplicationFactor,
	}
	if spec.RetentionMs > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries,
			kafka.ConfigEntry{ConfigName: "retention.ms", ConfigValue: strconv.FormatInt(spec.RetentionMs, 10)})
	}
	if spec.CleanupPolicy != "" {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries,
			kafka.ConfigEntry{ConfigName: "cleanup.policy", ConfigValue: spec.CleanupPolicy})
	}
	if err := m.conn.CreateTopics(kCfg); err != nil {
		if stderrors.Is(err, kafka.TopicAlreadyExists) {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to create topic").WithDetail(spec.Name)
	}
	m.logger.Info("Topic created", logging.String("topic", spec.Name))
	return nil
}

// TopicExists reports whether the broker knows name.
func (m *TopicManager) TopicExists(_ context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		return false, nil
	}
	return len(partitions) > 0, nil
}

// EnsureTopics creates every missing topic in specs.
func (m *TopicManager) EnsureTopics(ctx context.Context, specs []TopicSpec) error {
	for _, spec := range specs {
		if err := m.CreateTopic(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the broker connection.
func (m *TopicManager) Close() error {
	return m.conn.Close()
}
