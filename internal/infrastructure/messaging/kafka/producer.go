// Package kafka publishes batch-edit events to Kafka and consumes them in the
// audit worker.
package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/plankton-batchedit/internal/config"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
	"github.com/turtacn/plankton-batchedit/pkg/types/common"
)

var (
	ErrProducerClosed = errors.New(errors.ErrCodeInternal, "producer closed")
	ErrPublishFailed  = errors.New(errors.ErrCodeExternalService, "publish failed")
)

// ProducerConfig holds configuration for the Producer.
type ProducerConfig struct {
	Brokers          []string
	Acks             string // "none" | "one" | "all"
	MaxRetries       int
	BatchSize        int
	BatchTimeout     time.Duration
	MaxMessageBytes  int
	CompressionCodec string
	WriteTimeout     time.Duration
	Security         SecurityConfig
}

// ProducerConfigFrom maps the service configuration onto a ProducerConfig.
// Events are acknowledged by all in-sync replicas.
func ProducerConfigFrom(cfg config.KafkaConfig) ProducerConfig {
	return ProducerConfig{
		Brokers:      cfg.Brokers,
		Acks:         "all",
		MaxRetries:   cfg.MaxRetries,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Security:     securityFrom(cfg),
	}
}

// TopicManagerFrom connects a TopicManager using the service configuration.
func TopicManagerFrom(ctx context.Context, cfg config.KafkaConfig, logger logging.Logger) (*TopicManager, error) {
	return NewTopicManager(ctx, cfg.Brokers, securityFrom(cfg), logger)
}

func securityFrom(cfg config.KafkaConfig) SecurityConfig {
	return SecurityConfig{
		SASLMechanism: cfg.SASLMechanism,
		SASLUsername:  cfg.SASLUsername,
		SASLPassword:  cfg.SASLPassword,
		TLSEnabled:    cfg.TLSEnabled,
		TLSCAPath:     cfg.TLSCAPath,
	}
}

// ProducerMetrics holds producer counters.
type ProducerMetrics struct {
	MessagesSent   atomic.Int64
	MessagesFailed atomic.Int64
	BytesSent      atomic.Int64
	LastLatencyMs  atomic.Int64
}

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.WriterStats
}

// Producer writes messages through a kafka.Writer.
type Producer struct {
	writer  WriterInterface
	config  ProducerConfig
	logger  logging.Logger
	closed  atomic.Bool
	metrics *ProducerMetrics
}

// NewProducer creates a new Producer.
func NewProducer(cfg ProducerConfig, logger logging.Logger) (*Producer, error) {
	if err := ValidateProducerConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg = applyProducerDefaults(cfg)

	transport := &kafka.Transport{DialTimeout: 10 * time.Second}
	mech, err := cfg.Security.mechanism()
	if err != nil {
		return nil, err
	}
	transport.SASL = mech
	tlsCfg, err := cfg.Security.tlsConfig()
	if err != nil {
		return nil, err
	}
	transport.TLS = tlsCfg

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		MaxAttempts:  cfg.MaxRetries + 1,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		BatchBytes:   int64(cfg.MaxMessageBytes),
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: requiredAcks(cfg.Acks),
		Compression:  compression(cfg.CompressionCodec),
		Transport:    transport,
	}
	return newProducerWithWriter(writer, cfg, logger), nil
}

func newProducerWithWriter(w WriterInterface, cfg ProducerConfig, logger logging.Logger) *Producer {
	return &Producer{
		writer:  w,
		config:  applyProducerDefaults(cfg),
		logger:  logger.Named("kafka_producer"),
		metrics: &ProducerMetrics{},
	}
}

func applyProducerDefaults(cfg ProducerConfig) ProducerConfig {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = 1024 * 1024
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return cfg
}

func requiredAcks(acks string) kafka.RequiredAcks {
	switch acks {
	case "none":
		return kafka.RequireNone
	case "all":
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}

func compression(codec string) kafka.Compression {
	switch codec {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

// Publish writes a single message and waits for the broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, msg *common.ProducerMessage) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if err := p.checkMessage(msg); err != nil {
		return err
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, p.toKafkaMessage(msg)); err != nil {
		p.metrics.MessagesFailed.Add(1)
		return ErrPublishFailed.WithCause(err).WithDetail(msg.Topic)
	}
	latency := time.Since(start).Milliseconds()

	p.metrics.MessagesSent.Add(1)
	p.metrics.BytesSent.Add(int64(len(msg.Value)))
	p.metrics.LastLatencyMs.Store(latency)

	p.logger.Debug("Message published",
		logging.String("topic", msg.Topic),
		logging.Int64("latency_ms", latency))
	return nil
}

// PublishBatch writes msgs in one call. Per-message failures are reported in
// the result; the returned error is reserved for misuse.
func (p *Producer) PublishBatch(ctx context.Context, msgs []*common.ProducerMessage) (*common.BatchPublishResult, error) {
	if p.closed.Load() {
		return nil, ErrProducerClosed
	}
	if len(msgs) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "messages empty")
	}

	kMsgs := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		if err := p.checkMessage(msg); err != nil {
			return nil, err
		}
		kMsgs[i] = p.toKafkaMessage(msg)
	}

	result := &common.BatchPublishResult{}
	err := p.writer.WriteMessages(ctx, kMsgs...)
	switch werrs := err.(type) {
	case nil:
		result.Succeeded = len(msgs)
	case kafka.WriteErrors:
		for i, we := range werrs {
			if we == nil {
				result.Succeeded++
				continue
			}
			result.Failed++
			result.Errors = append(result.Errors, common.BatchItemError{Index: i, Topic: msgs[i].Topic, Error: we})
		}
	default:
		result.Failed = len(msgs)
		result.Errors = append(result.Errors, common.BatchItemError{Index: -1, Error: err})
	}

	p.metrics.MessagesSent.Add(int64(result.Succeeded))
	p.metrics.MessagesFailed.Add(int64(result.Failed))
	p.logger.Info("Batch published",
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

// Sent returns the number of acknowledged messages.
func (p *Producer) Sent() int64 { return p.metrics.MessagesSent.Load() }

// Failed returns the number of messages the writer rejected.
func (p *Producer) Failed() int64 { return p.metrics.MessagesFailed.Load() }

// Close flushes and closes the writer. Subsequent calls are no-ops.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.Info("Kafka producer closed", logging.Int64("sent", p.metrics.MessagesSent.Load()))
	return err
}

func (p *Producer) checkMessage(msg *common.ProducerMessage) error {
	switch {
	case msg == nil:
		return errors.New(errors.ErrCodeValidation, "message required")
	case msg.Topic == "":
		return errors.New(errors.ErrCodeValidation, "topic required")
	case len(msg.Value) == 0:
		return errors.New(errors.ErrCodeValidation, "value required")
	case len(msg.Value) > p.config.MaxMessageBytes:
		return errors.New(errors.ErrCodeValidation, "message too large").WithDetail(msg.Topic)
	}
	return nil
}

func (p *Producer) toKafkaMessage(msg *common.ProducerMessage) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return kafka.Message{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Time:      ts,
		Partition: msg.Partition,
	}
}

// ValidateProducerConfig checks the settings NewProducer cannot default.
func ValidateProducerConfig(cfg ProducerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if cfg.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "max retries must be >= 0")
	}
	return cfg.Security.validate()
}
