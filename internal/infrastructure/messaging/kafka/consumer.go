package kafka

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/plankton-batchedit/internal/config"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
	"github.com/turtacn/plankton-batchedit/pkg/types/common"
)

var (
	ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")
	ErrNoHandlers     = errors.New(errors.ErrCodeValidation, "consumer has no handlers")
)

// RetryConfig defines how a failing handler is retried before the message
// is dead-lettered.
type RetryConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	DeadLetterTopic string
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers            []string
	GroupID            string
	Topics             []string
	AutoOffsetReset    string // "earliest" | "latest"
	CommitInterval     time.Duration
	SessionTimeout     time.Duration
	HeartbeatInterval  time.Duration
	MaxWait            time.Duration
	FetchMinBytes      int
	FetchMaxBytes      int
	Security           SecurityConfig
	RetryConfig        RetryConfig
	FetchErrorCooldown time.Duration
}

// ConsumerConfigFrom maps the service configuration onto a ConsumerConfig
// reading topics, dead-lettering to TopicDeadLetterBatchEdit.
func ConsumerConfigFrom(cfg config.KafkaConfig, topics ...string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topics:   topics,
		Security: securityFrom(cfg),
		RetryConfig: RetryConfig{
			MaxRetries:      cfg.MaxRetries,
			DeadLetterTopic: TopicDeadLetterBatchEdit,
		},
	}
}

// ConsumerMetrics holds consumer counters.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesProcessed    atomic.Int64
	MessagesFailed       atomic.Int64
	MessagesRetried      atomic.Int64
	MessagesDeadLettered atomic.Int64
	Lag                  atomic.Int64
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.ReaderStats
}

// Consumer dispatches fetched messages to per-topic handlers. A message is
// committed once its handler succeeds or it has been dead-lettered.
type Consumer struct {
	reader ReaderInterface
	config ConsumerConfig
	logger logging.Logger

	handlers map[string]common.MessageHandler
	mu       sync.RWMutex

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	deadLetter MessagePublisher
	closeDL    func() error
	metrics    *ConsumerMetrics
}

// NewConsumer creates a consumer-group reader and, when a dead-letter topic
// is configured, a producer for it.
func NewConsumer(cfg ConsumerConfig, logger logging.Logger) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	cfg = applyConsumerDefaults(cfg)

	readerCfg := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		GroupTopics:       cfg.Topics,
		MinBytes:          cfg.FetchMinBytes,
		MaxBytes:          cfg.FetchMaxBytes,
		MaxWait:           cfg.MaxWait,
		CommitInterval:    cfg.CommitInterval,
		SessionTimeout:    cfg.SessionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StartOffset:       kafka.FirstOffset,
		IsolationLevel:    kafka.ReadCommitted,
	}
	if cfg.AutoOffsetReset == "latest" {
		readerCfg.StartOffset = kafka.LastOffset
	}

	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	mech, err := cfg.Security.mechanism()
	if err != nil {
		return nil, err
	}
	dialer.SASLMechanism = mech
	if dialer.TLS, err = cfg.Security.tlsConfig(); err != nil {
		return nil, err
	}
	readerCfg.Dialer = dialer

	c := newConsumerWithReader(kafka.NewReader(readerCfg), cfg, logger)
	if cfg.RetryConfig.DeadLetterTopic != "" {
		dl, err := NewProducer(ProducerConfig{Brokers: cfg.Brokers, Acks: "all", Security: cfg.Security}, logger)
		if err != nil {
			_ = c.reader.Close()
			return nil, err
		}
		c.deadLetter = dl
		c.closeDL = dl.Close
	}
	return c, nil
}

func newConsumerWithReader(r ReaderInterface, cfg ConsumerConfig, logger logging.Logger) *Consumer {
	return &Consumer{
		reader:   r,
		config:   applyConsumerDefaults(cfg),
		logger:   logger.Named("kafka_consumer"),
		handlers: make(map[string]common.MessageHandler),
		metrics:  &ConsumerMetrics{},
	}
}

func applyConsumerDefaults(cfg ConsumerConfig) ConsumerConfig {
	if cfg.AutoOffsetReset == "" {
		cfg.AutoOffsetReset = "earliest"
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 10 * time.Second
	}
	if cfg.FetchMinBytes == 0 {
		cfg.FetchMinBytes = 1
	}
	if cfg.FetchMaxBytes == 0 {
		cfg.FetchMaxBytes = 10 * 1024 * 1024
	}
	if cfg.RetryConfig.MaxRetries == 0 {
		cfg.RetryConfig.MaxRetries = 3
	}
	if cfg.RetryConfig.RetryBackoff == 0 {
		cfg.RetryConfig.RetryBackoff = time.Second
	}
	if cfg.RetryConfig.MaxRetryBackoff == 0 {
		cfg.RetryConfig.MaxRetryBackoff = 30 * time.Second
	}
	if cfg.FetchErrorCooldown == 0 {
		cfg.FetchErrorCooldown = time.Second
	}
	return cfg
}

// Subscribe registers handler for topic, replacing any previous one.
func (c *Consumer) Subscribe(topic string, handler common.MessageHandler) error {
	if topic == "" || handler == nil {
		return errors.New(errors.ErrCodeValidation, "topic and handler required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	c.logger.Info("Subscribed to topic", logging.String("topic", topic))
	return nil
}

// Start launches the fetch loop. It returns immediately.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.RLock()
	n := len(c.handlers)
	c.mu.RUnlock()
	if n == 0 {
		return ErrNoHandlers
	}
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.Info("Kafka consumer started", logging.String("group", c.config.GroupID))
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for ctx.Err() == nil {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("FetchMessage error", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.config.FetchErrorCooldown):
			}
			continue
		}

		c.metrics.MessagesConsumed.Add(1)
		if m.HighWaterMark > 0 {
			c.metrics.Lag.Store(m.HighWaterMark - m.Offset - 1)
		}

		msg := fromKafkaMessage(m)
		c.mu.RLock()
		handler, ok := c.handlers[m.Topic]
		c.mu.RUnlock()

		if !ok {
			c.logger.Warn("No handler for topic", logging.String("topic", m.Topic))
		} else if err := c.processMessage(ctx, msg, handler); err != nil {
			// Context ended mid-retry; leave the offset for the next member.
			return
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("CommitMessages failed", logging.Err(err), logging.Int64("offset", m.Offset))
		}
	}
}

func fromKafkaMessage(m kafka.Message) *common.Message {
	msg := &common.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Time,
		Headers:   make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

// processMessage runs handler with exponential backoff. Exhausted messages
// go to the dead-letter topic. It returns an error only when ctx ends.
func (c *Consumer) processMessage(ctx context.Context, msg *common.Message, handler common.MessageHandler) error {
	err := handler(ctx, msg)
	if err == nil {
		c.metrics.MessagesProcessed.Add(1)
		return nil
	}

	rc := c.config.RetryConfig
	backoff := rc.RetryBackoff
	for i := 0; i < rc.MaxRetries; i++ {
		c.metrics.MessagesRetried.Add(1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		if err = handler(ctx, msg); err == nil {
			c.metrics.MessagesProcessed.Add(1)
			return nil
		}
		backoff *= 2
		if backoff > rc.MaxRetryBackoff {
			backoff = rc.MaxRetryBackoff
		}
	}

	c.metrics.MessagesFailed.Add(1)
	c.logger.Error("Message processing failed after retries",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Err(err))

	if c.deadLetter == nil || rc.DeadLetterTopic == "" {
		return nil
	}
	headers := make(map[string]string, len(msg.Headers)+2)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers["original_topic"] = msg.Topic
	headers["error_message"] = err.Error()
	dl := &common.ProducerMessage{
		Topic:   rc.DeadLetterTopic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if dlErr := c.deadLetter.Publish(ctx, dl); dlErr != nil {
		c.logger.Error("Failed to send to dead letter topic", logging.Err(dlErr))
		return nil
	}
	c.metrics.MessagesDeadLettered.Add(1)
	return nil
}

// Stats returns a copy of the counters.
func (c *Consumer) Stats() map[string]int64 {
	return map[string]int64{
		"consumed":      c.metrics.MessagesConsumed.Load(),
		"processed":     c.metrics.MessagesProcessed.Load(),
		"failed":        c.metrics.MessagesFailed.Load(),
		"retried":       c.metrics.MessagesRetried.Load(),
		"dead_lettered": c.metrics.MessagesDeadLettered.Load(),
		"lag":           c.metrics.Lag.Load(),
	}
}

// Close stops the loop and closes the reader and the dead-letter producer.
func (c *Consumer) Close() error {
	if c.running.CompareAndSwap(true, false) {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	}

	var firstErr error
	if c.reader != nil {
		firstErr = c.reader.Close()
		c.reader = nil
	}
	if c.closeDL != nil {
		if err := c.closeDL(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.closeDL = nil
	}
	c.logger.Info("Kafka consumer closed", logging.Int64("consumed", c.metrics.MessagesConsumed.Load()))
	return firstErr
}

// ValidateConsumerConfig validates configuration.
func ValidateConsumerConfig(cfg ConsumerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if cfg.GroupID == "" {
		return errors.New(errors.ErrCodeValidation, "group id required")
	}
	if len(cfg.Topics) == 0 {
		return errors.New(errors.ErrCodeValidation, "at least one topic required")
	}
	if cfg.AutoOffsetReset != "" && cfg.AutoOffsetReset != "earliest" && cfg.AutoOffsetReset != "latest" {
		return errors.New(errors.ErrCodeValidation, "invalid auto offset reset").WithDetail(cfg.AutoOffsetReset)
	}
	if cfg.RetryConfig.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "max retries must be >= 0")
	}
	return cfg.Security.validate()
}
