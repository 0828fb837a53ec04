package kafka

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/plankton-batchedit/pkg/types/common"
)

type mockKafkaWriter struct {
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	closed    int
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.writeFunc != nil {
		return m.writeFunc(ctx, msgs...)
	}
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.closed++
	return nil
}

func (m *mockKafkaWriter) Stats() kafka.WriterStats { return kafka.WriterStats{} }

// mockKafkaReader serves queued messages, then blocks until ctx ends.
type mockKafkaReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []kafka.Message
	closed    bool
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.fetchErrs) > 0 {
		err := m.fetchErrs[0]
		m.fetchErrs = m.fetchErrs[1:]
		m.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *mockKafkaReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockKafkaReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{} }

func (m *mockKafkaReader) committedOffsets() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, 0, len(m.committed))
	for _, c := range m.committed {
		out = append(out, c.Offset)
	}
	return out
}

// recordingPublisher captures published messages.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*common.ProducerMessage
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, msg *common.ProducerMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingPublisher) published() []*common.ProducerMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*common.ProducerMessage(nil), r.msgs...)
}

type mockKafkaConn struct {
	created    []kafka.TopicConfig
	existing   map[string]bool
	createErr  error
	closeCalls int
}

func (m *mockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, topics...)
	return nil
}

func (m *mockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	var out []kafka.Partition
	for _, t := range topics {
		if m.existing[t] {
			out = append(out, kafka.Partition{Topic: t})
		}
	}
	return out, nil
}

func (m *mockKafkaConn) Close() error {
	m.closeCalls++
	return nil
}
