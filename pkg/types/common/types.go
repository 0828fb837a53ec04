// Package common holds value types shared by the messaging and storage
// layers.
package common

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ID is a string alias for UUID v4.
type ID string

// NewID generates a new UUID v4.
func NewID() ID {
	return ID(uuid.New().String())
}

// Validate checks if the ID is a valid UUID.
func (id ID) Validate() error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if _, err := uuid.Parse(string(id)); err != nil {
		return fmt.Errorf("invalid ID format: %w", err)
	}
	return nil
}

func (id ID) String() string {
	return string(id)
}

// ProducerMessage is a transport-neutral outgoing message.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int
	Timestamp time.Time
}

// Message is a transport-neutral consumed message.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Header returns the value of header key, or "" when absent.
func (m *Message) Header(key string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// MessageHandler processes one consumed message.
type MessageHandler func(ctx context.Context, msg *Message) error

// BatchItemError records the failure of one message in a batch publish.
// Index is -1 when the whole batch failed.
type BatchItemError struct {
	Index int
	Topic string
	Error error
}

// BatchPublishResult summarizes a batch publish.
type BatchPublishResult struct {
	Succeeded int
	Failed    int
	Errors    []BatchItemError
}
