package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	domainbatch "github.com/turtacn/plankton-batchedit/internal/domain/batchedit"
	"github.com/turtacn/plankton-batchedit/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/plankton-batchedit/internal/testutil"
	"github.com/turtacn/plankton-batchedit/pkg/errors"
	"github.com/turtacn/plankton-batchedit/pkg/types/common"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Record(ctx context.Context, evt domainbatch.EditsApplied) error {
	return m.Called(ctx, evt).Error(0)
}

type countingObserver struct {
	mu     sync.Mutex
	ok     int
	failed int
}

func (c *countingObserver) RecordEventConsumed(_ string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed++
		return
	}
	c.ok++
}

func editsMessage(t *testing.T, eventType string) *common.Message {
	t.Helper()
	evt := domainbatch.EditsApplied{
		EventID:    "evt-1",
		EventType:  domainbatch.EventTypeEditsApplied,
		DatasetID:  "ds-1",
		SessionID:  "sess-1",
		Mode:       domainbatch.ModeLocal,
		Applied:    2,
		Kinds:      []string{"set_count"},
		OccurredAt: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	env, err := kafka.NewEventEnvelope(eventType, kafka.SourceService, evt)
	require.NoError(t, err)
	pm, err := env.ToMessage(kafka.TopicEditsApplied, evt.DatasetID)
	require.NoError(t, err)
	return &common.Message{Topic: pm.Topic, Key: pm.Key, Value: pm.Value, Headers: pm.Headers}
}

func TestAuditRecorder_RecordsEvent(t *testing.T) {
	sink := &mockSink{}
	obs := &countingObserver{}
	sink.On("Record", mock.Anything, mock.MatchedBy(func(e domainbatch.EditsApplied) bool {
		return e.EventID == "evt-1" && e.DatasetID == "ds-1" && e.Applied == 2
	})).Return(nil).Once()

	log := testutil.NewRecordingLogger()
	rec := newAuditRecorder(sink, obs, log)
	require.NoError(t, rec.Handle(context.Background(), editsMessage(t, domainbatch.EventTypeEditsApplied)))

	sink.AssertExpectations(t)
	assert.Equal(t, 1, obs.ok)
	assert.Zero(t, obs.failed)

	entry, ok := log.Find("info", "audited")
	require.True(t, ok)
	assert.Equal(t, "audit", entry.Logger)
	applied, _ := entry.Field("applied")
	assert.Equal(t, 2, applied)
}

func TestAuditRecorder_SinkFailureIsReturned(t *testing.T) {
	sink := &mockSink{}
	obs := &countingObserver{}
	sink.On("Record", mock.Anything, mock.Anything).
		Return(errors.New(errors.ErrCodeExternalService, "bucket gone")).Once()

	log := testutil.NewRecordingLogger()
	rec := newAuditRecorder(sink, obs, log)
	err := rec.Handle(context.Background(), editsMessage(t, domainbatch.EventTypeEditsApplied))
	assert.True(t, errors.IsCode(err, errors.ErrCodeExternalService))
	assert.Equal(t, 1, obs.failed)
	_, ok := log.Find("error", "Audit write failed")
	assert.True(t, ok)
}

func TestAuditRecorder_RejectsForeignEvents(t *testing.T) {
	sink := &mockSink{}
	log := testutil.NewRecordingLogger()
	rec := newAuditRecorder(sink, nil, log)

	assert.Error(t, rec.Handle(context.Background(), editsMessage(t, "dataset.deleted")))
	entry, ok := log.Find("warn", "Undecodable")
	require.True(t, ok)
	eventType, _ := entry.Field("event_type")
	assert.Equal(t, "dataset.deleted", eventType)

	assert.Error(t, rec.Handle(context.Background(), &common.Message{Topic: kafka.TopicEditsApplied, Value: []byte("{")}))
	sink.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}
