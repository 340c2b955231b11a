package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/advstats"
	"github.com/Ramsey-B/clover/pkg/catalog"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
)

type recordingWriter struct {
	messages []kafkago.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func newTestEmitter() (*Emitter, *recordingWriter) {
	writer := &recordingWriter{}
	producer := kafka.NewProducerWithWriter(writer, "clover.changes", logging.NewTestLogger())
	return NewEmitter(producer, logging.NewTestLogger()), writer
}

func header(msg kafkago.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestEmitProductChanges(t *testing.T) {
	emitter, writer := newTestEmitter()
	ctx := appctx.SetRunID(context.Background(), "run-1")

	report := &catalog.ReconcileReport{Entities: []*catalog.EntityOutcome{
		{NmID: 100, ProductID: uuid.New(), Product: models.OutcomeInserted},
		{NmID: 200, ProductID: uuid.New(), Product: models.OutcomeUnchanged},
		{NmID: 300, ProductID: uuid.New(), Product: models.OutcomeUpdated},
		{NmID: 400, Product: models.OutcomeFailed},
	}}

	n, err := emitter.EmitProductChanges(ctx, report)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, writer.messages, 2)

	assert.Equal(t, "100", string(writer.messages[0].Key))
	assert.Equal(t, ProductCreated, header(writer.messages[0], "event_type"))
	assert.Equal(t, ProductUpdated, header(writer.messages[1], "event_type"))
	assert.Equal(t, "clover.changes", writer.messages[0].Topic)

	var event kafka.Event
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &event))
	assert.Equal(t, "run-1", event.RunID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestEmitAdvParamsChanged(t *testing.T) {
	emitter, writer := newTestEmitter()
	date := time.Date(2025, 9, 28, 0, 0, 0, 0, time.UTC)

	n, err := emitter.EmitAdvParamsChanged(context.Background(), []advstats.ChangedParam{
		{Param: models.AdvParam{NmID: 100, Date: date, Views: 10}, Inserted: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, writer.messages, 1)
	assert.Equal(t, "100:2025-09-28", string(writer.messages[0].Key))
	assert.Equal(t, AdvParamsChanged, header(writer.messages[0], "event_type"))

	n, err = emitter.EmitAdvParamsChanged(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, writer.messages, 1, "no changes, no events")
}

func TestEmitter_WithoutPublisherIsNoop(t *testing.T) {
	emitter := NewEmitter(nil, logging.NewTestLogger())

	n, err := emitter.EmitAdvParamsChanged(context.Background(), []advstats.ChangedParam{{}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEmitter_PublishFailure(t *testing.T) {
	emitter, writer := newTestEmitter()
	writer.err = errors.New("broker down")

	_, err := emitter.EmitAdvParamsChanged(context.Background(), []advstats.ChangedParam{{Param: models.AdvParam{NmID: 1}}})
	assert.Error(t, err)
}
