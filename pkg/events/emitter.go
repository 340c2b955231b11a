// Package events publishes catalog and adv params change events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/advstats"
	"github.com/Ramsey-B/clover/pkg/catalog"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	ProductCreated   = "product.created"
	ProductUpdated   = "product.updated"
	AdvParamsChanged = "adv_params.changed"
)

// Publisher is what the emitter needs from the kafka producer.
type Publisher interface {
	PublishEvents(ctx context.Context, events []*kafka.Event) error
}

// Emitter turns run results into change events. A nil publisher makes it a no-op.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

type productChange struct {
	NmID      int64  `json:"nm_id"`
	ProductID string `json:"product_id"`
	Outcome   string `json:"outcome"`
}

// EmitProductChanges publishes one event per product that was inserted or updated.
func (e *Emitter) EmitProductChanges(ctx context.Context, report *catalog.ReconcileReport) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitProductChanges")
	defer span.End()

	if e.publisher == nil || report == nil {
		return 0, nil
	}

	var batch []*kafka.Event
	for _, o := range report.Entities {
		var eventType string
		switch o.Product {
		case models.OutcomeInserted:
			eventType = ProductCreated
		case models.OutcomeUpdated:
			eventType = ProductUpdated
		default:
			continue
		}

		data, err := json.Marshal(productChange{NmID: o.NmID, ProductID: o.ProductID.String(), Outcome: string(o.Product)})
		if err != nil {
			return 0, err
		}
		batch = append(batch, e.event(ctx, eventType, "product", fmt.Sprintf("%d", o.NmID), data))
	}

	return e.publish(ctx, batch)
}

// EmitAdvParamsChanged publishes one event per adv params row that was inserted or
// had a tracked field change. Idempotent re-runs produce no changes and no events.
func (e *Emitter) EmitAdvParamsChanged(ctx context.Context, changes []advstats.ChangedParam) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitAdvParamsChanged")
	defer span.End()

	if e.publisher == nil {
		return 0, nil
	}

	batch := make([]*kafka.Event, 0, len(changes))
	for _, change := range changes {
		data, err := json.Marshal(change)
		if err != nil {
			return 0, err
		}
		key := fmt.Sprintf("%d:%s", change.Param.NmID, change.Param.Date.Format(time.DateOnly))
		batch = append(batch, e.event(ctx, AdvParamsChanged, "adv_params", key, data))
	}

	return e.publish(ctx, batch)
}

func (e *Emitter) event(ctx context.Context, eventType, entityType, key string, data json.RawMessage) *kafka.Event {
	return &kafka.Event{
		EventType:  eventType,
		EntityType: entityType,
		Key:        key,
		RunID:      appctx.GetRunID(ctx),
		Data:       data,
	}
}

func (e *Emitter) publish(ctx context.Context, batch []*kafka.Event) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	if err := e.publisher.PublishEvents(ctx, batch); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"events": len(batch)}).Error("Failed to emit change events")
		return 0, err
	}
	for _, event := range batch {
		metrics.EventsPublishedTotal.WithLabelValues(event.EventType).Inc()
	}
	return len(batch), nil
}
