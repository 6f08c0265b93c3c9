package stream

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wellmind/medtrack/internal/medication"
)

// EventPublisher forwards the tracker's domain events to the medication
// events topic. Publishing is fire-and-forget: a broker outage must not slow
// down or fail the originating operation.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
}

// NewEventPublisher creates a publisher backed by the given producer.
func NewEventPublisher(producer *Producer, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, logger: logger}
}

// Notify publishes one domain event, keyed by medication so per-medication
// ordering survives partitioning.
func (p *EventPublisher) Notify(ctx context.Context, e *medication.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.logger.Warn("event marshal failed",
			zap.String("event_id", e.ID),
			zap.Error(err))
		return
	}

	p.producer.PublishAsync(ctx, TopicMedicationEvents, e.MedicationID, data, func(err error) {
		if err != nil {
			p.logger.Warn("event publish failed",
				zap.String("event_id", e.ID),
				zap.String("type", string(e.Type)),
				zap.Error(err))
		}
	})
}
