package service

import (
	"context"

	"github.com/opsboard/opsboard-backend/pkg/logger"
	"github.com/opsboard/opsboard-backend/pkg/messaging"
)

// EventPublisher publishes incident lifecycle events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, tenantID string, data interface{}) error
}

// Events wraps an EventPublisher and tolerates a missing broker: with no
// publisher configured every method is a no-op, and publish failures are
// logged but never fail the mutation that triggered them. Events fire after
// commit, so the database is the source of truth.
type Events struct {
	publisher EventPublisher
	logger    *logger.Logger
}

// NewEvents creates an event emitter. publisher may be nil.
func NewEvents(publisher EventPublisher, log *logger.Logger) *Events {
	return &Events{publisher: publisher, logger: log}
}

func (e *Events) publish(ctx context.Context, eventType, tenantID string, data interface{}) {
	if e == nil || e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, eventType, tenantID, data); err != nil {
		e.logger.WithError(err).Warn().
			Str("event_type", eventType).
			Str("tenant_id", tenantID).
			Msg("failed to publish incident event")
	}
}

// Created emits incident.created.
func (e *Events) Created(ctx context.Context, tenantID string, data messaging.IncidentCreatedEvent) {
	e.publish(ctx, messaging.EventIncidentCreated, tenantID, data)
}

// StatusChanged emits incident.status_changed.
func (e *Events) StatusChanged(ctx context.Context, tenantID string, data messaging.IncidentStatusChangedEvent) {
	e.publish(ctx, messaging.EventIncidentStatusChanged, tenantID, data)
}

// Assigned emits incident.assigned.
func (e *Events) Assigned(ctx context.Context, tenantID string, data messaging.IncidentAssignedEvent) {
	e.publish(ctx, messaging.EventIncidentAssigned, tenantID, data)
}
