package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/opsboard/opsboard-backend/pkg/database"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// TimelineRepository handles timeline event persistence. Events are
// append-only; there is no update or delete.
type TimelineRepository struct {
	db *database.DB
}

// NewTimelineRepository creates a new timeline repository
func NewTimelineRepository(db *database.DB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

// Append inserts a timeline event for an incident in the scoped tenant.
func (r *TimelineRepository) Append(ctx context.Context, scope tenant.Context, event *TimelineEvent) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.TenantID = scope.TenantID
	if event.CreatedByID == "" {
		event.CreatedByID = scope.UserID
	}

	query := `
		INSERT INTO timeline_events (id, incident_id, tenant_id, type, message, data, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	var data interface{}
	if len(event.Data) > 0 {
		data = []byte(event.Data)
	}

	return r.db.Querier(ctx).QueryRowxContext(ctx, query,
		event.ID, event.IncidentID, event.TenantID, event.Type,
		event.Message, data, event.CreatedByID,
	).Scan(&event.CreatedAt)
}

// AppendStatusChange appends a STATUS_CHANGE event with a {from, to} payload.
func (r *TimelineRepository) AppendStatusChange(ctx context.Context, scope tenant.Context, incidentID string, from *string, to string) (*TimelineEvent, error) {
	data, err := json.Marshal(StatusChangeData{From: from, To: to})
	if err != nil {
		return nil, err
	}

	event := &TimelineEvent{
		IncidentID: incidentID,
		Type:       EventStatusChange,
		Data:       data,
	}
	if err := r.Append(ctx, scope, event); err != nil {
		return nil, err
	}
	return event, nil
}

// ListByIncident returns all events for an incident, oldest first.
func (r *TimelineRepository) ListByIncident(ctx context.Context, scope tenant.Context, incidentID string) ([]*TimelineEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var events []*TimelineEvent
	query := `
		SELECT id, incident_id, tenant_id, type, message, data, created_by_id, created_at
		FROM timeline_events
		WHERE incident_id = $1 AND tenant_id = $2
		ORDER BY created_at ASC, id ASC
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &events, query, incidentID, scope.TenantID); err != nil {
		return nil, err
	}
	return events, nil
}

// ListNewest returns the latest n events for an incident, newest first. The
// realtime stream uses this to deliver exactly the delta since its last poll.
func (r *TimelineRepository) ListNewest(ctx context.Context, scope tenant.Context, incidentID string, n int) ([]*TimelineEvent, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if n < 1 {
		return nil, nil
	}

	var events []*TimelineEvent
	query := `
		SELECT id, incident_id, tenant_id, type, message, data, created_by_id, created_at
		FROM timeline_events
		WHERE incident_id = $1 AND tenant_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &events, query, incidentID, scope.TenantID, n); err != nil {
		return nil, err
	}
	return events, nil
}

// CountByIncident counts the events of an incident.
func (r *TimelineRepository) CountByIncident(ctx context.Context, scope tenant.Context, incidentID string) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	var count int64
	query := `SELECT COUNT(*) FROM timeline_events WHERE incident_id = $1 AND tenant_id = $2`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &count, query, incidentID, scope.TenantID); err != nil {
		return 0, err
	}
	return count, nil
}
