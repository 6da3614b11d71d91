package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Exchange names
const (
	ExchangeIncidentEvents = "opsboard.incidents"
)

// Event types (used as routing keys)
const (
	EventIncidentCreated       = "incident.created"
	EventIncidentStatusChanged = "incident.status_changed"
	EventIncidentAssigned      = "incident.assigned"
	EventNotificationRequested = "notification.requested"
)

// Event is the envelope every published message uses.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	TenantID      string          `json:"tenant_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates an event envelope with a marshalled payload.
func NewEvent(eventType, source, tenantID, correlationID string, data interface{}) (*Event, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		TenantID:      tenantID,
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
		Data:          body,
	}, nil
}

// IncidentCreatedEvent is published when an incident is opened.
type IncidentCreatedEvent struct {
	IncidentID  string `json:"incident_id"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Service     string `json:"service"`
	Environment string `json:"environment"`
	CreatedBy   string `json:"created_by"`
}

// IncidentStatusChangedEvent is published on every legal status transition.
type IncidentStatusChangedEvent struct {
	IncidentID string `json:"incident_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ChangedBy  string `json:"changed_by"`
}

// IncidentAssignedEvent is published when the assignee changes.
type IncidentAssignedEvent struct {
	IncidentID string `json:"incident_id"`
	AssigneeID string `json:"assignee_id"`
	AssignedBy string `json:"assigned_by"`
}

// NotificationRequestedEvent mirrors a SEND_NOTIFICATION job for downstream
// delivery systems.
type NotificationRequestedEvent struct {
	UserID  string `json:"user_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
