package jobs

import (
	"encoding/json"
	"time"
)

// Job status values
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Job types the worker recognizes
const (
	TypeScanAttachment   = "SCAN_ATTACHMENT"
	TypeSendNotification = "SEND_NOTIFICATION"
	TypeIncidentSummary  = "INCIDENT_SUMMARY"
)

// Job is a persistent record requesting background work. Delivery is
// at-least-once; handlers must be idempotent or dedup on the job id.
type Job struct {
	ID          string          `db:"id" json:"id"`
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	Type        string          `db:"type" json:"type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Status      string          `db:"status" json:"status"`
	Result      json.RawMessage `db:"result" json:"result,omitempty"`
	Error       *string         `db:"error" json:"error,omitempty"`
	Retries     int             `db:"retries" json:"retries"`
	LeasedUntil *time.Time      `db:"leased_until" json:"leased_until,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	ProcessedAt *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// ScanAttachmentPayload is the payload of a SCAN_ATTACHMENT job.
type ScanAttachmentPayload struct {
	AttachmentID string `json:"attachment_id"`
}

// SendNotificationPayload is the payload of a SEND_NOTIFICATION job.
type SendNotificationPayload struct {
	UserID  string `json:"user_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// IncidentSummaryPayload is the payload of an INCIDENT_SUMMARY job.
type IncidentSummaryPayload struct {
	IncidentID   string   `json:"incident_id"`
	RecipientIDs []string `json:"recipient_ids"`
}
