package repository

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Incident status values
const (
	StatusOpen      = "OPEN"
	StatusMitigated = "MITIGATED"
	StatusResolved  = "RESOLVED"
)

// Severity values
const (
	SeveritySev1 = "SEV1"
	SeveritySev2 = "SEV2"
	SeveritySev3 = "SEV3"
	SeveritySev4 = "SEV4"
)

// Environment values
const (
	EnvDev     = "DEV"
	EnvStaging = "STAGING"
	EnvProd    = "PROD"
)

// Timeline event types
const (
	EventNote         = "NOTE"
	EventAction       = "ACTION"
	EventStatusChange = "STATUS_CHANGE"
)

// Attachment scan status values
const (
	ScanPending  = "PENDING"
	ScanScanning = "SCANNING"
	ScanClean    = "CLEAN"
	ScanInfected = "INFECTED"
	ScanFailed   = "FAILED"
)

// Tags is an ordered list of strings stored as a JSONB column. Order is
// preserved exactly as entered.
type Tags []string

// Value implements driver.Valuer
func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (t *Tags) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("unsupported type for tags: %T", src)
	}
}

// Incident is a tracked operational event. Incidents are never hard-deleted
// through this service.
type Incident struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	Title       string    `db:"title" json:"title"`
	Severity    string    `db:"severity" json:"severity"`
	Status      string    `db:"status" json:"status"`
	Service     string    `db:"service" json:"service"`
	Environment string    `db:"environment" json:"environment"`
	Tags        Tags      `db:"tags" json:"tags"`
	CreatedByID string    `db:"created_by_id" json:"created_by_id"`
	AssigneeID  *string   `db:"assignee_id" json:"assignee_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// TimelineEvent is an append-only record attached to an incident.
// STATUS_CHANGE events are produced only by the transition path.
type TimelineEvent struct {
	ID          string          `db:"id" json:"id"`
	IncidentID  string          `db:"incident_id" json:"incident_id"`
	TenantID    string          `db:"tenant_id" json:"tenant_id"`
	Type        string          `db:"type" json:"type"`
	Message     *string         `db:"message" json:"message,omitempty"`
	Data        json.RawMessage `db:"data" json:"data,omitempty"`
	CreatedByID string          `db:"created_by_id" json:"created_by_id"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// StatusChangeData is the structured payload of a STATUS_CHANGE event.
// From is nil for the creation event.
type StatusChangeData struct {
	From *string `json:"from"`
	To   string  `json:"to"`
}

// Attachment is evidence attached to an incident. scan_status is written
// only by the scanning job after upload.
type Attachment struct {
	ID         string    `db:"id" json:"id"`
	IncidentID string    `db:"incident_id" json:"incident_id"`
	TenantID   string    `db:"tenant_id" json:"tenant_id"`
	FileName   string    `db:"file_name" json:"file_name"`
	MimeType   string    `db:"mime_type" json:"mime_type"`
	SizeBytes  int64     `db:"size_bytes" json:"size_bytes"`
	StorageURL string    `db:"storage_url" json:"storage_url"`
	ScanStatus string    `db:"scan_status" json:"scan_status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// SavedView is a per-user named set of incident list filters.
type SavedView struct {
	ID        string          `db:"id" json:"id"`
	TenantID  string          `db:"tenant_id" json:"tenant_id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Name      string          `db:"name" json:"name"`
	Filters   json.RawMessage `db:"filters" json:"filters"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// ListFilter narrows incident listings. Zero values mean "no filter".
// Service and Search are case-insensitive substring matches.
type ListFilter struct {
	Status      string
	Severity    string
	Environment string
	Service     string
	Tag         string
	AssigneeID  string
	Search      string
	Cursor      string
	Limit       int
}

// ValidStatus reports whether s is a known incident status.
func ValidStatus(s string) bool {
	switch s {
	case StatusOpen, StatusMitigated, StatusResolved:
		return true
	}
	return false
}

// ValidSeverity reports whether s is a known severity.
func ValidSeverity(s string) bool {
	switch s {
	case SeveritySev1, SeveritySev2, SeveritySev3, SeveritySev4:
		return true
	}
	return false
}

// ValidEnvironment reports whether s is a known environment.
func ValidEnvironment(s string) bool {
	switch s {
	case EnvDev, EnvStaging, EnvProd:
		return true
	}
	return false
}
