package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/opsboard/opsboard-backend/pkg/database"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// Audit actions
const (
	ActionCreate           = "CREATE"
	ActionUpdate           = "UPDATE"
	ActionDelete           = "DELETE"
	ActionStatusChange     = "STATUS_CHANGE"
	ActionAssign           = "ASSIGN"
	ActionBulkAssign       = "BULK_ASSIGN"
	ActionBulkStatusChange = "BULK_STATUS_CHANGE"
)

// Entry is one append-only audit row. Entries are never updated or deleted.
type Entry struct {
	ID         string          `db:"id" json:"id"`
	TenantID   string          `db:"tenant_id" json:"tenant_id"`
	ActorID    string          `db:"actor_id" json:"actor_id"`
	Action     string          `db:"action" json:"action"`
	EntityType string          `db:"entity_type" json:"entity_type"`
	EntityID   string          `db:"entity_id" json:"entity_id"`
	BeforeData json.RawMessage `db:"before_data" json:"before_data,omitempty"`
	AfterData  json.RawMessage `db:"after_data" json:"after_data,omitempty"`
	Metadata   json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// ListFilter narrows audit listings. Zero values mean "no filter".
type ListFilter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Action     string
	StartDate  *time.Time
	EndDate    *time.Time
	Cursor     string
	Limit      int
}

// Recorder persists audit entries. Record is called inside the same
// transaction as the mutation it describes, so a rollback takes the audit row
// with it.
type Recorder struct {
	db *database.DB
}

// NewRecorder creates a new audit recorder
func NewRecorder(db *database.DB) *Recorder {
	return &Recorder{db: db}
}

// Snapshot marshals an entity into an opaque JSON snapshot for
// before_data/after_data. A nil entity yields a nil snapshot.
func Snapshot(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// Record appends one audit entry scoped to the acting tenant.
func (r *Recorder) Record(ctx context.Context, scope tenant.Context, entry *Entry) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.TenantID = scope.TenantID
	if entry.ActorID == "" {
		entry.ActorID = scope.UserID
	}

	query := `
		INSERT INTO audit_logs (
			id, tenant_id, actor_id, action, entity_type, entity_id,
			before_data, after_data, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`
	return r.db.Querier(ctx).QueryRowxContext(ctx, query,
		entry.ID, entry.TenantID, entry.ActorID, entry.Action,
		entry.EntityType, entry.EntityID,
		nullableJSON(entry.BeforeData), nullableJSON(entry.AfterData), nullableJSON(entry.Metadata),
	).Scan(&entry.CreatedAt)
}

// List returns audit entries for the scoped tenant, newest first, with cursor
// pagination. Admin gating happens at the HTTP layer; the repository only
// enforces tenant scope.
func (r *Recorder) List(ctx context.Context, scope tenant.Context, filter ListFilter) ([]*Entry, string, bool, error) {
	if err := scope.Validate(); err != nil {
		return nil, "", false, err
	}

	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	args := []interface{}{scope.TenantID}
	argIdx := 2

	query := `
		SELECT id, tenant_id, actor_id, action, entity_type, entity_id,
		       before_data, after_data, metadata, created_at
		FROM audit_logs WHERE tenant_id = $1
	`

	if filter.EntityType != "" {
		query += fmt.Sprintf(` AND entity_type = $%d`, argIdx)
		args = append(args, filter.EntityType)
		argIdx++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(` AND entity_id = $%d`, argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if filter.ActorID != "" {
		query += fmt.Sprintf(` AND actor_id = $%d`, argIdx)
		args = append(args, filter.ActorID)
		argIdx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(` AND action = $%d`, argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if filter.StartDate != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, *filter.StartDate)
		argIdx++
	}
	if filter.EndDate != nil {
		query += fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		args = append(args, *filter.EndDate)
		argIdx++
	}

	if filter.Cursor != "" {
		// Keyset continuation from the row the cursor names.
		query += fmt.Sprintf(` AND (created_at, id) < (SELECT created_at, id FROM audit_logs WHERE id = $%d AND tenant_id = $1)`, argIdx)
		args = append(args, filter.Cursor)
		argIdx++
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	var entries []*Entry
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &entries, query, args...); err != nil {
		return nil, "", false, err
	}

	hasMore := len(entries) > limit
	if hasMore {
		entries = entries[:limit]
	}

	nextCursor := ""
	if hasMore && len(entries) > 0 {
		nextCursor = entries[len(entries)-1].ID
	}

	return entries, nextCursor, hasMore, nil
}

// CountByAction counts audit rows for an action within the scope. Used by
// tests asserting audit completeness.
func (r *Recorder) CountByAction(ctx context.Context, scope tenant.Context, action string) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}

	var count int64
	query := `SELECT COUNT(*) FROM audit_logs WHERE tenant_id = $1 AND action = $2`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &count, query, scope.TenantID, action); err != nil {
		return 0, err
	}
	return count, nil
}

func nullableJSON(data json.RawMessage) interface{} {
	if len(data) == 0 {
		return sql.NullString{}
	}
	return []byte(data)
}
