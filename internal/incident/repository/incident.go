package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/opsboard/opsboard-backend/pkg/database"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

const incidentColumns = `id, tenant_id, title, severity, status, service, environment, tags,
	       created_by_id, assignee_id, created_at, updated_at`

// IncidentRepository handles incident persistence.
// Every method takes a tenant scope; reads AND tenant_id into the predicate,
// writes inject it into created rows.
type IncidentRepository struct {
	db *database.DB
}

// NewIncidentRepository creates a new incident repository
func NewIncidentRepository(db *database.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// Create inserts a new incident scoped to the tenant.
func (r *IncidentRepository) Create(ctx context.Context, scope tenant.Context, inc *Incident) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	if inc.ID == "" {
		inc.ID = uuid.New().String()
	}
	inc.TenantID = scope.TenantID
	inc.CreatedByID = scope.UserID
	if inc.Status == "" {
		inc.Status = StatusOpen
	}

	query := `
		INSERT INTO incidents (
			id, tenant_id, title, severity, status, service, environment,
			tags, created_by_id, assignee_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		inc.ID, inc.TenantID, inc.Title, inc.Severity, inc.Status,
		inc.Service, inc.Environment, inc.Tags, inc.CreatedByID, inc.AssigneeID,
	).Scan(&inc.CreatedAt, &inc.UpdatedAt)
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// GetByID fetches an incident within the tenant scope. A foreign-tenant id
// reads as NotFound, indistinguishable from a genuinely absent row.
func (r *IncidentRepository) GetByID(ctx context.Context, scope tenant.Context, id string) (*Incident, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var inc Incident
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1 AND tenant_id = $2`
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &inc, query, id, scope.TenantID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("incident")
	}
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// GetManyByIDs fetches a set of incidents within the tenant scope, for bulk
// operations. Missing or foreign ids are simply absent from the result.
func (r *IncidentRepository) GetManyByIDs(ctx context.Context, scope tenant.Context, ids []string) ([]*Incident, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT `+incidentColumns+` FROM incidents WHERE tenant_id = ? AND id IN (?) ORDER BY created_at DESC, id DESC`,
		scope.TenantID, ids,
	)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var incidents []*Incident
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &incidents, query, args...); err != nil {
		return nil, err
	}
	return incidents, nil
}

// List returns incidents matching the filter, ordered created_at DESC with id
// as a deterministic tiebreaker. Cursor is the id of the last item of the
// previous page; the repository fetches limit+1 rows to prove hasMore.
func (r *IncidentRepository) List(ctx context.Context, scope tenant.Context, filter ListFilter) ([]*Incident, string, bool, error) {
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

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE tenant_id = $1`

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Severity != "" {
		query += fmt.Sprintf(` AND severity = $%d`, argIdx)
		args = append(args, filter.Severity)
		argIdx++
	}
	if filter.Environment != "" {
		query += fmt.Sprintf(` AND environment = $%d`, argIdx)
		args = append(args, filter.Environment)
		argIdx++
	}
	if filter.Service != "" {
		query += fmt.Sprintf(` AND service ILIKE $%d`, argIdx)
		args = append(args, "%"+filter.Service+"%")
		argIdx++
	}
	if filter.Tag != "" {
		query += fmt.Sprintf(` AND tags @> $%d`, argIdx)
		tagJSON, _ := (Tags{filter.Tag}).Value()
		args = append(args, tagJSON)
		argIdx++
	}
	if filter.AssigneeID != "" {
		query += fmt.Sprintf(` AND assignee_id = $%d`, argIdx)
		args = append(args, filter.AssigneeID)
		argIdx++
	}
	if filter.Search != "" {
		query += fmt.Sprintf(` AND (title ILIKE $%d OR service ILIKE $%d)`, argIdx, argIdx)
		args = append(args, "%"+filter.Search+"%")
		argIdx++
	}

	if filter.Cursor != "" {
		query += fmt.Sprintf(` AND (created_at, id) < (SELECT created_at, id FROM incidents WHERE id = $%d AND tenant_id = $1)`, argIdx)
		args = append(args, filter.Cursor)
		argIdx++
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	var incidents []*Incident
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &incidents, query, args...); err != nil {
		return nil, "", false, err
	}

	hasMore := len(incidents) > limit
	if hasMore {
		incidents = incidents[:limit]
	}

	nextCursor := ""
	if hasMore && len(incidents) > 0 {
		nextCursor = incidents[len(incidents)-1].ID
	}

	return incidents, nextCursor, hasMore, nil
}

// UpdateStatus writes the new status and bumps updated_at. The caller has
// already validated the transition inside the same transaction as the read.
func (r *IncidentRepository) UpdateStatus(ctx context.Context, scope tenant.Context, id, status string) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE incidents SET status = $3, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, id, scope.TenantID, status)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("incident")
	}
	return nil
}

// UpdateAssignee sets or clears the assignee and bumps updated_at.
func (r *IncidentRepository) UpdateAssignee(ctx context.Context, scope tenant.Context, id string, assigneeID *string) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE incidents SET assignee_id = $3, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
	`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, id, scope.TenantID, assigneeID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("incident")
	}
	return nil
}

// Touch bumps updated_at so stream watchers observe the change. Used by
// mutations that do not change a first-class column.
func (r *IncidentRepository) Touch(ctx context.Context, scope tenant.Context, id string) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	query := `UPDATE incidents SET updated_at = NOW() WHERE id = $1 AND tenant_id = $2`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, id, scope.TenantID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("incident")
	}
	return nil
}

// WatchState is the snapshot the realtime stream polls for.
type WatchState struct {
	Status     string    `db:"status"`
	Severity   string    `db:"severity"`
	AssigneeID *string   `db:"assignee_id"`
	UpdatedAt  time.Time `db:"updated_at"`
	EventCount int64     `db:"event_count"`
}

// GetWatchState fetches the fields the stream diffs against, plus the
// timeline event count, in one query.
func (r *IncidentRepository) GetWatchState(ctx context.Context, scope tenant.Context, id string) (*WatchState, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var state WatchState
	query := `
		SELECT i.status, i.severity, i.assignee_id, i.updated_at,
		       (SELECT COUNT(*) FROM timeline_events te WHERE te.incident_id = i.id) AS event_count
		FROM incidents i
		WHERE i.id = $1 AND i.tenant_id = $2
	`
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &state, query, id, scope.TenantID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("incident")
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}
