package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/opsboard/opsboard-backend/pkg/database"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// SavedViewRepository handles per-user saved incident filters.
type SavedViewRepository struct {
	db *database.DB
}

// NewSavedViewRepository creates a new saved view repository
func NewSavedViewRepository(db *database.DB) *SavedViewRepository {
	return &SavedViewRepository{db: db}
}

// Create inserts a saved view owned by the acting user.
func (r *SavedViewRepository) Create(ctx context.Context, scope tenant.Context, view *SavedView) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	if view.ID == "" {
		view.ID = uuid.New().String()
	}
	view.TenantID = scope.TenantID
	view.UserID = scope.UserID
	if len(view.Filters) == 0 {
		view.Filters = []byte("{}")
	}

	query := `
		INSERT INTO saved_views (id, tenant_id, user_id, name, filters)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	return r.db.Querier(ctx).QueryRowxContext(ctx, query,
		view.ID, view.TenantID, view.UserID, view.Name, []byte(view.Filters),
	).Scan(&view.CreatedAt)
}

// ListForUser returns the acting user's saved views.
func (r *SavedViewRepository) ListForUser(ctx context.Context, scope tenant.Context) ([]*SavedView, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var views []*SavedView
	query := `
		SELECT id, tenant_id, user_id, name, filters, created_at
		FROM saved_views
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY created_at DESC
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &views, query, scope.TenantID, scope.UserID); err != nil {
		return nil, err
	}
	return views, nil
}

// GetByID fetches a saved view within the tenant scope.
func (r *SavedViewRepository) GetByID(ctx context.Context, scope tenant.Context, id string) (*SavedView, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var view SavedView
	query := `
		SELECT id, tenant_id, user_id, name, filters, created_at
		FROM saved_views WHERE id = $1 AND tenant_id = $2
	`
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &view, query, id, scope.TenantID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("saved view")
	}
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Delete removes a saved view. Only the owner may delete it; admins may
// delete any view in the tenant.
func (r *SavedViewRepository) Delete(ctx context.Context, scope tenant.Context, id string) error {
	view, err := r.GetByID(ctx, scope, id)
	if err != nil {
		return err
	}

	if view.UserID != scope.UserID && !scope.Role.IsAdmin() {
		return errors.Forbidden("only the owner may delete this view")
	}

	query := `DELETE FROM saved_views WHERE id = $1 AND tenant_id = $2`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, id, scope.TenantID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("saved view")
	}
	return nil
}
