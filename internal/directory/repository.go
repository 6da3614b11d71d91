package directory

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/opsboard/opsboard-backend/pkg/database"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// Repository persists tenants, users, and memberships. These tables are the
// roots tenancy hangs off, so unlike the domain repositories their methods do
// not take a tenant scope.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new directory repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// --- Tenants ---

// CreateTenant registers a tenant. Slugs are immutable after creation.
func (r *Repository) CreateTenant(ctx context.Context, t *Tenant) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}

	query := `
		INSERT INTO tenants (id, slug, name)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query, t.ID, t.Slug, t.Name).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// GetTenantBySlug resolves a URL slug to a tenant.
func (r *Repository) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	var t Tenant
	query := `SELECT id, slug, name, created_at, updated_at FROM tenants WHERE slug = $1`
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &t, query, slug)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("tenant")
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTenantByID fetches a tenant by primary key.
func (r *Repository) GetTenantByID(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	query := `SELECT id, slug, name, created_at, updated_at FROM tenants WHERE id = $1`
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &t, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("tenant")
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Users ---

// CreateUser registers a user account.
func (r *Repository) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}

	query := `
		INSERT INTO users (id, email, name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query, u.ID, u.Email, u.Name, u.PasswordHash).
		Scan(&u.CreatedAt, &u.UpdatedAt)
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// GetUserByEmail fetches a user for credential verification.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	query := `SELECT id, email, name, password_hash, created_at, updated_at FROM users WHERE email = $1`
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &u, query, email)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByID fetches a user by primary key.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	query := `SELECT id, email, name, password_hash, created_at, updated_at FROM users WHERE id = $1`
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &u, query, id)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Memberships ---

// CreateMembership invites a user into a tenant with a role.
func (r *Repository) CreateMembership(ctx context.Context, m *Membership) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if !m.Role.Valid() {
		return errors.Validation(map[string]string{"role": "must be one of: ADMIN, ENGINEER, VIEWER"})
	}

	query := `
		INSERT INTO memberships (id, user_id, tenant_id, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query, m.ID, m.UserID, m.TenantID, m.Role).
		Scan(&m.CreatedAt)
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// GetMembership returns the membership of a user in a tenant, or NotFound.
// This backs every authorization decision, so absence must look the same as a
// missing tenant.
func (r *Repository) GetMembership(ctx context.Context, userID, tenantID string) (*Membership, error) {
	var m Membership
	query := `
		SELECT id, user_id, tenant_id, role, created_at
		FROM memberships WHERE user_id = $1 AND tenant_id = $2
	`
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &m, query, userID, tenantID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("tenant")
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// IsMember reports whether a user holds an active membership in the scoped
// tenant. Used for assignee validation.
func (r *Repository) IsMember(ctx context.Context, scope tenant.Context, userID string) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}

	var count int
	query := `SELECT COUNT(*) FROM memberships WHERE user_id = $1 AND tenant_id = $2`
	if err := sqlx.GetContext(ctx, r.db.Querier(ctx), &count, query, userID, scope.TenantID); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListMembers lists all members of the scoped tenant, joined with user
// details, ordered by name.
func (r *Repository) ListMembers(ctx context.Context, scope tenant.Context) ([]*Member, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var members []*Member
	query := `
		SELECT m.user_id, u.email, u.name, m.role
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.tenant_id = $1
		ORDER BY u.name ASC
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &members, query, scope.TenantID); err != nil {
		return nil, err
	}
	return members, nil
}

// ListMembershipsForUser returns every membership a user holds, for the
// tenant switcher.
func (r *Repository) ListMembershipsForUser(ctx context.Context, userID string) ([]*Membership, error) {
	var memberships []*Membership
	query := `
		SELECT id, user_id, tenant_id, role, created_at
		FROM memberships WHERE user_id = $1
		ORDER BY created_at ASC
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &memberships, query, userID); err != nil {
		return nil, err
	}
	return memberships, nil
}

// DeleteMembership removes a user from a tenant.
func (r *Repository) DeleteMembership(ctx context.Context, userID, tenantID string) error {
	query := `DELETE FROM memberships WHERE user_id = $1 AND tenant_id = $2`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, userID, tenantID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("membership")
	}
	return nil
}
