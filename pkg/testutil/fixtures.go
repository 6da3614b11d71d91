package testutil

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// TenantFixture represents a seeded tenant with one user per role.
type TenantFixture struct {
	TenantID   string
	Slug       string
	AdminID    string
	EngineerID string
	ViewerID   string
}

// Scope returns a tenant scope for the fixture user with the given role.
func (f *TenantFixture) Scope(role tenant.Role) tenant.Context {
	userID := f.ViewerID
	switch role {
	case tenant.RoleAdmin:
		userID = f.AdminID
	case tenant.RoleEngineer:
		userID = f.EngineerID
	}
	return tenant.Context{TenantID: f.TenantID, UserID: userID, Role: role}
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

func (f *FixtureFactory) next() int {
	f.sequence++
	return f.sequence
}

// SeedTenant inserts a tenant with an admin, an engineer, and a viewer, and
// returns their ids. Password for every seeded user is "password123".
func (f *FixtureFactory) SeedTenant(ctx context.Context, db *sqlx.DB, slug string) (*TenantFixture, error) {
	n := f.next()
	if slug == "" {
		slug = fmt.Sprintf("tenant-%d", n)
	}

	fixture := &TenantFixture{
		TenantID: uuid.New().String(),
		Slug:     slug,
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO tenants (id, slug, name) VALUES ($1, $2, $3)`,
		fixture.TenantID, slug, fmt.Sprintf("Tenant %d", n),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to seed tenant: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	seedUser := func(role tenant.Role) (string, error) {
		userID := uuid.New().String()
		email := fmt.Sprintf("%s-%s@%s.test", role, userID[:8], slug)
		_, err := db.ExecContext(ctx,
			`INSERT INTO users (id, email, name, password_hash) VALUES ($1, $2, $3, $4)`,
			userID, email, fmt.Sprintf("%s user", role), string(hash),
		)
		if err != nil {
			return "", fmt.Errorf("failed to seed user: %w", err)
		}
		_, err = db.ExecContext(ctx,
			`INSERT INTO memberships (id, user_id, tenant_id, role) VALUES ($1, $2, $3, $4)`,
			uuid.New().String(), userID, fixture.TenantID, string(role),
		)
		if err != nil {
			return "", fmt.Errorf("failed to seed membership: %w", err)
		}
		return userID, nil
	}

	if fixture.AdminID, err = seedUser(tenant.RoleAdmin); err != nil {
		return nil, err
	}
	if fixture.EngineerID, err = seedUser(tenant.RoleEngineer); err != nil {
		return nil, err
	}
	if fixture.ViewerID, err = seedUser(tenant.RoleViewer); err != nil {
		return nil, err
	}

	return fixture, nil
}
