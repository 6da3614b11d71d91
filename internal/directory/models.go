package directory

import (
	"time"

	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// Tenant is an isolated organizational namespace. Created out-of-band; the
// slug never changes after creation.
type Tenant struct {
	ID        string    `db:"id" json:"id"`
	Slug      string    `db:"slug" json:"slug"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// User is a global account; tenancy comes from memberships.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Membership binds a user to a tenant with a role.
type Membership struct {
	ID        string      `db:"id" json:"id"`
	UserID    string      `db:"user_id" json:"user_id"`
	TenantID  string      `db:"tenant_id" json:"tenant_id"`
	Role      tenant.Role `db:"role" json:"role"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// Member is a membership joined with its user, for listings and assignee
// pickers.
type Member struct {
	UserID string      `db:"user_id" json:"user_id"`
	Email  string      `db:"email" json:"email"`
	Name   string      `db:"name" json:"name"`
	Role   tenant.Role `db:"role" json:"role"`
}
