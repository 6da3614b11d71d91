package database

import (
	"strings"

	"github.com/lib/pq"
	"github.com/opsboard/opsboard-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "severity_valid"):
		return errors.Validation(map[string]string{
			"severity": "must be one of: SEV1, SEV2, SEV3, SEV4",
		})

	case strings.Contains(constraint, "status_valid"):
		return errors.Validation(map[string]string{
			"status": "must be one of: OPEN, MITIGATED, RESOLVED",
		})

	case strings.Contains(constraint, "environment_valid"):
		return errors.Validation(map[string]string{
			"environment": "must be one of: DEV, STAGING, PROD",
		})

	case strings.Contains(constraint, "role_valid"):
		return errors.Validation(map[string]string{
			"role": "must be one of: ADMIN, ENGINEER, VIEWER",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "feature_flags_tenant_key_env"):
		return "a feature flag with this key already exists in this environment"
	case strings.Contains(constraint, "memberships_user_tenant"):
		return "the user is already a member of this tenant"
	case strings.Contains(constraint, "tenants_slug"):
		return "a tenant with this slug already exists"
	case strings.Contains(constraint, "email"):
		return "a user with this email already exists"
	default:
		return "a record with these values already exists"
	}
}
