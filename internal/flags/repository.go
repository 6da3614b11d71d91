package flags

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/opsboard/opsboard-backend/pkg/database"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

const flagColumns = `id, tenant_id, key, name, description, enabled, environment, created_at, updated_at`

// Repository handles feature flag and rule persistence.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new flag repository
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// CreateFlag inserts a flag. A duplicate (key, environment) within the tenant
// maps to a conflict error.
func (r *Repository) CreateFlag(ctx context.Context, scope tenant.Context, flag *FeatureFlag) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	if flag.ID == "" {
		flag.ID = uuid.New().String()
	}
	flag.TenantID = scope.TenantID

	query := `
		INSERT INTO feature_flags (id, tenant_id, key, name, description, enabled, environment)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		flag.ID, flag.TenantID, flag.Key, flag.Name, flag.Description,
		flag.Enabled, flag.Environment,
	).Scan(&flag.CreatedAt, &flag.UpdatedAt)
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// GetFlag fetches a flag within the tenant scope.
func (r *Repository) GetFlag(ctx context.Context, scope tenant.Context, id string) (*FeatureFlag, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var flag FeatureFlag
	query := `SELECT ` + flagColumns + ` FROM feature_flags WHERE id = $1 AND tenant_id = $2`
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &flag, query, id, scope.TenantID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("feature flag")
	}
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

// ListFlags returns all flags of the tenant, optionally narrowed to one
// environment, ordered by key then environment.
func (r *Repository) ListFlags(ctx context.Context, scope tenant.Context, environment string) ([]*FeatureFlag, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var flagList []*FeatureFlag
	if environment != "" {
		query := `SELECT ` + flagColumns + ` FROM feature_flags WHERE tenant_id = $1 AND environment = $2 ORDER BY key ASC, environment ASC`
		if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &flagList, query, scope.TenantID, environment); err != nil {
			return nil, err
		}
		return flagList, nil
	}

	query := `SELECT ` + flagColumns + ` FROM feature_flags WHERE tenant_id = $1 ORDER BY key ASC, environment ASC`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &flagList, query, scope.TenantID); err != nil {
		return nil, err
	}
	return flagList, nil
}

// FlagUpdate carries the mutable fields of a flag. Nil means "leave as is".
type FlagUpdate struct {
	Name        *string
	Description *string
	Enabled     *bool
}

// UpdateFlag applies a partial update and returns the fresh row.
func (r *Repository) UpdateFlag(ctx context.Context, scope tenant.Context, id string, update FlagUpdate) (*FeatureFlag, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var flag FeatureFlag
	query := `
		UPDATE feature_flags
		SET name = COALESCE($3, name),
		    description = COALESCE($4, description),
		    enabled = COALESCE($5, enabled),
		    updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + flagColumns
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &flag, query,
		id, scope.TenantID, update.Name, update.Description, update.Enabled,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("feature flag")
	}
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

// DeleteFlag removes a flag; its rules cascade.
func (r *Repository) DeleteFlag(ctx context.Context, scope tenant.Context, id string) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	query := `DELETE FROM feature_flags WHERE id = $1 AND tenant_id = $2`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, id, scope.TenantID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("feature flag")
	}
	return nil
}

// AddRule inserts a rule for a flag. The caller has already validated the
// condition payload.
func (r *Repository) AddRule(ctx context.Context, scope tenant.Context, rule *Rule) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.TenantID = scope.TenantID

	query := `
		INSERT INTO flag_rules (id, flag_id, tenant_id, type, condition, rule_order)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.Querier(ctx).QueryRowxContext(ctx, query,
		rule.ID, rule.FlagID, rule.TenantID, rule.Type, []byte(rule.Condition), rule.Order,
	).Scan(&rule.CreatedAt)
	if appErr := database.MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// ListRules returns a flag's rules in evaluation order.
func (r *Repository) ListRules(ctx context.Context, scope tenant.Context, flagID string) ([]*Rule, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var rules []*Rule
	query := `
		SELECT id, flag_id, tenant_id, type, condition, rule_order, created_at
		FROM flag_rules
		WHERE flag_id = $1 AND tenant_id = $2
		ORDER BY rule_order ASC, created_at ASC
	`
	if err := sqlx.SelectContext(ctx, r.db.Querier(ctx), &rules, query, flagID, scope.TenantID); err != nil {
		return nil, err
	}
	return rules, nil
}

// GetRule fetches one rule of a flag.
func (r *Repository) GetRule(ctx context.Context, scope tenant.Context, flagID, ruleID string) (*Rule, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	var rule Rule
	query := `
		SELECT id, flag_id, tenant_id, type, condition, rule_order, created_at
		FROM flag_rules
		WHERE id = $1 AND flag_id = $2 AND tenant_id = $3
	`
	err := sqlx.GetContext(ctx, r.db.Querier(ctx), &rule, query, ruleID, flagID, scope.TenantID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("rule")
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// DeleteRule removes one rule of a flag.
func (r *Repository) DeleteRule(ctx context.Context, scope tenant.Context, flagID, ruleID string) error {
	if err := scope.Validate(); err != nil {
		return err
	}

	query := `DELETE FROM flag_rules WHERE id = $1 AND flag_id = $2 AND tenant_id = $3`
	result, err := r.db.Querier(ctx).ExecContext(ctx, query, ruleID, flagID, scope.TenantID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("rule")
	}
	return nil
}
