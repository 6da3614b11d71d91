package flags

import (
	"encoding/json"
	"regexp"
	"time"
)

// Rule types
const (
	RuleAllowlist      = "ALLOWLIST"
	RulePercentRollout = "PERCENT_ROLLOUT"
	RuleAnd            = "AND"
	RuleOr             = "OR"
)

// maxRuleDepth bounds nesting of AND/OR rules to prevent abuse.
const maxRuleDepth = 16

var keyPattern = regexp.MustCompile(`^[a-z0-9]+([-_][a-z0-9]+)*$`)

// ValidKey reports whether s is a well-formed flag key: lowercase
// alphanumeric segments joined by - or _.
func ValidKey(s string) bool {
	return keyPattern.MatchString(s)
}

// FeatureFlag is a named boolean switch scoped to a tenant and environment.
// Keys are unique per (tenant, key, environment).
type FeatureFlag struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	Key         string    `db:"key" json:"key"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Enabled     bool      `db:"enabled" json:"enabled"`
	Environment string    `db:"environment" json:"environment"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Rule is one node of a flag's evaluation grammar, stored with its condition
// as an opaque JSON payload. Rules evaluate in ascending Order.
type Rule struct {
	ID        string          `db:"id" json:"id"`
	FlagID    string          `db:"flag_id" json:"flag_id"`
	TenantID  string          `db:"tenant_id" json:"tenant_id"`
	Type      string          `db:"type" json:"type"`
	Condition json.RawMessage `db:"condition" json:"condition"`
	Order     int             `db:"rule_order" json:"order"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Condition is the decoded shape of a rule payload. Exactly the fields for
// the rule's type are meaningful; the rest stay zero.
type Condition struct {
	UserIDs    []string    `json:"user_ids,omitempty"`
	Percentage *int        `json:"percentage,omitempty"`
	Rules      []Condition `json:"rules,omitempty"`
	Type       string      `json:"type,omitempty"`
}

// EvalContext is the input to flag evaluation.
type EvalContext struct {
	UserID      string `json:"user_id"`
	Environment string `json:"environment"`
	Service     string `json:"service,omitempty"`
}

// EvalResult is the outcome of one evaluation. Trace records each step taken
// in order, for debugging rollouts.
type EvalResult struct {
	Enabled bool     `json:"enabled"`
	Reason  string   `json:"reason"`
	Trace   []string `json:"trace"`
}
