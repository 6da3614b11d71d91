package flags

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opsboard/opsboard-backend/internal/audit"
	"github.com/opsboard/opsboard-backend/pkg/database"
	"github.com/opsboard/opsboard-backend/pkg/errors"
	"github.com/opsboard/opsboard-backend/pkg/logger"
	"github.com/opsboard/opsboard-backend/pkg/tenant"
)

// validEnvironments mirrors the incident environments; flags target one each.
var validEnvironments = map[string]bool{"DEV": true, "STAGING": true, "PROD": true}

// Service implements flag operations. Every mutation writes its audit entry
// inside the same transaction. Evaluation is read-only and touches nothing
// beyond the store read that fetched the flag.
type Service struct {
	db     *database.DB
	repo   *Repository
	audit  *audit.Recorder
	logger *logger.Logger
}

// NewService creates the flag service.
func NewService(db *database.DB, repo *Repository, auditRec *audit.Recorder, log *logger.Logger) *Service {
	return &Service{
		db:     db,
		repo:   repo,
		audit:  auditRec,
		logger: log.WithComponent("flags-service"),
	}
}

// CreateFlagInput carries the fields of a new flag.
type CreateFlagInput struct {
	Key         string
	Name        string
	Description string
	Enabled     bool
	Environment string
}

// CreateFlag creates a flag. Duplicate (key, environment) in the tenant is a
// conflict.
func (s *Service) CreateFlag(ctx context.Context, scope tenant.Context, input CreateFlagInput) (*FeatureFlag, error) {
	if !ValidKey(input.Key) {
		return nil, errors.BadRequest("flag key must be lowercase alphanumeric segments joined by - or _")
	}
	if !validEnvironments[input.Environment] {
		return nil, errors.BadRequest(fmt.Sprintf("invalid environment %q", input.Environment))
	}

	flag := &FeatureFlag{
		Key:         input.Key,
		Name:        input.Name,
		Description: input.Description,
		Enabled:     input.Enabled,
		Environment: input.Environment,
	}

	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateFlag(ctx, scope, flag); err != nil {
			return err
		}
		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionCreate,
			EntityType: "feature_flag",
			EntityID:   flag.ID,
			AfterData:  audit.Snapshot(flag),
		})
	})
	if err != nil {
		return nil, err
	}
	return flag, nil
}

// GetFlag returns a flag with its rules in evaluation order.
func (s *Service) GetFlag(ctx context.Context, scope tenant.Context, id string) (*FeatureFlag, []*Rule, error) {
	flag, err := s.repo.GetFlag(ctx, scope, id)
	if err != nil {
		return nil, nil, err
	}
	rules, err := s.repo.ListRules(ctx, scope, id)
	if err != nil {
		return nil, nil, err
	}
	return flag, rules, nil
}

// ListFlags returns the tenant's flags, optionally narrowed to an environment.
func (s *Service) ListFlags(ctx context.Context, scope tenant.Context, environment string) ([]*FeatureFlag, error) {
	if environment != "" && !validEnvironments[environment] {
		return nil, errors.BadRequest(fmt.Sprintf("invalid environment %q", environment))
	}
	return s.repo.ListFlags(ctx, scope, environment)
}

// UpdateFlag applies a partial update. Key and environment are immutable;
// changing them would silently rebucket every percent rollout.
func (s *Service) UpdateFlag(ctx context.Context, scope tenant.Context, id string, update FlagUpdate) (*FeatureFlag, error) {
	var updated *FeatureFlag

	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		before, err := s.repo.GetFlag(ctx, scope, id)
		if err != nil {
			return err
		}

		updated, err = s.repo.UpdateFlag(ctx, scope, id, update)
		if err != nil {
			return err
		}

		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionUpdate,
			EntityType: "feature_flag",
			EntityID:   id,
			BeforeData: audit.Snapshot(before),
			AfterData:  audit.Snapshot(updated),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteFlag removes a flag and its rules.
func (s *Service) DeleteFlag(ctx context.Context, scope tenant.Context, id string) error {
	return s.db.Transaction(ctx, func(ctx context.Context) error {
		before, err := s.repo.GetFlag(ctx, scope, id)
		if err != nil {
			return err
		}
		if err := s.repo.DeleteFlag(ctx, scope, id); err != nil {
			return err
		}
		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionDelete,
			EntityType: "feature_flag",
			EntityID:   id,
			BeforeData: audit.Snapshot(before),
		})
	})
}

// AddRule validates and appends a rule to a flag.
func (s *Service) AddRule(ctx context.Context, scope tenant.Context, flagID, ruleType string, condition json.RawMessage, order int) (*Rule, error) {
	if err := ValidateRule(ruleType, condition); err != nil {
		return nil, err
	}

	rule := &Rule{
		FlagID:    flagID,
		Type:      ruleType,
		Condition: condition,
		Order:     order,
	}

	err := s.db.Transaction(ctx, func(ctx context.Context) error {
		if _, err := s.repo.GetFlag(ctx, scope, flagID); err != nil {
			return err
		}
		if err := s.repo.AddRule(ctx, scope, rule); err != nil {
			return err
		}
		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionCreate,
			EntityType: "flag_rule",
			EntityID:   rule.ID,
			AfterData:  audit.Snapshot(rule),
		})
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes one rule of a flag.
func (s *Service) DeleteRule(ctx context.Context, scope tenant.Context, flagID, ruleID string) error {
	return s.db.Transaction(ctx, func(ctx context.Context) error {
		rule, err := s.repo.GetRule(ctx, scope, flagID, ruleID)
		if err != nil {
			return err
		}
		if err := s.repo.DeleteRule(ctx, scope, flagID, ruleID); err != nil {
			return err
		}
		return s.audit.Record(ctx, scope, &audit.Entry{
			Action:     audit.ActionDelete,
			EntityType: "flag_rule",
			EntityID:   ruleID,
			BeforeData: audit.Snapshot(rule),
		})
	})
}

// EvaluateFlag decides a flag for a context. Read-only; no audit row.
func (s *Service) EvaluateFlag(ctx context.Context, scope tenant.Context, flagID string, evalCtx EvalContext) (*EvalResult, error) {
	flag, err := s.repo.GetFlag(ctx, scope, flagID)
	if err != nil {
		return nil, err
	}
	rules, err := s.repo.ListRules(ctx, scope, flagID)
	if err != nil {
		return nil, err
	}

	result := Evaluate(flag, rules, evalCtx)
	return &result, nil
}
