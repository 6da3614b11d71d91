package flags

import (
	"encoding/json"
	"fmt"

	"github.com/opsboard/opsboard-backend/pkg/errors"
)

// ValidateRule checks a rule's type and condition payload at write time, so
// the evaluator never meets a malformed stored rule it could have rejected.
func ValidateRule(ruleType string, condition json.RawMessage) error {
	var cond Condition
	if err := json.Unmarshal(condition, &cond); err != nil {
		return errors.BadRequest("rule condition is not valid JSON")
	}
	cond.Type = ruleType
	if err := validateNode(cond, 1); err != nil {
		return errors.BadRequest(err.Error())
	}
	return nil
}

func validateNode(cond Condition, depth int) error {
	if depth > maxRuleDepth {
		return fmt.Errorf("rule nesting exceeds the maximum depth of %d", maxRuleDepth)
	}

	switch cond.Type {
	case RuleAllowlist:
		return nil
	case RulePercentRollout:
		if cond.Percentage == nil {
			return fmt.Errorf("PERCENT_ROLLOUT requires a percentage")
		}
		if *cond.Percentage < 0 || *cond.Percentage > 100 {
			return fmt.Errorf("percentage must be between 0 and 100, got %d", *cond.Percentage)
		}
		return nil
	case RuleAnd, RuleOr:
		if len(cond.Rules) == 0 {
			return fmt.Errorf("%s requires at least one child rule", cond.Type)
		}
		for _, child := range cond.Rules {
			if err := validateNode(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	case "":
		return fmt.Errorf("rule type is required")
	default:
		return fmt.Errorf("unknown rule type %q", cond.Type)
	}
}
