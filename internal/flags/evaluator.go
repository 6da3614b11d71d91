package flags

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// StableHash maps (userID, flagKey) to a bucket in [0, 100). It is the first
// 32 bits of SHA-256 over userID + ":" + flagKey, read big-endian, mod 100.
// The same inputs produce the same bucket on every machine.
func StableHash(userID, flagKey string) int {
	sum := sha256.Sum256([]byte(userID + ":" + flagKey))
	return int(binary.BigEndian.Uint32(sum[:4]) % 100)
}

// Evaluate decides a flag for a context using only the given flag and rules.
// Rules must arrive sorted ascending by Order; the first matching rule wins.
// An unparseable stored rule is traced and treated as non-matching.
func Evaluate(flag *FeatureFlag, rules []*Rule, ctx EvalContext) EvalResult {
	trace := []string{}

	if !flag.Enabled {
		trace = append(trace, fmt.Sprintf("flag %q is globally disabled", flag.Key))
		return EvalResult{Enabled: false, Reason: "globally disabled", Trace: trace}
	}

	if flag.Environment != ctx.Environment {
		trace = append(trace, fmt.Sprintf("flag environment %s does not match context environment %s", flag.Environment, ctx.Environment))
		return EvalResult{Enabled: false, Reason: "environment mismatch", Trace: trace}
	}

	if len(rules) == 0 {
		trace = append(trace, "flag has no rules")
		return EvalResult{Enabled: true, Reason: "no rules, enabled for all", Trace: trace}
	}

	for i, rule := range rules {
		var cond Condition
		if err := json.Unmarshal(rule.Condition, &cond); err != nil {
			trace = append(trace, fmt.Sprintf("rule %d: unparseable condition, treated as non-matching", i+1))
			continue
		}
		cond.Type = rule.Type

		if evalNode(cond, ctx, flag.Key, &trace, fmt.Sprintf("rule %d", i+1)) {
			return EvalResult{Enabled: true, Reason: fmt.Sprintf("matched rule %d", i+1), Trace: trace}
		}
	}

	trace = append(trace, "no rules matched")
	return EvalResult{Enabled: false, Reason: "no rules matched", Trace: trace}
}

func evalNode(cond Condition, ctx EvalContext, flagKey string, trace *[]string, path string) bool {
	switch cond.Type {
	case RuleAllowlist:
		for _, id := range cond.UserIDs {
			if id == ctx.UserID {
				*trace = append(*trace, fmt.Sprintf("%s ALLOWLIST: user %s is listed", path, ctx.UserID))
				return true
			}
		}
		*trace = append(*trace, fmt.Sprintf("%s ALLOWLIST: user %s is not listed", path, ctx.UserID))
		return false

	case RulePercentRollout:
		if cond.Percentage == nil {
			*trace = append(*trace, fmt.Sprintf("%s PERCENT_ROLLOUT: missing percentage, treated as non-matching", path))
			return false
		}
		bucket := StableHash(ctx.UserID, flagKey)
		match := bucket < *cond.Percentage
		*trace = append(*trace, fmt.Sprintf("%s PERCENT_ROLLOUT: user hashed to bucket %d, threshold %d, match=%t", path, bucket, *cond.Percentage, match))
		return match

	case RuleAnd:
		for i, child := range cond.Rules {
			if !evalNode(child, ctx, flagKey, trace, fmt.Sprintf("%s AND[%d]", path, i)) {
				*trace = append(*trace, fmt.Sprintf("%s AND: child %d did not match, short-circuit", path, i))
				return false
			}
		}
		*trace = append(*trace, fmt.Sprintf("%s AND: all %d children matched", path, len(cond.Rules)))
		return true

	case RuleOr:
		for i, child := range cond.Rules {
			if evalNode(child, ctx, flagKey, trace, fmt.Sprintf("%s OR[%d]", path, i)) {
				*trace = append(*trace, fmt.Sprintf("%s OR: child %d matched, short-circuit", path, i))
				return true
			}
		}
		*trace = append(*trace, fmt.Sprintf("%s OR: no child matched", path))
		return false

	default:
		*trace = append(*trace, fmt.Sprintf("%s: unknown rule type %q, treated as non-matching", path, cond.Type))
		return false
	}
}
