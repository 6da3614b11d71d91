package flags

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prodFlag(enabled bool) *FeatureFlag {
	return &FeatureFlag{
		ID:          "flag-1",
		Key:         "new_checkout_flow",
		Enabled:     enabled,
		Environment: "PROD",
	}
}

func mustCondition(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestStableHash_Deterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		user := fmt.Sprintf("user-%d", i)
		first := StableHash(user, "new_checkout_flow")
		second := StableHash(user, "new_checkout_flow")
		assert.Equal(t, first, second)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 100)
	}
}

func TestStableHash_DependsOnFlagKey(t *testing.T) {
	// Buckets for different flags must be independent; with 200 users at
	// least one must diverge.
	diverged := false
	for i := 0; i < 200; i++ {
		user := fmt.Sprintf("user-%d", i)
		if StableHash(user, "flag-a") != StableHash(user, "flag-b") {
			diverged = true
			break
		}
	}
	assert.True(t, diverged)
}

func TestEvaluate_GloballyDisabled(t *testing.T) {
	result := Evaluate(prodFlag(false), nil, EvalContext{UserID: "u1", Environment: "PROD"})
	assert.False(t, result.Enabled)
	assert.Equal(t, "globally disabled", result.Reason)
	assert.NotEmpty(t, result.Trace)
}

func TestEvaluate_EnvironmentMismatch(t *testing.T) {
	result := Evaluate(prodFlag(true), nil, EvalContext{UserID: "u1", Environment: "STAGING"})
	assert.False(t, result.Enabled)
	assert.Equal(t, "environment mismatch", result.Reason)
}

func TestEvaluate_NoRules(t *testing.T) {
	result := Evaluate(prodFlag(true), nil, EvalContext{UserID: "u1", Environment: "PROD"})
	assert.True(t, result.Enabled)
	assert.Equal(t, "no rules, enabled for all", result.Reason)
}

func TestEvaluate_Allowlist(t *testing.T) {
	flag := prodFlag(true)
	rules := []*Rule{{
		Type:      RuleAllowlist,
		Condition: mustCondition(t, Condition{UserIDs: []string{"u1", "u2"}}),
	}}

	for user, want := range map[string]bool{"u1": true, "u2": true, "u3": false} {
		result := Evaluate(flag, rules, EvalContext{UserID: user, Environment: "PROD"})
		assert.Equal(t, want, result.Enabled, "user %s", user)
	}
}

func TestEvaluate_AllowlistFirstMatchWins(t *testing.T) {
	// A percent rule after a matching allowlist must never be consulted.
	zero := 0
	flag := prodFlag(true)
	rules := []*Rule{
		{Type: RuleAllowlist, Condition: mustCondition(t, Condition{UserIDs: []string{"u1", "u2"}}), Order: 0},
		{Type: RulePercentRollout, Condition: mustCondition(t, Condition{Percentage: &zero}), Order: 1},
	}

	result := Evaluate(flag, rules, EvalContext{UserID: "u1", Environment: "PROD"})
	assert.True(t, result.Enabled)
	assert.Equal(t, "matched rule 1", result.Reason)

	allowlistLines := 0
	for _, line := range result.Trace {
		if strings.Contains(line, "ALLOWLIST") {
			allowlistLines++
		}
	}
	assert.Equal(t, 1, allowlistLines)
}

func TestEvaluate_PercentRolloutDistribution(t *testing.T) {
	pct := 25
	flag := prodFlag(true)
	rules := []*Rule{{
		Type:      RulePercentRollout,
		Condition: mustCondition(t, Condition{Percentage: &pct}),
	}}

	enabled := 0
	const users = 10000
	for i := 0; i < users; i++ {
		ctx := EvalContext{UserID: fmt.Sprintf("user-%d", i), Environment: "PROD"}
		first := Evaluate(flag, rules, ctx)
		second := Evaluate(flag, rules, ctx)
		require.Equal(t, first.Enabled, second.Enabled)
		if first.Enabled {
			enabled++
		}
	}

	fraction := float64(enabled) / float64(users)
	assert.InDelta(t, 0.25, fraction, 0.02, "got %.4f", fraction)
}

func TestEvaluate_PercentRolloutMonotonic(t *testing.T) {
	// Raising the percentage must never disable a previously enabled user.
	low, high := 10, 40
	flag := prodFlag(true)
	lowRules := []*Rule{{Type: RulePercentRollout, Condition: mustCondition(t, Condition{Percentage: &low})}}
	highRules := []*Rule{{Type: RulePercentRollout, Condition: mustCondition(t, Condition{Percentage: &high})}}

	for i := 0; i < 1000; i++ {
		ctx := EvalContext{UserID: fmt.Sprintf("user-%d", i), Environment: "PROD"}
		if Evaluate(flag, lowRules, ctx).Enabled {
			assert.True(t, Evaluate(flag, highRules, ctx).Enabled)
		}
	}
}

func TestEvaluate_PercentBoundaries(t *testing.T) {
	zero, hundred := 0, 100
	flag := prodFlag(true)

	zeroRules := []*Rule{{Type: RulePercentRollout, Condition: mustCondition(t, Condition{Percentage: &zero})}}
	fullRules := []*Rule{{Type: RulePercentRollout, Condition: mustCondition(t, Condition{Percentage: &hundred})}}

	for i := 0; i < 100; i++ {
		ctx := EvalContext{UserID: fmt.Sprintf("user-%d", i), Environment: "PROD"}
		assert.False(t, Evaluate(flag, zeroRules, ctx).Enabled)
		assert.True(t, Evaluate(flag, fullRules, ctx).Enabled)
	}
}

func TestEvaluate_AndOr(t *testing.T) {
	hundred := 100
	flag := prodFlag(true)

	andRule := []*Rule{{
		Type: RuleAnd,
		Condition: mustCondition(t, Condition{Rules: []Condition{
			{Type: RuleAllowlist, UserIDs: []string{"u1"}},
			{Type: RulePercentRollout, Percentage: &hundred},
		}}),
	}}
	assert.True(t, Evaluate(flag, andRule, EvalContext{UserID: "u1", Environment: "PROD"}).Enabled)
	assert.False(t, Evaluate(flag, andRule, EvalContext{UserID: "u2", Environment: "PROD"}).Enabled)

	orRule := []*Rule{{
		Type: RuleOr,
		Condition: mustCondition(t, Condition{Rules: []Condition{
			{Type: RuleAllowlist, UserIDs: []string{"u1"}},
			{Type: RuleAllowlist, UserIDs: []string{"u2"}},
		}}),
	}}
	assert.True(t, Evaluate(flag, orRule, EvalContext{UserID: "u2", Environment: "PROD"}).Enabled)
	assert.False(t, Evaluate(flag, orRule, EvalContext{UserID: "u3", Environment: "PROD"}).Enabled)
}

func TestEvaluate_NoRulesMatched(t *testing.T) {
	flag := prodFlag(true)
	rules := []*Rule{{
		Type:      RuleAllowlist,
		Condition: mustCondition(t, Condition{UserIDs: []string{"someone-else"}}),
	}}

	result := Evaluate(flag, rules, EvalContext{UserID: "u1", Environment: "PROD"})
	assert.False(t, result.Enabled)
	assert.Equal(t, "no rules matched", result.Reason)
}

func TestEvaluate_UnparseableRuleSkipped(t *testing.T) {
	flag := prodFlag(true)
	rules := []*Rule{
		{Type: RuleAllowlist, Condition: json.RawMessage(`{not json`), Order: 0},
		{Type: RuleAllowlist, Condition: mustCondition(t, Condition{UserIDs: []string{"u1"}}), Order: 1},
	}

	result := Evaluate(flag, rules, EvalContext{UserID: "u1", Environment: "PROD"})
	assert.True(t, result.Enabled)
	assert.Equal(t, "matched rule 2", result.Reason)

	foundSkip := false
	for _, line := range result.Trace {
		if strings.Contains(line, "unparseable") {
			foundSkip = true
		}
	}
	assert.True(t, foundSkip)
}

func TestEvaluate_UnknownNestedTypeNonMatching(t *testing.T) {
	flag := prodFlag(true)
	rules := []*Rule{{
		Type:      RuleOr,
		Condition: mustCondition(t, Condition{Rules: []Condition{{Type: "GEOFENCE"}}}),
	}}

	result := Evaluate(flag, rules, EvalContext{UserID: "u1", Environment: "PROD"})
	assert.False(t, result.Enabled)
}
