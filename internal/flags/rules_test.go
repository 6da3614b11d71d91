package flags

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRule_Allowlist(t *testing.T) {
	assert.NoError(t, ValidateRule(RuleAllowlist, json.RawMessage(`{"user_ids": ["u1", "u2"]}`)))
	assert.NoError(t, ValidateRule(RuleAllowlist, json.RawMessage(`{"user_ids": []}`)))
}

func TestValidateRule_PercentRollout(t *testing.T) {
	assert.NoError(t, ValidateRule(RulePercentRollout, json.RawMessage(`{"percentage": 0}`)))
	assert.NoError(t, ValidateRule(RulePercentRollout, json.RawMessage(`{"percentage": 100}`)))

	err := ValidateRule(RulePercentRollout, json.RawMessage(`{"percentage": 101}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 0 and 100")

	err = ValidateRule(RulePercentRollout, json.RawMessage(`{"percentage": -1}`))
	require.Error(t, err)

	err = ValidateRule(RulePercentRollout, json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a percentage")

	// Fractions are not integers.
	err = ValidateRule(RulePercentRollout, json.RawMessage(`{"percentage": 25.5}`))
	require.Error(t, err)
}

func TestValidateRule_AndOrRequireChildren(t *testing.T) {
	err := ValidateRule(RuleAnd, json.RawMessage(`{"rules": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one child")

	err = ValidateRule(RuleOr, json.RawMessage(`{}`))
	require.Error(t, err)

	valid := `{"rules": [{"type": "ALLOWLIST", "user_ids": ["u1"]}]}`
	assert.NoError(t, ValidateRule(RuleAnd, json.RawMessage(valid)))
	assert.NoError(t, ValidateRule(RuleOr, json.RawMessage(valid)))
}

func TestValidateRule_UnknownType(t *testing.T) {
	err := ValidateRule("GEOFENCE", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown rule type")

	// Nested unknown types are rejected too.
	err = ValidateRule(RuleAnd, json.RawMessage(`{"rules": [{"type": "GEOFENCE"}]}`))
	require.Error(t, err)
}

func TestValidateRule_InvalidJSON(t *testing.T) {
	err := ValidateRule(RuleAllowlist, json.RawMessage(`{not json`))
	require.Error(t, err)
}

// nestedCondition builds an AND chain of the given depth, ending in an
// allowlist leaf.
func nestedCondition(depth int) string {
	leaf := `{"type": "ALLOWLIST", "user_ids": ["u1"]}`
	node := leaf
	for i := 0; i < depth-1; i++ {
		node = fmt.Sprintf(`{"type": "AND", "rules": [%s]}`, node)
	}
	// Strip the outer type; ValidateRule receives it separately.
	node = strings.Replace(node, `{"type": "AND", `, `{`, 1)
	return node
}

func TestValidateRule_DepthBound(t *testing.T) {
	assert.NoError(t, ValidateRule(RuleAnd, json.RawMessage(nestedCondition(maxRuleDepth))))

	err := ValidateRule(RuleAnd, json.RawMessage(nestedCondition(maxRuleDepth+1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "depth")
}

func TestValidKey(t *testing.T) {
	for key, want := range map[string]bool{
		"new_checkout_flow": true,
		"new-checkout-flow": true,
		"flag1":             true,
		"a":                 true,
		"New_Checkout":      false,
		"flag key":          false,
		"-leading":          false,
		"trailing-":         false,
		"":                  false,
		"double__ok":        false,
	} {
		assert.Equal(t, want, ValidKey(key), "key %q", key)
	}
}
