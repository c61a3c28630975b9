package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestValidationRules_MinMax(t *testing.T) {
	rules := ValidationRules{Min: floatPtr(1), Max: floatPtr(100)}
	require.NoError(t, rules.Compile())

	assert.Empty(t, rules.Check(50, nil))
	assert.Empty(t, rules.Check("1.00", nil))

	failures := rules.Check(0, nil)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "at least")

	failures = rules.Check(101, nil)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "at most")

	// Non-numeric values skip the numeric constraints.
	assert.Empty(t, rules.Check("not a number", nil))
}

func TestValidationRules_Strings(t *testing.T) {
	rules := ValidationRules{
		MinLength: intPtr(3),
		MaxLength: intPtr(5),
		Pattern:   "^[a-z]+$",
	}
	require.NoError(t, rules.Compile())

	assert.Empty(t, rules.Check("abcd", nil))

	failures := rules.Check("ab", nil)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "at least 3 characters")

	failures = rules.Check("ABCDEFG", nil)
	assert.Len(t, failures, 2) // too long and pattern mismatch
}

func TestValidationRules_Enum(t *testing.T) {
	rules := ValidationRules{Enum: []string{"new", "active", "retired"}}
	require.NoError(t, rules.Compile())

	assert.Empty(t, rules.Check("active", nil))
	assert.Len(t, rules.Check("unknown", nil), 1)
}

func TestValidationRules_Expression(t *testing.T) {
	rules := ValidationRules{Expression: `value > 0.0 && values["currency"] == "EUR"`}
	require.NoError(t, rules.Compile())

	all := map[string]any{"currency": "EUR"}
	assert.Empty(t, rules.Check(10.0, all))

	failures := rules.Check(-1.0, all)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0], "must satisfy")

	failures = rules.Check(10.0, map[string]any{"currency": "USD"})
	assert.Len(t, failures, 1)
}

func TestValidationRules_ExpressionCompileError(t *testing.T) {
	rules := ValidationRules{Expression: `value >`}
	assert.Error(t, rules.Compile())

	rules = ValidationRules{Pattern: "("}
	assert.Error(t, rules.Compile())
}

func TestValidationRules_Empty(t *testing.T) {
	rules := ValidationRules{}
	assert.True(t, rules.Empty())
	require.NoError(t, rules.Compile())
	assert.Empty(t, rules.Check("anything", nil))
}
