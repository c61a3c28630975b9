package metadata

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"eavstore/internal/eav/backend"
)

// ValidationRules carries the structured constraints of one attribute.
// Pattern and Expression are compiled once by Compile, not per check.
type ValidationRules struct {
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Enum      []string `json:"enum,omitempty"`

	// Expression is an optional CEL predicate over `value` and the full
	// `values` map; it must evaluate to true for the value to be accepted.
	Expression string `json:"expression,omitempty"`

	pattern *regexp.Regexp
	program cel.Program
}

// Empty reports whether no constraint is configured.
func (r *ValidationRules) Empty() bool {
	return r.Min == nil && r.Max == nil &&
		r.MinLength == nil && r.MaxLength == nil &&
		r.Pattern == "" && len(r.Enum) == 0 && r.Expression == ""
}

// Compile prepares the pattern and expression for evaluation.
// Called once when definitions are loaded, never per access.
func (r *ValidationRules) Compile() error {
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("compile pattern %q: %w", r.Pattern, err)
		}
		r.pattern = re
	}
	if r.Expression != "" {
		env, err := cel.NewEnv(
			cel.Variable("value", cel.DynType),
			cel.Variable("values", cel.MapType(cel.StringType, cel.DynType)),
		)
		if err != nil {
			return fmt.Errorf("create expression env: %w", err)
		}
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("compile expression %q: %w", r.Expression, issues.Err())
		}
		program, err := env.Program(ast)
		if err != nil {
			return fmt.Errorf("build expression program %q: %w", r.Expression, err)
		}
		r.program = program
	}
	return nil
}

// Check evaluates every configured constraint against a candidate value and
// returns all failure messages, not just the first. Type mismatches are left
// to the backend strategy; constraints silently skip values of an
// incompatible shape.
func (r *ValidationRules) Check(value any, all map[string]any) []string {
	var failures []string

	if r.Min != nil || r.Max != nil {
		if d, err := backend.AsDecimal(value); err == nil {
			if r.Min != nil && d.LessThan(decimal.NewFromFloat(*r.Min)) {
				failures = append(failures, fmt.Sprintf("must be at least %v", *r.Min))
			}
			if r.Max != nil && d.GreaterThan(decimal.NewFromFloat(*r.Max)) {
				failures = append(failures, fmt.Sprintf("must be at most %v", *r.Max))
			}
		}
	}

	if str, ok := value.(string); ok {
		length := utf8.RuneCountInString(str)
		if r.MinLength != nil && length < *r.MinLength {
			failures = append(failures, fmt.Sprintf("must be at least %d characters", *r.MinLength))
		}
		if r.MaxLength != nil && length > *r.MaxLength {
			failures = append(failures, fmt.Sprintf("must be at most %d characters", *r.MaxLength))
		}
		if r.pattern != nil && !r.pattern.MatchString(str) {
			failures = append(failures, fmt.Sprintf("must match pattern %s", r.Pattern))
		}
	}

	if len(r.Enum) > 0 {
		candidate := fmt.Sprint(value)
		found := false
		for _, allowed := range r.Enum {
			if candidate == allowed {
				found = true
				break
			}
		}
		if !found {
			failures = append(failures, fmt.Sprintf("must be one of %v", r.Enum))
		}
	}

	if r.program != nil {
		if ok, err := r.evalExpression(value, all); err != nil {
			failures = append(failures, fmt.Sprintf("expression check failed: %v", err))
		} else if !ok {
			failures = append(failures, fmt.Sprintf("must satisfy %s", r.Expression))
		}
	}

	return failures
}

func (r *ValidationRules) evalExpression(value any, all map[string]any) (bool, error) {
	values := make(map[string]any, len(all))
	for code, v := range all {
		values[code] = celValue(v)
	}
	out, _, err := r.program.Eval(map[string]any{
		"value":  celValue(value),
		"values": values,
	})
	if err != nil {
		return false, err
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("expression did not return a boolean")
	}
	return ok, nil
}

// celValue maps engine value types onto types the CEL runtime adapts natively.
func celValue(v any) any {
	switch t := v.(type) {
	case decimal.Decimal:
		f, _ := t.Float64()
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	case time.Time:
		return t.Format(backend.DatetimeLayout)
	default:
		return v
	}
}
