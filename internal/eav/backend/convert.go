package backend

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// asInt64 coerces an exact integral numeric into int64.
// Fractional floats and non-numeric types are rejected.
func asInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, fmt.Errorf("integer overflow: %d", v)
		}
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("integer overflow: %d", v)
		}
		return int64(v), nil
	case float32:
		return floatToInt64(float64(v))
	case float64:
		return floatToInt64(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", v.String())
		}
		return floatToInt64(f)
	case decimal.Decimal:
		if !v.IsInteger() {
			return 0, fmt.Errorf("not an integral value: %s", v.String())
		}
		return v.IntPart(), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a finite number: %v", f)
	}
	if math.Trunc(f) != f {
		return 0, fmt.Errorf("not an integral value: %v", f)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("integer overflow: %v", f)
	}
	return int64(f), nil
}

// AsDecimal exposes numeric coercion for validation-rule checks.
func AsDecimal(value any) (decimal.Decimal, error) {
	return asDecimal(value)
}

// asDecimal coerces any numeric into a decimal.Decimal with full precision.
// json.Number goes through its string form so float rounding never leaks in.
func asDecimal(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int8:
		return decimal.NewFromInt(int64(v)), nil
	case int16:
		return decimal.NewFromInt(int64(v)), nil
	case int32:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint:
		return decimal.NewFromString(fmt.Sprintf("%d", v))
	case uint8:
		return decimal.NewFromInt(int64(v)), nil
	case uint16:
		return decimal.NewFromInt(int64(v)), nil
	case uint32:
		return decimal.NewFromInt(int64(v)), nil
	case uint64:
		return decimal.NewFromString(fmt.Sprintf("%d", v))
	case float32:
		return decimal.NewFromFloat32(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, fmt.Errorf("not a finite number: %v", v)
		}
		return decimal.NewFromFloat(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		return decimal.NewFromString(v)
	default:
		return decimal.Zero, fmt.Errorf("unsupported type %T", value)
	}
}
