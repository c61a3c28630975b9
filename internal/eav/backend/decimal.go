package backend

import (
	"fmt"

	"github.com/shopspring/decimal"

	"eavstore/internal/core/apperror"
)

// DecimalScale is the fixed number of decimal places values are rounded to
// on storage. Matches the NUMERIC(15,4) column of the decimal value table.
const DecimalScale = 4

// decimalStrategy stores fixed-point numerics with full precision via
// shopspring/decimal. Any numeric input is accepted and rounded to
// DecimalScale places on the way in.
type decimalStrategy struct {
	table string
}

func (s *decimalStrategy) ValidateValue(value any) error {
	if _, err := asDecimal(value); err != nil {
		return apperror.NewValidation("decimal value must be numeric").WithCause(err)
	}
	return nil
}

func (s *decimalStrategy) TransformForStorage(value any) (any, error) {
	d, err := asDecimal(value)
	if err != nil {
		return nil, apperror.NewValidation("decimal value must be numeric").WithCause(err)
	}
	// Stored as text and cast to NUMERIC in SQL; String() keeps exactness
	// without depending on a driver-level decimal codec.
	return d.Round(DecimalScale).String(), nil
}

func (s *decimalStrategy) TransformFromStorage(value any) (any, error) {
	switch v := value.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("unexpected decimal storage value %q: %w", v, err)
		}
		return d, nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return nil, fmt.Errorf("unexpected decimal storage value %q: %w", v, err)
		}
		return d, nil
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return nil, fmt.Errorf("unexpected decimal storage type %T", value)
	}
}

func (s *decimalStrategy) BackendType() Type { return TypeDecimal }

func (s *decimalStrategy) TableName() string { return s.table }
