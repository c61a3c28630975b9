package backend

import (
	"fmt"
	"unicode/utf8"

	"eavstore/internal/core/apperror"
)

// VarcharMaxLength is the column width of the varchar value table.
const VarcharMaxLength = 255

// varcharStrategy stores short strings. Overlong strings are rejected at
// validation time, never truncated.
type varcharStrategy struct {
	table string
}

func (s *varcharStrategy) ValidateValue(value any) error {
	str, ok := value.(string)
	if !ok {
		return apperror.NewValidation(fmt.Sprintf("varchar value must be a string, got %T", value))
	}
	if utf8.RuneCountInString(str) > VarcharMaxLength {
		return apperror.NewValidation(fmt.Sprintf("varchar value exceeds %d characters", VarcharMaxLength)).
			WithDetail("length", utf8.RuneCountInString(str))
	}
	return nil
}

func (s *varcharStrategy) TransformForStorage(value any) (any, error) {
	if err := s.ValidateValue(value); err != nil {
		return nil, err
	}
	return value.(string), nil
}

func (s *varcharStrategy) TransformFromStorage(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return nil, fmt.Errorf("unexpected varchar storage type %T", value)
	}
}

func (s *varcharStrategy) BackendType() Type { return TypeVarchar }

func (s *varcharStrategy) TableName() string { return s.table }
