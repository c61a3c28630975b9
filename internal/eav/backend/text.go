package backend

import (
	"fmt"

	"eavstore/internal/core/apperror"
)

// textStrategy stores unbounded strings. Only string input is accepted;
// there is no implicit stringification of other types.
type textStrategy struct {
	table string
}

func (s *textStrategy) ValidateValue(value any) error {
	if _, ok := value.(string); !ok {
		return apperror.NewValidation(fmt.Sprintf("text value must be a string, got %T", value))
	}
	return nil
}

func (s *textStrategy) TransformForStorage(value any) (any, error) {
	str, ok := value.(string)
	if !ok {
		return nil, apperror.NewValidation(fmt.Sprintf("text value must be a string, got %T", value))
	}
	return str, nil
}

func (s *textStrategy) TransformFromStorage(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return nil, fmt.Errorf("unexpected text storage type %T", value)
	}
}

func (s *textStrategy) BackendType() Type { return TypeText }

func (s *textStrategy) TableName() string { return s.table }
