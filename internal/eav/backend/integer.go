package backend

import (
	"fmt"

	"eavstore/internal/core/apperror"
)

// intStrategy stores exact integral numerics. A float with a fractional
// part is a validation error, not a truncation.
type intStrategy struct {
	table string
}

func (s *intStrategy) ValidateValue(value any) error {
	if _, err := asInt64(value); err != nil {
		return apperror.NewValidation("int value must be an exact integral number").WithCause(err)
	}
	return nil
}

func (s *intStrategy) TransformForStorage(value any) (any, error) {
	i, err := asInt64(value)
	if err != nil {
		return nil, apperror.NewValidation("int value must be an exact integral number").WithCause(err)
	}
	return i, nil
}

func (s *intStrategy) TransformFromStorage(value any) (any, error) {
	i, err := asInt64(value)
	if err != nil {
		return nil, fmt.Errorf("unexpected int storage value: %w", err)
	}
	return i, nil
}

func (s *intStrategy) BackendType() Type { return TypeInt }

func (s *intStrategy) TableName() string { return s.table }
