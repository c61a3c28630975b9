// Package backend implements the per-type storage strategies of the EAV
// engine. Each attribute is persisted into one of five value tables whose
// column type matches the strategy, avoiding the "everything is a string"
// EAV pitfall at the cost of one join per backend type touched by a query.
package backend

import (
	"fmt"
)

// Type identifies the storage-level type category of an attribute.
// The set is closed; dispatch happens through the Strategy interface,
// not through runtime string switches in calling code.
type Type string

const (
	TypeVarchar  Type = "varchar"
	TypeInt      Type = "int"
	TypeDecimal  Type = "decimal"
	TypeText     Type = "text"
	TypeDatetime Type = "datetime"
)

// Types lists all backend types in a stable order.
func Types() []Type {
	return []Type{TypeVarchar, TypeInt, TypeDecimal, TypeText, TypeDatetime}
}

// Valid reports whether t is a known backend type.
func (t Type) Valid() bool {
	switch t {
	case TypeVarchar, TypeInt, TypeDecimal, TypeText, TypeDatetime:
		return true
	}
	return false
}

// Strategy knows how to validate a candidate value for one backend type and
// how to convert between the in-memory and the storage representation.
type Strategy interface {
	// ValidateValue type- and constraint-checks a candidate value.
	ValidateValue(value any) error

	// TransformForStorage normalizes the value for the value table
	// (decimal rounding, datetime canonicalization).
	TransformForStorage(value any) (any, error)

	// TransformFromStorage is the inverse of TransformForStorage.
	TransformFromStorage(value any) (any, error)

	// BackendType returns the strategy's type tag.
	BackendType() Type

	// TableName returns the value table this strategy persists into.
	TableName() string
}

// TableNames maps each backend type to its value table.
type TableNames map[Type]string

// DefaultTableNames returns the standard value table layout.
func DefaultTableNames() TableNames {
	return TableNames{
		TypeVarchar:  "eav_entity_varchar",
		TypeInt:      "eav_entity_int",
		TypeDecimal:  "eav_entity_decimal",
		TypeText:     "eav_entity_text",
		TypeDatetime: "eav_entity_datetime",
	}
}

// Set holds one strategy per backend type.
type Set struct {
	strategies map[Type]Strategy
}

// NewSet builds the full strategy set over the given value tables.
// Missing table names fall back to the defaults.
func NewSet(tables TableNames) *Set {
	defaults := DefaultTableNames()
	table := func(t Type) string {
		if name, ok := tables[t]; ok && name != "" {
			return name
		}
		return defaults[t]
	}

	return &Set{strategies: map[Type]Strategy{
		TypeVarchar:  &varcharStrategy{table: table(TypeVarchar)},
		TypeInt:      &intStrategy{table: table(TypeInt)},
		TypeDecimal:  &decimalStrategy{table: table(TypeDecimal)},
		TypeText:     &textStrategy{table: table(TypeText)},
		TypeDatetime: &datetimeStrategy{table: table(TypeDatetime)},
	}}
}

// ForType returns the strategy for a backend type.
func (s *Set) ForType(t Type) (Strategy, error) {
	strategy, ok := s.strategies[t]
	if !ok {
		return nil, fmt.Errorf("unknown backend type %q", t)
	}
	return strategy, nil
}

// All returns every strategy in stable type order.
func (s *Set) All() []Strategy {
	out := make([]Strategy, 0, len(s.strategies))
	for _, t := range Types() {
		out = append(out, s.strategies[t])
	}
	return out
}

// TableFor returns the value table for a backend type.
func (s *Set) TableFor(t Type) (string, error) {
	strategy, err := s.ForType(t)
	if err != nil {
		return "", err
	}
	return strategy.TableName(), nil
}
