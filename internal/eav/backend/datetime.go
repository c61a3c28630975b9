package backend

import (
	"fmt"
	"time"

	"eavstore/internal/core/apperror"
)

// DatetimeLayout is the canonical storage representation of a datetime.
const DatetimeLayout = "2006-01-02 15:04:05"

// datetimeLayouts are the accepted input formats, canonical first.
var datetimeLayouts = []string{
	DatetimeLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// datetimeStrategy stores timestamps at second precision in UTC.
// Accepts either a time.Time or a string parseable as one.
type datetimeStrategy struct {
	table string
}

func parseDatetime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Truncate(time.Second), nil
	case string:
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC().Truncate(time.Second), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable datetime %q", v)
	default:
		return time.Time{}, fmt.Errorf("datetime value must be time.Time or string, got %T", value)
	}
}

func (s *datetimeStrategy) ValidateValue(value any) error {
	if _, err := parseDatetime(value); err != nil {
		return apperror.NewValidation("invalid datetime value").WithCause(err)
	}
	return nil
}

func (s *datetimeStrategy) TransformForStorage(value any) (any, error) {
	t, err := parseDatetime(value)
	if err != nil {
		return nil, apperror.NewValidation("invalid datetime value").WithCause(err)
	}
	return t.Format(DatetimeLayout), nil
}

func (s *datetimeStrategy) TransformFromStorage(value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Truncate(time.Second), nil
	case string:
		t, err := time.Parse(DatetimeLayout, v)
		if err != nil {
			return nil, fmt.Errorf("unexpected datetime storage value %q: %w", v, err)
		}
		return t.UTC(), nil
	default:
		return nil, fmt.Errorf("unexpected datetime storage type %T", value)
	}
}

func (s *datetimeStrategy) BackendType() Type { return TypeDatetime }

func (s *datetimeStrategy) TableName() string { return s.table }
