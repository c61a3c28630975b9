package backend

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_TableNames(t *testing.T) {
	set := NewSet(TableNames{TypeVarchar: "custom_varchar"})

	table, err := set.TableFor(TypeVarchar)
	require.NoError(t, err)
	assert.Equal(t, "custom_varchar", table)

	table, err = set.TableFor(TypeInt)
	require.NoError(t, err)
	assert.Equal(t, "eav_entity_int", table)

	_, err = set.ForType(Type("blob"))
	assert.Error(t, err)
}

func TestVarcharStrategy(t *testing.T) {
	set := NewSet(nil)
	s, err := set.ForType(TypeVarchar)
	require.NoError(t, err)

	tests := []struct {
		name    string
		value   any
		wantErr bool
	}{
		{name: "plain string", value: "hello"},
		{name: "empty string", value: ""},
		{name: "exactly max length", value: strings.Repeat("x", 255)},
		{name: "over max length", value: strings.Repeat("x", 256), wantErr: true},
		{name: "multibyte runes counted once", value: strings.Repeat("ü", 255)},
		{name: "not a string", value: 42, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ValidateValue(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			stored, err := s.TransformForStorage(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.value, stored)
		})
	}
}

func TestIntStrategy(t *testing.T) {
	set := NewSet(nil)
	s, err := set.ForType(TypeInt)
	require.NoError(t, err)

	tests := []struct {
		name    string
		value   any
		want    int64
		wantErr bool
	}{
		{name: "int", value: 42, want: 42},
		{name: "int64", value: int64(-7), want: -7},
		{name: "integral float", value: float64(100), want: 100},
		{name: "fractional float rejected", value: 3.5, wantErr: true},
		{name: "json number", value: json.Number("12345"), want: 12345},
		{name: "fractional json number rejected", value: json.Number("1.5"), wantErr: true},
		{name: "integral decimal", value: decimal.NewFromInt(9), want: 9},
		{name: "string rejected", value: "42", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := s.TransformForStorage(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored)

			back, err := s.TransformFromStorage(stored)
			require.NoError(t, err)
			assert.Equal(t, tt.want, back)
		})
	}
}

func TestDecimalStrategy(t *testing.T) {
	set := NewSet(nil)
	s, err := set.ForType(TypeDecimal)
	require.NoError(t, err)

	tests := []struct {
		name    string
		value   any
		want    string
		wantErr bool
	}{
		{name: "string input", value: "19.99", want: "19.99"},
		{name: "float input", value: 0.125, want: "0.125"},
		{name: "int input", value: 7, want: "7"},
		{name: "rounds beyond scale", value: "1.23456", want: "1.2346"},
		{name: "json number keeps precision", value: json.Number("123456789.0001"), want: "123456789.0001"},
		{name: "non numeric string", value: "abc", wantErr: true},
		{name: "unsupported type", value: []int{1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := s.TransformForStorage(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			got, ok := stored.(string)
			require.True(t, ok, "decimal storage representation must be a string")
			assert.True(t, decimal.RequireFromString(tt.want).Equal(decimal.RequireFromString(got)),
				"want %s, got %s", tt.want, got)

			back, err := s.TransformFromStorage(stored)
			require.NoError(t, err)
			d, ok := back.(decimal.Decimal)
			require.True(t, ok)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(d))
		})
	}
}

func TestDatetimeStrategy(t *testing.T) {
	set := NewSet(nil)
	s, err := set.ForType(TypeDatetime)
	require.NoError(t, err)

	moment := time.Date(2024, 6, 1, 15, 30, 45, 999000000, time.UTC)

	tests := []struct {
		name    string
		value   any
		want    string
		wantErr bool
	}{
		{name: "time truncated to seconds", value: moment, want: "2024-06-01 15:30:45"},
		{name: "canonical string", value: "2024-06-01 15:30:45", want: "2024-06-01 15:30:45"},
		{name: "rfc3339 converted to utc", value: "2024-06-01T17:30:45+02:00", want: "2024-06-01 15:30:45"},
		{name: "date only", value: "2024-06-01", want: "2024-06-01 00:00:00"},
		{name: "garbage string", value: "not a date", wantErr: true},
		{name: "unsupported type", value: 12345, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := s.TransformForStorage(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored)

			back, err := s.TransformFromStorage(stored)
			require.NoError(t, err)
			parsed, ok := back.(time.Time)
			require.True(t, ok)
			assert.Equal(t, tt.want, parsed.Format(DatetimeLayout))
		})
	}
}

func TestTextStrategy_Unbounded(t *testing.T) {
	set := NewSet(nil)
	s, err := set.ForType(TypeText)
	require.NoError(t, err)

	long := strings.Repeat("paragraph ", 10000)
	require.NoError(t, s.ValidateValue(long))

	stored, err := s.TransformForStorage(long)
	require.NoError(t, err)
	assert.Equal(t, long, stored)

	assert.Error(t, s.ValidateValue(123))
}
