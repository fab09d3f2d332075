package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundingMode_Apply(t *testing.T) {
	tests := []struct {
		mode RoundingMode
		in   string
		want string
	}{
		{RoundHalfEven, "2.5", "2"},
		{RoundHalfEven, "3.5", "4"},
		{RoundHalfUp, "2.5", "3"},
		{RoundUp, "2.1", "3"},
		{RoundDown, "2.9", "2"},
		{RoundCeiling, "-2.1", "-2"},
		{RoundFloor, "-2.1", "-3"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode)+"_"+tt.in, func(t *testing.T) {
			got := tt.mode.Apply(dec(tt.in), 0)
			assert.True(t, dec(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParseRoundingMode(t *testing.T) {
	m, err := ParseRoundingMode("")
	require.NoError(t, err)
	assert.Equal(t, RoundHalfEven, m)

	m, err = ParseRoundingMode("HALF_UP")
	require.NoError(t, err)
	assert.Equal(t, RoundHalfUp, m)

	_, err = ParseRoundingMode("banker")
	assert.Error(t, err)
}

func TestDefaultConversionTable(t *testing.T) {
	table := DefaultConversionTable()
	window := dailyWindow(t)

	rule, ok := table.Lookup("gigabyte", "megabyte")
	require.True(t, ok)
	assert.True(t, dec("1024").Equal(rule.Apply(dec("1"), window)))

	rule, ok = table.Lookup("byte", "gigabyte")
	require.True(t, ok)
	assert.True(t, dec("1").Equal(rule.Apply(dec("1073741824"), window)))

	rule, ok = table.Lookup("second", "hour")
	require.True(t, ok)
	assert.True(t, dec("2").Equal(rule.Apply(dec("7200"), window)))

	_, ok = table.Lookup("byte", "hour")
	assert.False(t, ok)
}

func TestConversionTable_Identity(t *testing.T) {
	var table *ConversionTable
	rule, ok := table.Lookup("vcpu", "vcpu")
	require.True(t, ok)
	assert.Equal(t, DefaultLineItemScale, rule.Scale)
	assert.True(t, dec("3.25").Equal(rule.Apply(dec("3.25"), dailyWindow(t))))
}

func TestConversionTable_PerTimeUnit(t *testing.T) {
	table, err := NewConversionTable([]ConversionRule{{
		From: "gigabyte", To: "gigabyte-hour",
		Numerator: decimalOne, Denominator: decimalOne,
		Per: "hour", Scale: 3, Rounding: RoundHalfUp,
	}})
	require.NoError(t, err)

	rule, ok := table.Lookup("gigabyte", "gigabyte-hour")
	require.True(t, ok)

	daily := rule.Apply(dec("10"), dailyWindow(t))
	assert.True(t, dec("240").Equal(daily), daily.String())

	feb, err := WindowAt(GranularityMonthly, "UTC", time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, dec("696").Equal(rule.Apply(dec("1"), feb)))

	scale, mode := table.Precision("gigabyte-hour")
	assert.Equal(t, int32(3), scale)
	assert.Equal(t, RoundHalfUp, mode)
}

func TestConversionTable_Validation(t *testing.T) {
	_, err := NewConversionTable([]ConversionRule{{From: "a", To: "b", Numerator: decimal.Zero, Denominator: decimalOne}})
	assert.Error(t, err, "zero factor")

	_, err = NewConversionTable([]ConversionRule{{From: "a", To: "b", Numerator: decimalOne, Denominator: decimalOne, Per: "fortnight"}})
	assert.Error(t, err, "unknown time unit")

	_, err = NewConversionTable([]ConversionRule{
		{From: "a", To: "c", Numerator: decimalOne, Denominator: decimalOne, Scale: 2},
		{From: "b", To: "c", Numerator: decimalOne, Denominator: decimalOne, Scale: 4},
	})
	assert.Error(t, err, "conflicting precision for one target unit")
}

func TestConversionTable_Merge(t *testing.T) {
	custom, err := NewConversionTable([]ConversionRule{
		{From: "second", To: "hour", Numerator: decimalOne, Denominator: decimal.NewFromInt(3600), Scale: 2, Rounding: RoundUp},
	})
	require.NoError(t, err)

	merged := DefaultConversionTable().Merge(custom)

	rule, ok := merged.Lookup("second", "hour")
	require.True(t, ok)
	assert.Equal(t, RoundUp, rule.Rounding)

	other, ok := merged.Lookup("minute", "hour")
	require.True(t, ok)
	assert.Equal(t, int32(2), other.Scale, "target unit precision follows the override")

	_, ok = merged.Lookup("gigabyte", "byte")
	assert.True(t, ok)
}

func TestConversionRule_RoundsOnce(t *testing.T) {
	rule, ok := DefaultConversionTable().Lookup("byte", "kilobyte")
	require.True(t, ok)
	window := dailyWindow(t)

	one := rule.Apply(dec("1"), window)
	total := one.Add(one)

	assert.Equal(t, "0.001953", rule.Round(total).String())
	assert.Equal(t, "0.001954", rule.Round(one).Add(rule.Round(one)).String())
}
