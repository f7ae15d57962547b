package daykey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsMalformedKeys(t *testing.T) {
	for _, bad := range []string{"", "2025-1-6", "06-01-2025", "2025-13-01", "not-a-date"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}

	k, err := Parse("2025-01-06")
	require.NoError(t, err)
	assert.Equal(t, Key("2025-01-06"), k)
}

func TestFromTimeUsesLocationCalendarDay(t *testing.T) {
	brisbane, err := time.LoadLocation("Australia/Brisbane")
	require.NoError(t, err)

	// 20:00 UTC on the 5th is already the 6th in Brisbane (UTC+10).
	instant := time.Date(2025, 1, 5, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, Key("2025-01-06"), FromTime(instant, brisbane))
	assert.Equal(t, Key("2025-01-05"), FromTime(instant, time.UTC))
}

func TestAddDaysCrossesMonthAndYear(t *testing.T) {
	assert.Equal(t, Key("2025-02-01"), Key("2025-01-31").AddDays(1))
	assert.Equal(t, Key("2026-01-01"), Key("2025-12-31").AddDays(1))
	assert.Equal(t, Key("2024-02-29"), Key("2024-03-01").AddDays(-1))
	assert.Equal(t, Key("2025-01-06"), Key("2025-01-06").AddDays(0))
}

func TestWeekdayMondayBased(t *testing.T) {
	assert.Equal(t, 0, Key("2025-01-06").Weekday()) // Monday
	assert.Equal(t, 3, Key("2025-01-09").Weekday()) // Thursday
	assert.Equal(t, 6, Key("2025-01-12").Weekday()) // Sunday
	assert.Equal(t, -1, Key("garbage").Weekday())
}

func TestOrderingAndZeroValue(t *testing.T) {
	assert.True(t, Key("2025-01-06").Before(Key("2025-01-07")))
	assert.True(t, Key("2025-01-07").After(Key("2025-01-06")))
	assert.Equal(t, 0, Key("2025-01-06").Compare(Key("2025-01-06")))
	assert.True(t, Key("").IsZero())
	assert.True(t, Key("").Before(Key("2025-01-06")))
}

func TestDaysUntil(t *testing.T) {
	assert.Equal(t, 7, Key("2025-01-06").DaysUntil(Key("2025-01-13")))
	assert.Equal(t, -7, Key("2025-01-13").DaysUntil(Key("2025-01-06")))
	assert.Equal(t, 0, Key("2025-01-06").DaysUntil(Key("2025-01-06")))
}

func TestMaxMinIgnoreZeroKeys(t *testing.T) {
	assert.Equal(t, Key("2025-01-13"), Max(Key(""), Key("2025-01-06"), Key("2025-01-13")))
	assert.Equal(t, Key("2025-01-06"), Min(Key("2025-01-13"), Key(""), Key("2025-01-06")))
	assert.True(t, Max().IsZero())
}

func TestScanSupportsDriverTypes(t *testing.T) {
	var k Key
	require.NoError(t, k.Scan(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, Key("2025-01-06"), k)

	require.NoError(t, k.Scan([]byte("2025-02-03")))
	assert.Equal(t, Key("2025-02-03"), k)

	require.NoError(t, k.Scan(nil))
	assert.True(t, k.IsZero())

	assert.Error(t, k.Scan(42))
}

func TestValueRejectsMalformedKeys(t *testing.T) {
	v, err := Key("2025-01-06").Value()
	require.NoError(t, err)
	assert.Equal(t, "2025-01-06", v)

	v, err = Key("").Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Key("garbage").Value()
	assert.Error(t, err)
}
