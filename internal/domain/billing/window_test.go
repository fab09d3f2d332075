package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity(" Daily ")
	require.NoError(t, err)
	assert.Equal(t, GranularityDaily, g)

	_, err = ParseGranularity("weekly")
	assert.Error(t, err)
}

func TestWindowAt(t *testing.T) {
	t.Run("daily UTC", func(t *testing.T) {
		w, err := WindowAt(GranularityDaily, "UTC", time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), w.Start)
		assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), w.End)
		assert.Equal(t, 24*time.Hour, w.Duration())
	})

	t.Run("daily aligned to local midnight", func(t *testing.T) {
		// 23:30 UTC is 00:30 the next day in Berlin (UTC+1 in March before DST)
		w, err := WindowAt(GranularityDaily, "Europe/Berlin", time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 15, 23, 0, 0, 0, time.UTC), w.Start)
		assert.Equal(t, time.Date(2024, 3, 16, 23, 0, 0, 0, time.UTC), w.End)
		assert.Equal(t, "Europe/Berlin", w.Timezone)
	})

	t.Run("daily across spring forward is 23 hours", func(t *testing.T) {
		w, err := WindowAt(GranularityDaily, "America/New_York", time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC), w.Start)
		assert.Equal(t, time.Date(2024, 3, 11, 4, 0, 0, 0, time.UTC), w.End)
		assert.Equal(t, 23*time.Hour, w.Duration())
	})

	t.Run("hourly in repeated fall back hour", func(t *testing.T) {
		first, err := WindowAt(GranularityHourly, "America/New_York", time.Date(2024, 11, 3, 5, 30, 0, 0, time.UTC))
		require.NoError(t, err)
		second, err := WindowAt(GranularityHourly, "America/New_York", time.Date(2024, 11, 3, 6, 30, 0, 0, time.UTC))
		require.NoError(t, err)

		assert.Equal(t, time.Date(2024, 11, 3, 5, 0, 0, 0, time.UTC), first.Start)
		assert.Equal(t, time.Date(2024, 11, 3, 6, 0, 0, 0, time.UTC), second.Start)
		assert.Equal(t, time.Hour, first.Duration())
		assert.Equal(t, time.Hour, second.Duration())
	})

	t.Run("monthly february leap year", func(t *testing.T) {
		w, err := WindowAt(GranularityMonthly, "UTC", time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), w.Start)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), w.End)
		assert.Equal(t, 29*24*time.Hour, w.Duration())
	})

	t.Run("monthly december rolls over year", func(t *testing.T) {
		w, err := WindowAt(GranularityMonthly, "UTC", time.Date(2023, 12, 10, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), w.End)
	})

	t.Run("unknown timezone", func(t *testing.T) {
		_, err := WindowAt(GranularityDaily, "Mars/Olympus", time.Now())
		assert.Error(t, err)
	})

	t.Run("deterministic", func(t *testing.T) {
		at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
		a, err := WindowAt(GranularityDaily, "Asia/Tokyo", at)
		require.NoError(t, err)
		b, err := WindowAt(GranularityDaily, "Asia/Tokyo", at.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestBillingWindow_Contains(t *testing.T) {
	w, err := WindowAt(GranularityDaily, "UTC", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.End.Add(-time.Nanosecond)))
	assert.False(t, w.Contains(w.End))
	assert.False(t, w.Contains(w.Start.Add(-time.Nanosecond)))
}

func TestWindowsBetween(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	to := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)

	windows, err := WindowsBetween(GranularityHourly, "UTC", from, to, 0)
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), windows[0].Start)
	assert.Equal(t, windows[0].End, windows[1].Start)
	assert.Equal(t, to, windows[2].End)

	limited, err := WindowsBetween(GranularityHourly, "UTC", from, to, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := WindowsBetween(GranularityDaily, "UTC", from, to, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBillingWindow_Validate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Error(t, BillingWindow{}.Validate())
	assert.Error(t, BillingWindow{Start: start, End: start, Granularity: GranularityDaily}.Validate())
	assert.Error(t, BillingWindow{Start: start, End: start.Add(time.Hour), Granularity: "weekly"}.Validate())
	assert.NoError(t, BillingWindow{Start: start, End: start.Add(time.Hour), Granularity: GranularityHourly}.Validate())
}

func TestWindowKey(t *testing.T) {
	w, err := WindowAt(GranularityDaily, "UTC", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	key := w.Key("tenant-a")
	assert.Equal(t, "tenant-a/2024-01-01T00:00:00Z/2024-01-02T00:00:00Z", key.String())
	assert.NoError(t, key.Validate())
	assert.Error(t, WindowKey{Start: w.Start, End: w.End}.Validate())
}
