package alarms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	stats, err := Aggregate("rule-1", nil, 30, now, nil)
	require.NoError(t, err)
	require.Zero(t, stats.TotalCount)
	require.Zero(t, stats.AcknowledgmentRate)
	require.Zero(t, stats.AvgResponseTimeMinutes)
	require.Len(t, stats.Daily, 7)
	require.Len(t, stats.Hourly, 24)
	require.Len(t, stats.SeverityDistribution, len(Severities))
	require.Nil(t, stats.LastTriggered)
	require.Equal(t, "2026-03-04", stats.Daily[0].Date)
	require.Equal(t, "2026-03-10", stats.Daily[6].Date)
}

func TestAggregateCounts(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) time.Time { return now.Add(-d) }
	ptr := func(v time.Time) *time.Time { return &v }

	occurrences := []AlarmOccurrence{
		{TriggeredAt: at(2 * time.Hour), AcknowledgedAt: ptr(at(2*time.Hour - 10*time.Minute)), ClearedAt: ptr(at(time.Hour)), Severity: SeverityMajor},
		{TriggeredAt: at(26 * time.Hour), AcknowledgedAt: ptr(at(26*time.Hour - 5*time.Minute)), Severity: SeverityMajor},
		{TriggeredAt: at(50 * time.Hour), Severity: SeverityCritical},
		{TriggeredAt: at(40 * 24 * time.Hour), Severity: SeverityCritical},
	}

	stats, err := Aggregate("rule-1", occurrences, 30, now, time.UTC)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalCount)
	require.Equal(t, 2, stats.AcknowledgedCount)
	require.Equal(t, 1, stats.ClearedCount)
	require.Equal(t, 1, stats.PendingCount)
	require.Equal(t, 67, stats.AcknowledgmentRate)
	require.Equal(t, 7.5, stats.AvgResponseTimeMinutes)
	require.Equal(t, 0.1, stats.FrequencyPerDay)
	require.Equal(t, 2, stats.SeverityDistribution[SeverityMajor])
	require.Equal(t, 1, stats.SeverityDistribution[SeverityCritical])
	require.Equal(t, 1, stats.Daily[6].Count)
	require.Equal(t, 1, stats.Daily[5].Count)
	require.Equal(t, 1, stats.Daily[4].Count)
	require.Equal(t, 3, stats.Hourly[10].Count)
	require.Equal(t, at(2*time.Hour), *stats.LastTriggered)

	total := 0
	for _, n := range stats.SeverityDistribution {
		total += n
	}
	require.Equal(t, stats.TotalCount, total)
}

func TestAggregateRejectsNonPositiveWindow(t *testing.T) {
	t.Parallel()

	_, err := Aggregate("rule-1", nil, 0, time.Now(), nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestAggregateBucketsInLocalZone(t *testing.T) {
	t.Parallel()

	kst := time.FixedZone("KST", 9*3600)
	// 2026-03-11 03:00 local, still 2026-03-10 in UTC.
	now := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	occurrences := []AlarmOccurrence{
		{TriggeredAt: time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC), Severity: SeverityMinor},
		{TriggeredAt: time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC), Severity: SeverityMinor},
	}

	stats, err := Aggregate("rule-1", occurrences, 7, now, kst)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalCount)
	require.Equal(t, "2026-03-11", stats.Daily[6].Date)
	require.Equal(t, 1, stats.Daily[6].Count)
	require.Equal(t, "2026-03-10", stats.Daily[5].Date)
	require.Equal(t, 1, stats.Daily[5].Count)
	require.Equal(t, 1, stats.Hourly[1].Count)
	require.Equal(t, 1, stats.Hourly[23].Count)
	require.Zero(t, stats.Hourly[16].Count)
	require.Zero(t, stats.Hourly[14].Count)

	utc, err := Aggregate("rule-1", occurrences, 7, now, nil)
	require.NoError(t, err)
	require.Equal(t, "2026-03-10", utc.Daily[6].Date)
	require.Equal(t, 2, utc.Daily[6].Count)
	require.Equal(t, 1, utc.Hourly[16].Count)
}

func TestAggregateCountsUnknownSeverity(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	occurrences := []AlarmOccurrence{
		{TriggeredAt: now.Add(-time.Hour), Severity: SeverityMajor},
		{TriggeredAt: now.Add(-2 * time.Hour), Severity: ""},
		{TriggeredAt: now.Add(-3 * time.Hour), Severity: Severity("fatal")},
	}

	stats, err := Aggregate("rule-1", occurrences, 30, now, nil)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalCount)
	require.Equal(t, 1, stats.SeverityDistribution[SeverityMajor])
	require.Equal(t, 2, stats.SeverityDistribution[SeverityUnknown])

	total := 0
	for _, n := range stats.SeverityDistribution {
		total += n
	}
	require.Equal(t, stats.TotalCount, total)
}
