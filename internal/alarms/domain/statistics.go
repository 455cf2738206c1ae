package alarms

import (
	"math"
	"time"
)

const (
	dailyBuckets  = 7
	hourlyBuckets = 24
	dateLayout    = "2006-01-02"
)

// SeverityUnknown buckets occurrences whose stored severity is empty or
// unrecognized so the distribution always sums to TotalCount.
const SeverityUnknown Severity = "unknown"

// DailyCount is the number of occurrences triggered on one local calendar day.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// HourlyCount is the number of occurrences triggered in one local hour of day.
type HourlyCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// Statistics summarizes a rule's occurrences over a window.
type Statistics struct {
	RuleID                 string           `json:"rule_id"`
	WindowDays             int              `json:"window_days"`
	TotalCount             int              `json:"total_count"`
	AcknowledgedCount      int              `json:"acknowledged_count"`
	ClearedCount           int              `json:"cleared_count"`
	PendingCount           int              `json:"pending_count"`
	AcknowledgmentRate     int              `json:"acknowledgment_rate"`
	AvgResponseTimeMinutes float64          `json:"avg_response_time_minutes"`
	FrequencyPerDay        float64          `json:"frequency_per_day"`
	SeverityDistribution   map[Severity]int `json:"severity_distribution"`
	Daily                  []DailyCount     `json:"daily"`
	Hourly                 []HourlyCount    `json:"hourly"`
	LastTriggered          *time.Time       `json:"last_triggered"`
}

// Aggregate computes statistics over occurrences triggered in [now-windowDays, now].
// Calendar buckets use loc; nil means UTC.
func Aggregate(ruleID string, occurrences []AlarmOccurrence, windowDays int, now time.Time, loc *time.Location) (Statistics, error) {
	if windowDays <= 0 {
		return Statistics{}, Validationf("window days must be positive")
	}
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	from := now.AddDate(0, 0, -windowDays)

	stats := Statistics{
		RuleID:               ruleID,
		WindowDays:           windowDays,
		SeverityDistribution: make(map[Severity]int, len(Severities)),
		Daily:                make([]DailyCount, dailyBuckets),
		Hourly:               make([]HourlyCount, hourlyBuckets),
	}
	for _, s := range Severities {
		stats.SeverityDistribution[s] = 0
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	dayIndex := make(map[string]int, dailyBuckets)
	for i := 0; i < dailyBuckets; i++ {
		day := today.AddDate(0, 0, i-(dailyBuckets-1))
		key := day.Format(dateLayout)
		stats.Daily[i] = DailyCount{Date: key}
		dayIndex[key] = i
	}
	for h := 0; h < hourlyBuckets; h++ {
		stats.Hourly[h] = HourlyCount{Hour: h}
	}

	var (
		responseTotal float64
		responseCount int
	)
	for _, occ := range occurrences {
		triggered := occ.TriggeredAt.In(loc)
		if triggered.Before(from) || triggered.After(now) {
			continue
		}
		stats.TotalCount++
		if occ.AcknowledgedAt != nil {
			stats.AcknowledgedCount++
			responseTotal += occ.AcknowledgedAt.Sub(occ.TriggeredAt).Minutes()
			responseCount++
		}
		if occ.ClearedAt != nil {
			stats.ClearedCount++
		}
		if occ.Severity.Valid() {
			stats.SeverityDistribution[occ.Severity]++
		} else {
			stats.SeverityDistribution[SeverityUnknown]++
		}
		if idx, ok := dayIndex[triggered.Format(dateLayout)]; ok {
			stats.Daily[idx].Count++
		}
		stats.Hourly[triggered.Hour()].Count++
		if stats.LastTriggered == nil || occ.TriggeredAt.After(*stats.LastTriggered) {
			at := occ.TriggeredAt
			stats.LastTriggered = &at
		}
	}

	stats.PendingCount = stats.TotalCount - stats.AcknowledgedCount
	if stats.TotalCount > 0 {
		stats.AcknowledgmentRate = int(math.Round(float64(stats.AcknowledgedCount) / float64(stats.TotalCount) * 100))
	}
	if responseCount > 0 {
		stats.AvgResponseTimeMinutes = roundTo(responseTotal/float64(responseCount), 1)
	}
	stats.FrequencyPerDay = roundTo(float64(stats.TotalCount)/float64(windowDays), 1)
	return stats, nil
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
