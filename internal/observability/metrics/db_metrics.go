package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const gaugeQueryTimeout = 2 * time.Second

type dbGauge struct {
	name  string
	help  string
	query string
}

var dbGauges = []dbGauge{
	{"open_occurrences", "Occurrences not yet cleared", "SELECT COUNT(*) FROM alarm_occurrences WHERE state <> 'cleared'"},
	{"unacknowledged_occurrences", "Active occurrences awaiting acknowledgement", "SELECT COUNT(*) FROM alarm_occurrences WHERE state = 'active'"},
	{"enabled_rules", "Enabled, non-deleted alarm rules", "SELECT COUNT(*) FROM alarm_rules WHERE is_enabled AND deleted_at IS NULL"},
	{"outbox_pending", "Outbox events waiting for delivery", "SELECT COUNT(*) FROM alarm_event_outbox WHERE status = 'pending'"},
	{"outbox_dead", "Outbox events that exhausted their attempts", "SELECT COUNT(*) FROM alarm_event_outbox WHERE status = 'dead'"},
}

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	for _, g := range dbGauges {
		query := g.query
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + g.name, Help: g.help},
			func() float64 { return queryCount(db, logger, query) },
		))
	}
}

// queryCount scrapes a single COUNT(*); failures report zero.
func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), gaugeQueryTimeout)
	defer cancel()
	var count int64
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.String("query", query), zap.Error(err))
		}
		return 0
	}
	return float64(max(count, 0))
}
