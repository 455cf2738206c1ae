package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "alarm_engine_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	alarmEventsTotal *prometheus.CounterVec

	evaluationsTotal  *prometheus.CounterVec
	evaluationLatency *prometheus.HistogramVec

	templateApplyTotal   *prometheus.CounterVec
	templateApplyLatency *prometheus.HistogramVec
	templateRulesCreated prometheus.Counter

	bulkUpdateItems *prometheus.CounterVec

	dispatchFailures *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
)

// Init registers engine metrics and DB-backed gauges. db may be nil.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		alarmEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Total alarm lifecycle events by type",
			},
			[]string{"event"},
		)

		evaluationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluations_total",
				Help: "Total rule evaluations by result",
			},
			[]string{"result"},
		)
		evaluationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "evaluation_latency_seconds",
				Help:    "Rule evaluation latency in seconds",
				Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
			},
			[]string{"result"},
		)

		templateApplyTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "template_apply_total",
				Help: "Total template applications by batch status",
			},
			[]string{"status"},
		)
		templateApplyLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "template_apply_latency_seconds",
				Help:    "Template application latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		)
		templateRulesCreated = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "template_rules_created_total",
				Help: "Total rules created from templates",
			},
		)

		bulkUpdateItems = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "bulk_update_items_total",
				Help: "Total bulk rule update items by result",
			},
			[]string{"result"},
		)

		dispatchFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dispatch_failures_total",
				Help: "Total failed event deliveries by dispatcher",
			},
			[]string{"dispatcher"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total API requests by route and status class",
			},
			[]string{"route", "code"},
		)

		prometheus.MustRegister(
			alarmEventsTotal,
			evaluationsTotal,
			evaluationLatency,
			templateApplyTotal,
			templateApplyLatency,
			templateRulesCreated,
			bulkUpdateItems,
			dispatchFailures,
			httpRequests,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncAlarmEvent increments alarm lifecycle counters.
func IncAlarmEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alarmEventsTotal != nil {
		alarmEventsTotal.WithLabelValues(event).Inc()
	}
}

// ObserveEvaluation records one rule evaluation.
func ObserveEvaluation(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if evaluationsTotal != nil {
		evaluationsTotal.WithLabelValues(result).Inc()
	}
	if evaluationLatency != nil {
		evaluationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveTemplateApply records a template application batch.
func ObserveTemplateApply(status string, created int, duration time.Duration) {
	if status == "" {
		status = "unknown"
	}
	if templateApplyTotal != nil {
		templateApplyTotal.WithLabelValues(status).Inc()
	}
	if templateApplyLatency != nil {
		templateApplyLatency.WithLabelValues(status).Observe(duration.Seconds())
	}
	if templateRulesCreated != nil && created > 0 {
		templateRulesCreated.Add(float64(created))
	}
}

// AddBulkUpdateItems increments bulk update items by count.
func AddBulkUpdateItems(result string, count int) {
	if count <= 0 {
		return
	}
	if result == "" {
		result = resultSuccess
	}
	if bulkUpdateItems != nil {
		bulkUpdateItems.WithLabelValues(result).Add(float64(count))
	}
}

// IncDispatchFailure counts a failed delivery.
func IncDispatchFailure(dispatcher string) {
	if dispatcher == "" {
		dispatcher = "unknown"
	}
	if dispatchFailures != nil {
		dispatchFailures.WithLabelValues(dispatcher).Inc()
	}
}

// IncHTTPRequest counts an API request.
func IncHTTPRequest(route, code string) {
	if route == "" {
		route = "unknown"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(route, code).Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
