package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
type AppMetrics struct {
	AdmissionDecisionsTotal metric.Int64Counter
	WebhookEventsTotal      metric.Int64Counter
	WebhookDurationSeconds  metric.Float64Histogram
	UsageTrackingErrors     metric.Int64Counter
	DbQueryDurationSeconds  metric.Float64Histogram
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metric instruments only once.
func InitAppMetrics() *AppMetrics {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("rooftops-entitlements")
		var err error
		m := &AppMetrics{}

		m.AdmissionDecisionsTotal, err = meter.Int64Counter(
			"admission_decisions_total",
			metric.WithDescription("Entitlement decisions by feature and outcome"),
			metric.WithUnit("{decision}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create admission_decisions_total: %v", err)
		}

		m.WebhookEventsTotal, err = meter.Int64Counter(
			"billing_webhook_events_total",
			metric.WithDescription("Billing webhook events by type and outcome"),
			metric.WithUnit("{event}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create billing_webhook_events_total: %v", err)
		}

		m.WebhookDurationSeconds, err = meter.Float64Histogram(
			"billing_webhook_duration_seconds",
			metric.WithDescription("Billing webhook processing duration in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create billing_webhook_duration_seconds: %v", err)
		}

		m.UsageTrackingErrors, err = meter.Int64Counter(
			"usage_tracking_errors_total",
			metric.WithDescription("Fire-and-forget usage increments that failed"),
			metric.WithUnit("{error}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create usage_tracking_errors_total: %v", err)
		}

		m.DbQueryDurationSeconds, err = meter.Float64Histogram(
			"db_query_duration_seconds",
			metric.WithDescription("Duration of database queries in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create db_query_duration_seconds: %v", err)
		}

		appMetrics = m
	})
	return appMetrics
}

// Get returns the initialized metrics, or nil before InitAppMetrics.
func Get() *AppMetrics {
	return appMetrics
}
