package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	MessagesProcessed *prometheus.CounterVec
	ExtractorRequests *prometheus.CounterVec
	ExtractorLatency  *prometheus.HistogramVec
	CreditsConsumed   *prometheus.CounterVec
	CreditDenials     *prometheus.CounterVec
	SessionsCreated   prometheus.Counter
	SessionsEvicted   *prometheus.CounterVec
	WebhookEvents     *prometheus.CounterVec
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_processed_total",
				Help:      "Total inbound messages processed by channel and outcome.",
			}, []string{"channel", "outcome"}),
			ExtractorRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractor_requests_total",
				Help:      "Total extractor calls by kind and status.",
			}, []string{"kind", "status"}),
			ExtractorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extractor_request_duration_seconds",
				Help:      "Latency distribution for extractor calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind", "status"}),
			CreditsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_consumed_total",
				Help:      "Total freemium credits consumed by operation type.",
			}, []string{"operation"}),
			CreditDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credit_denials_total",
				Help:      "Total consume attempts rejected, by reason.",
			}, []string{"reason"}),
			SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Total sessions written to the in-memory cache.",
			}),
			SessionsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_evicted_total",
				Help:      "Total sessions evicted, by cause (expired, invalidated).",
			}, []string{"cause"}),
			WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payment_webhook_events_total",
				Help:      "Total payment webhook events by type and status.",
			}, []string{"event", "status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.MessagesProcessed,
			metricsInstance.ExtractorRequests,
			metricsInstance.ExtractorLatency,
			metricsInstance.CreditsConsumed,
			metricsInstance.CreditDenials,
			metricsInstance.SessionsCreated,
			metricsInstance.SessionsEvicted,
			metricsInstance.WebhookEvents,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
