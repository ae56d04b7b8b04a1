package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Access control metrics
	AuthFailuresTotal prometheus.Counter
	AuthSuccessTotal  prometheus.Counter

	// Rate limiter metrics
	RateLimitDenialsTotal *prometheus.CounterVec
	RateLimitChecksTotal  prometheus.Counter

	// Workflow metrics
	WorkflowTransitionsTotal *prometheus.CounterVec
	NotificationRetriesTotal prometheus.Counter
	NotificationsSentTotal   *prometheus.CounterVec

	// Metering metrics
	UsageEventsTotal        prometheus.Counter
	UsageEventFailuresTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cms_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cms_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cms_auth_failures_total",
				Help: "Total number of failed credential authentications",
			},
		),
		AuthSuccessTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cms_auth_success_total",
				Help: "Total number of successful credential authentications",
			},
		),
		RateLimitDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cms_rate_limit_denials_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"limit_type"},
		),
		RateLimitChecksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cms_rate_limit_checks_total",
				Help: "Total number of rate limit checks",
			},
		),
		WorkflowTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cms_access_request_transitions_total",
				Help: "Total number of access request state transitions",
			},
			[]string{"to_status"},
		),
		NotificationRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cms_notification_retries_total",
				Help: "Total number of notification delivery retries",
			},
		),
		NotificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cms_notifications_sent_total",
				Help: "Total number of notifications delivered",
			},
			[]string{"kind"},
		),
		UsageEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cms_usage_events_total",
				Help: "Total number of usage events recorded",
			},
		),
		UsageEventFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cms_usage_event_failures_total",
				Help: "Total number of usage events that failed to record",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthFailuresTotal,
		m.AuthSuccessTotal,
		m.RateLimitDenialsTotal,
		m.RateLimitChecksTotal,
		m.WorkflowTransitionsTotal,
		m.NotificationRetriesTotal,
		m.NotificationsSentTotal,
		m.UsageEventsTotal,
		m.UsageEventFailuresTotal,
	)

	return m
}

// Handler returns an HTTP handler exposing the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
