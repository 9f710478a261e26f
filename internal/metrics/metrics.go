package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liminal_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liminal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	ConsultationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liminal_consultations_total",
			Help: "Consultations that reached a terminal state.",
		},
		[]string{"agent", "state"},
	)

	GenerationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liminal_generation_attempts_total",
			Help: "Webhook attempts by outcome.",
		},
		[]string{"agent", "outcome"},
	)

	GenerationAttemptDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "liminal_generation_attempt_duration_seconds",
			Help:    "Webhook attempt duration in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
		[]string{"agent"},
	)

	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liminal_quota_decisions_total",
			Help: "Quota reservations by decision.",
		},
		[]string{"agent", "decision"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liminal_rate_limited_total",
			Help: "Requests rejected by the per-IP rate limiter.",
		},
		[]string{"scope"},
	)

	AuditEventsPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liminal_audit_events_persisted_total",
			Help: "Audit events consumed from JetStream.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ConsultationsTotal,
		GenerationAttemptsTotal,
		GenerationAttemptDuration,
		QuotaDecisionsTotal,
		RateLimitedTotal,
		AuditEventsPersistedTotal,
	)
}
