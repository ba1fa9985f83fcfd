package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WebhooksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whd_webhooks_ingested_total",
			Help: "Ingestion requests by result",
		},
		[]string{"result"}, // accepted|filtered|unauthorized|not_found|malformed|error
	)

	DeliveryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whd_delivery_attempts_total",
			Help: "Recorded delivery attempts by outcome",
		},
		[]string{"outcome"}, // succeeded|failed_attempt|permanently_failed
	)

	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whd_delivery_duration_seconds",
			Help:    "Outbound webhook POST latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whd_subscription_cache_total",
			Help: "Subscription cache lookups by result",
		},
		[]string{"result"}, // hit|miss|negative_hit
	)

	Jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whd_jobs_total",
			Help: "Delivery jobs handled by the worker pool",
		},
		[]string{"result"}, // processed|dropped|rescheduled|failed
	)

	AttemptsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whd_attempts_swept_total",
			Help: "Delivery attempts deleted by the retention sweeper",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		WebhooksIngested,
		DeliveryAttempts,
		DeliveryDuration,
		CacheLookups,
		Jobs,
		AttemptsSwept,
	)
}
