package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Messages leaving the pipeline, by final outcome
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talent_inbox_messages_processed_total",
			Help: "Inbound messages processed, by outcome",
		},
		[]string{"outcome"}, // imported, skipped, failed, duplicate, pending
	)

	TriageDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talent_inbox_triage_decisions_total",
			Help: "Prefilter decisions by action",
		},
		[]string{"action"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talent_inbox_sync_duration_seconds",
			Help:    "Mailbox sync duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"provider", "mode"},
	)

	OracleCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talent_inbox_oracle_call_latency_ms",
			Help:    "AI oracle call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"operation", "status"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talent_inbox_jobs_total",
			Help: "Background jobs finished, by kind and result",
		},
		[]string{"kind", "result"}, // result: completed, retried, failed
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "talent_inbox_queue_jobs",
			Help: "Jobs currently tracked by the queue, by kind and state",
		},
		[]string{"kind", "state"},
	)
)

func RecordSync(provider, mode string, duration time.Duration) {
	SyncDuration.WithLabelValues(provider, mode).Observe(duration.Seconds())
}

func RecordOracleCall(operation, status string, duration time.Duration) {
	OracleCallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

func RecordMessage(outcome string) {
	MessagesProcessed.WithLabelValues(outcome).Inc()
}

func RecordTriage(action string) {
	TriageDecisions.WithLabelValues(action).Inc()
}

func RecordJob(kind, result string) {
	JobsCompleted.WithLabelValues(kind, result).Inc()
}
