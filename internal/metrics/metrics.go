// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"          // Metric types
	"github.com/prometheus/client_golang/prometheus/promauto" // Auto-registration
	"github.com/prometheus/client_golang/prometheus/promhttp" // HTTP exposition
)

var (
	// PaymentsTotal counts pipeline outcomes by terminal code.
	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payment_engine",
		Name:      "payments_total",
		Help:      "Payment pipeline outcomes by result code.",
	}, []string{"outcome", "code"})

	// CommitDuration observes ledger commit latency.
	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "payment_engine",
		Name:      "ledger_commit_duration_seconds",
		Help:      "Latency of atomic ledger commits.",
		Buckets:   prometheus.DefBuckets,
	})

	// QueueDepth tracks pending plus retrying plus processing queue items.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "payment_engine",
		Name:      "queue_depth",
		Help:      "Transaction queue items awaiting settlement.",
	})

	// FraudChecks counts fraud scorer recommendations.
	FraudChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payment_engine",
		Name:      "fraud_checks_total",
		Help:      "Fraud scorer recommendations.",
	}, []string{"recommendation"})
)

// Handler returns the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
