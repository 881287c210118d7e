// Package metrics holds the Prometheus collectors shared by the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ModelCalls counts individual model invocations by model and outcome
	// (ok, throttled, unavailable, timeout, other, malformed, schema_violation).
	ModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tfreview_model_calls_total",
		Help: "Model invocations by model and outcome",
	}, []string{"model", "outcome"})

	// ModelCallDuration tracks model latency.
	ModelCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tfreview_model_call_duration_seconds",
		Help:    "Model invocation latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
	}, []string{"model"})

	// ReviewsFinished counts reviews reaching a terminal status.
	ReviewsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tfreview_reviews_finished_total",
		Help: "Reviews reaching a terminal status",
	}, []string{"status"})

	// ReviewRisk tracks the distribution of computed risk scores.
	ReviewRisk = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tfreview_review_risk_score",
		Help:    "Overall risk score of completed reviews",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	// StoreRetries counts transient storage errors that were retried.
	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tfreview_store_retries_total",
		Help: "Transient storage errors retried by operation",
	}, []string{"operation"})

	// ReviewsInFlight is the number of reviews currently being processed.
	ReviewsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tfreview_reviews_in_flight",
		Help: "Reviews currently being processed",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
