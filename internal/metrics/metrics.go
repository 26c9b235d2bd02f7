// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeRequeued  = "requeued"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_requests_total",
			Help: "Total number of upstream HTTP requests, labeled by host and status class.",
		},
		[]string{"host", "status"},
	)

	bytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_bytes_total",
			Help: "Total number of bytes fetched, labeled by host.",
		},
		[]string{"host"},
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_records_total",
			Help: "Total number of record attempts, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	artifactsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_artifacts_total",
			Help: "Total number of article files, labeled by kind (primary, supplemental, dropped).",
		},
		[]string{"kind"},
	)

	anomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_anomalies_total",
			Help: "Data-quality anomalies that did not block a record, labeled by kind.",
		},
		[]string{"kind"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_active_workers",
			Help: "Number of workers currently processing a record.",
		},
	)

	apiRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_api_request_duration_seconds",
			Help:    "Duration of status API requests, labeled by method, route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// WriteTextfile dumps the default registry in the text exposition format,
// suitable for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// StatusClass folds an HTTP status into 2xx/3xx/4xx/5xx.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return strconv.Itoa(code)
	}
	return fmt.Sprintf("%dxx", code/100)
}

// ObserveRequest counts one upstream request.
func ObserveRequest(host, status string) {
	requestsTotal.WithLabelValues(host, status).Inc()
}

// ObserveBytes adds fetched body bytes for host.
func ObserveBytes(host string, n int) {
	if n > 0 {
		bytesTotal.WithLabelValues(host).Add(float64(n))
	}
}

// ObserveRecord counts one record outcome.
func ObserveRecord(outcome string) {
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveArtifact counts one article file by kind.
func ObserveArtifact(kind string) {
	artifactsTotal.WithLabelValues(kind).Inc()
}

// ObserveAnomaly counts one data-quality anomaly.
func ObserveAnomaly(kind string) {
	anomaliesTotal.WithLabelValues(kind).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveAPIRequest records one status API request.
func ObserveAPIRequest(method, route string, code int, duration time.Duration) {
	apiRequestDurationSeconds.WithLabelValues(method, route, strconv.Itoa(code)).Observe(duration.Seconds())
}
