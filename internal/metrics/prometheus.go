// Package metrics provides a Prometheus-backed recorder for service
// operation outcomes.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements the service MetricsRecorder interface on a
// Prometheus registry.
type PrometheusRecorder struct {
	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
}

// NewPrometheusRecorder builds a recorder with its own registry unless one is
// supplied.
func NewPrometheusRecorder(registry *prometheus.Registry) (*PrometheusRecorder, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "annotcore",
		Name:      "operation_duration_seconds",
		Help:      "Duration of annotation service operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "annotcore",
		Name:      "operation_results_total",
		Help:      "Outcomes of annotation service operations by status.",
	}, []string{"operation", "status"})
	if err := registry.Register(durations); err != nil {
		return nil, err
	}
	if err := registry.Register(results); err != nil {
		return nil, err
	}
	return &PrometheusRecorder{registry: registry, durations: durations, results: results}, nil
}

// Observe records one operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// Registry exposes the underlying registry for scrape handler wiring.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler returns an HTTP handler serving the scrape endpoint.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
