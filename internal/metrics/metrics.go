// Package metrics provides Prometheus metrics for sequence executions and
// the HTTP API.
package metrics

import (
	"time"

	"github.com/ignatij/seqflow/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "seqflow"
	subsystem = "runner"
)

// Metrics records execution progress. It implements service.Observer.
type Metrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionsActive  prometheus.Gauge
	ExecutionDuration *prometheus.HistogramVec
	StepsTotal        *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "executions_total",
				Help:      "Total number of executions by final status",
			},
			[]string{"status"}, // "completed", "failed"
		),
		ExecutionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "executions_active",
				Help:      "Number of executions currently running",
			},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "execution_duration_seconds",
				Help:      "Execution duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800, 3600},
			},
			[]string{"status"},
		),
		StepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "steps_total",
				Help:      "Total number of executed steps by kind and status",
			},
			[]string{"kind", "status"},
		),
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "step_duration_seconds",
				Help:      "Step dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (m *Metrics) ExecutionStarted(models.Execution) {
	m.ExecutionsActive.Inc()
}

func (m *Metrics) StepFinished(_ models.Execution, step models.Step, result models.StepResult) {
	m.StepsTotal.WithLabelValues(string(step.Kind), string(result.Status)).Inc()
	m.StepDuration.WithLabelValues(string(step.Kind)).Observe(float64(result.DurationMs) / 1000)
}

func (m *Metrics) ExecutionFinished(exec models.Execution) {
	m.ExecutionsActive.Dec()
	m.ExecutionsTotal.WithLabelValues(string(exec.Status)).Inc()
	m.ExecutionDuration.WithLabelValues(string(exec.Status)).Observe(float64(exec.DurationMs) / 1000)
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
