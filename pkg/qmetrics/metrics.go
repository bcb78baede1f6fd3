// Package qmetrics holds the prometheus collectors for jobs, tasks and HTTP.
package qmetrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qremote"

type Metrics struct {
	JobsSubmitted  *prometheus.CounterVec
	JobsFinished   *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	JobsRunning    prometheus.Gauge
	TasksProcessed *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	KillFailures   prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers every collector on reg. Collectors already registered under
// the same name are reused.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	registerOrExisting := func(coll prometheus.Collector) prometheus.Collector {
		if err := reg.Register(coll); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				return are.ExistingCollector
			}
			panic(err)
		}
		return coll
	}

	m := &Metrics{gatherer: gatherer}

	m.JobsSubmitted = registerOrExisting(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Jobs accepted by the API.",
		},
		[]string{"mode"},
	)).(*prometheus.CounterVec)

	m.JobsFinished = registerOrExisting(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Jobs that reached a terminal status.",
		},
		[]string{"status"},
	)).(*prometheus.CounterVec)

	m.JobDuration = registerOrExisting(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "execution_seconds",
			Help:      "Wall time of remote executions.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		},
		[]string{"mode", "status"},
	)).(*prometheus.HistogramVec)

	m.JobsRunning = registerOrExisting(prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Executions currently in flight on this process.",
		},
	)).(prometheus.Gauge)

	m.TasksProcessed = registerOrExisting(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "processed_total",
			Help:      "Background task runs by name and outcome.",
		},
		[]string{"task", "outcome"},
	)).(*prometheus.CounterVec)

	m.TaskDuration = registerOrExisting(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "duration_seconds",
			Help:      "Background task run time.",
		},
		[]string{"task"},
	)).(*prometheus.HistogramVec)

	m.KillFailures = registerOrExisting(prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "kill_failures_total",
			Help:      "Remote kills that did not succeed.",
		},
	)).(prometheus.Counter)

	m.httpRequests = registerOrExisting(prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests made.",
		},
		[]string{"method", "code"},
	)).(*prometheus.CounterVec)

	m.httpDuration = registerOrExisting(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "The HTTP request latencies in seconds.",
		},
		[]string{"method"},
	)).(*prometheus.HistogramVec)

	return m
}

// NewIsolated builds metrics on a private registry. Used by tests and by
// binaries that do not want the default process collectors.
func NewIsolated() *Metrics {
	reg := prometheus.NewRegistry()
	return New(reg, reg)
}

// ObserveTask records one task run.
func (m *Metrics) ObserveTask(task, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TasksProcessed.WithLabelValues(task, outcome).Inc()
	m.TaskDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

// ObserveJob records a finished execution.
func (m *Metrics) ObserveJob(mode, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(status).Inc()
	m.JobDuration.WithLabelValues(mode, status).Observe(elapsed.Seconds())
}

// Middleware instruments every request passing through next.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(m.httpDuration,
		promhttp.InstrumentHandlerCounter(m.httpRequests, next))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
