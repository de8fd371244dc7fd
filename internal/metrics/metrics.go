// Package metrics exposes Prometheus collectors for the newsfeeds pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	executionsTotal            *prometheus.CounterVec
	deadLettersTotal           *prometheus.CounterVec
	providerDurationSeconds    *prometheus.HistogramVec
	storeOperationSeconds      *prometheus.HistogramVec
	tasksEnqueuedTotal         *prometheus.CounterVec
	redeliveriesTotal          *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		executionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsfeeds_executions_total",
				Help: "Total number of fetch executions, labeled by outcome.",
			},
			[]string{"status"},
		)

		deadLettersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsfeeds_dead_letters_total",
				Help: "Total number of dead letters recorded, labeled by stage.",
			},
			[]string{"stage"},
		)

		providerDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsfeeds_provider_duration_seconds",
				Help:    "Histogram of search provider call latencies, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"status"},
		)

		storeOperationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsfeeds_store_operation_seconds",
				Help:    "Histogram of object store operation latencies, labeled by operation and outcome.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		)

		tasksEnqueuedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsfeeds_tasks_enqueued_total",
				Help: "Total number of tasks submitted to the broker, labeled by backend.",
			},
			[]string{"backend"},
		)

		redeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsfeeds_redeliveries_total",
				Help: "Total number of tasks requeued for another attempt, labeled by backend.",
			},
			[]string{"backend"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "newsfeeds_active_workers",
				Help: "Number of workers currently executing a task.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsfeeds_http_requests_total",
				Help: "Read API requests by method, route pattern and status code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsfeeds_http_request_duration_seconds",
				Help:    "Read API latency by method and route pattern.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveExecution increments the execution counter for the given status.
func ObserveExecution(status string) {
	Init()
	executionsTotal.WithLabelValues(status).Inc()
}

// ObserveDeadLetter increments the dead-letter counter for a stage.
func ObserveDeadLetter(stage string) {
	Init()
	deadLettersTotal.WithLabelValues(stage).Inc()
}

// ObserveProvider records the latency of a provider call.
func ObserveProvider(duration time.Duration, err error) {
	Init()
	providerDurationSeconds.WithLabelValues(outcome(err)).Observe(duration.Seconds())
}

// ObserveStoreOp records the latency of an object store operation.
func ObserveStoreOp(op string, duration time.Duration, err error) {
	Init()
	storeOperationSeconds.WithLabelValues(op, outcome(err)).Observe(duration.Seconds())
}

// ObserveEnqueued counts tasks submitted to a broker backend.
func ObserveEnqueued(backend string, n int) {
	Init()
	tasksEnqueuedTotal.WithLabelValues(backend).Add(float64(n))
}

// ObserveRedelivery counts a task requeued for retry.
func ObserveRedelivery(backend string) {
	Init()
	redeliveriesTotal.WithLabelValues(backend).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveHTTPRequest records one served request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
