package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "taskexec"}, DefaultRegistry)

	// Metrics collection
	metricsOnce sync.Once
	metrics     *Metrics
)

// Task outcomes recorded by RecordCompleted
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomePanic     = "panic"
	OutcomeCancelled = "cancelled"
)

// Metrics holds all Prometheus metrics.
// All record methods are no-ops on a nil *Metrics.
type Metrics struct {
	// Executor metrics
	TasksSubmittedTotal *prometheus.CounterVec
	TasksRejectedTotal  *prometheus.CounterVec
	TasksCompletedTotal *prometheus.CounterVec
	TaskDuration        *prometheus.HistogramVec
	ExecutorState       *prometheus.GaugeVec

	// Pool metrics
	PoolWorkers        *prometheus.GaugeVec
	PoolLargestWorkers *prometheus.GaugeVec
	WorkersRetiredTotal *prometheus.CounterVec

	// Queue metrics
	QueueDepth    *prometheus.GaugeVec
	QueueCapacity *prometheus.GaugeVec

	// Signal metrics
	SignalsReceivedTotal *prometheus.CounterVec

	// Custom metrics registry
	registerer       prometheus.Registerer
	CustomCounters   map[string]*prometheus.CounterVec
	CustomGauges     map[string]*prometheus.GaugeVec
	CustomHistograms map[string]*prometheus.HistogramVec
	customMu         sync.RWMutex
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	factory := promauto.With(registerer)

	m := &Metrics{
		TasksSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskexec_tasks_submitted_total",
				Help: "Total number of tasks accepted by an executor",
			},
			[]string{"executor"},
		),
		TasksRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskexec_tasks_rejected_total",
				Help: "Total number of tasks dropped by the rejection policy",
			},
			[]string{"executor", "policy"},
		),
		TasksCompletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskexec_tasks_completed_total",
				Help: "Total number of tasks that left the executor",
			},
			[]string{"executor", "outcome"}, // outcome: ok, error, panic, cancelled
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskexec_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"executor"},
		),
		ExecutorState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskexec_executor_state",
				Help: "Executor lifecycle state (0 running, 1 shutdown, 2 stop, 3 terminated)",
			},
			[]string{"executor"},
		),

		PoolWorkers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskexec_pool_workers",
				Help: "Current number of worker goroutines",
			},
			[]string{"executor"},
		),
		PoolLargestWorkers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskexec_pool_largest_workers",
				Help: "Largest number of worker goroutines seen at once",
			},
			[]string{"executor"},
		),
		WorkersRetiredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskexec_pool_workers_retired_total",
				Help: "Total number of non-core workers retired after keep-alive",
			},
			[]string{"executor"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskexec_queue_depth",
				Help: "Number of tasks waiting in the work queue",
			},
			[]string{"executor"},
		),
		QueueCapacity: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taskexec_queue_capacity",
				Help: "Work queue capacity (-1 for unbounded)",
			},
			[]string{"executor"},
		),

		SignalsReceivedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskexec_signals_received_total",
				Help: "Total number of process signals delivered to the signal manager",
			},
			[]string{"signal", "handled"},
		),

		registerer:       registerer,
		CustomCounters:   make(map[string]*prometheus.CounterVec),
		CustomGauges:     make(map[string]*prometheus.GaugeVec),
		CustomHistograms: make(map[string]*prometheus.HistogramVec),
	}

	return m
}

// RecordSubmitted records an accepted task
func (m *Metrics) RecordSubmitted(executor string) {
	if m == nil {
		return
	}
	m.TasksSubmittedTotal.WithLabelValues(executor).Inc()
}

// RecordRejected records a task the rejection policy did not accept
func (m *Metrics) RecordRejected(executor, policy string) {
	if m == nil {
		return
	}
	m.TasksRejectedTotal.WithLabelValues(executor, policy).Inc()
}

// RecordCompleted records a task leaving the executor with the given outcome
func (m *Metrics) RecordCompleted(executor, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TasksCompletedTotal.WithLabelValues(executor, outcome).Inc()
	if outcome != OutcomeCancelled {
		m.TaskDuration.WithLabelValues(executor).Observe(duration.Seconds())
	}
}

// RecordWorkerRetired records a non-core worker leaving after keep-alive
func (m *Metrics) RecordWorkerRetired(executor string) {
	if m == nil {
		return
	}
	m.WorkersRetiredTotal.WithLabelValues(executor).Inc()
}

// UpdatePool updates worker gauges
func (m *Metrics) UpdatePool(executor string, workers, largest int) {
	if m == nil {
		return
	}
	m.PoolWorkers.WithLabelValues(executor).Set(float64(workers))
	m.PoolLargestWorkers.WithLabelValues(executor).Set(float64(largest))
}

// UpdateQueue updates work queue gauges
func (m *Metrics) UpdateQueue(executor string, depth, capacity int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(executor).Set(float64(depth))
	m.QueueCapacity.WithLabelValues(executor).Set(float64(capacity))
}

// UpdateExecutorState records the executor lifecycle state
func (m *Metrics) UpdateExecutorState(executor string, state int) {
	if m == nil {
		return
	}
	m.ExecutorState.WithLabelValues(executor).Set(float64(state))
}

// RecordSignal records a delivered process signal
func (m *Metrics) RecordSignal(signal string, handled bool) {
	if m == nil {
		return
	}
	h := "false"
	if handled {
		h = "true"
	}
	m.SignalsReceivedTotal.WithLabelValues(signal, h).Inc()
}

// Counter creates or returns a custom counter metric
func (m *Metrics) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	m.customMu.RLock()
	if counter, exists := m.CustomCounters[name]; exists {
		m.customMu.RUnlock()
		return counter
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	// Double-check after acquiring write lock
	if counter, exists := m.CustomCounters[name]; exists {
		return counter
	}

	counter := promauto.With(m.registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: name,
			Help: help,
		},
		labels,
	)
	m.CustomCounters[name] = counter
	return counter
}

// Gauge creates or returns a custom gauge metric
func (m *Metrics) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	m.customMu.RLock()
	if gauge, exists := m.CustomGauges[name]; exists {
		m.customMu.RUnlock()
		return gauge
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	if gauge, exists := m.CustomGauges[name]; exists {
		return gauge
	}

	gauge := promauto.With(m.registerer).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: name,
			Help: help,
		},
		labels,
	)
	m.CustomGauges[name] = gauge
	return gauge
}

// Histogram creates or returns a custom histogram metric
func (m *Metrics) Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	m.customMu.RLock()
	if histogram, exists := m.CustomHistograms[name]; exists {
		m.customMu.RUnlock()
		return histogram
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	if histogram, exists := m.CustomHistograms[name]; exists {
		return histogram
	}

	opts := prometheus.HistogramOpts{
		Name:    name,
		Help:    help,
		Buckets: buckets,
	}
	if buckets == nil {
		opts.Buckets = prometheus.DefBuckets
	}

	histogram := promauto.With(m.registerer).NewHistogramVec(opts, labels)
	m.CustomHistograms[name] = histogram
	return histogram
}

// Convenience functions for global metrics

// Counter returns a custom counter metric (creates if doesn't exist)
func Counter(name, help string, labels ...string) *prometheus.CounterVec {
	return GetMetrics().Counter(name, help, labels...)
}

// Gauge returns a custom gauge metric (creates if doesn't exist)
func Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return GetMetrics().Gauge(name, help, labels...)
}

// Histogram returns a custom histogram metric (creates if doesn't exist)
func Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return GetMetrics().Histogram(name, help, buckets, labels...)
}
