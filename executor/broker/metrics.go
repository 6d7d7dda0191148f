package broker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "uttt"
	brokerSubsystem  = "broker"
)

// Metrics instruments the broker loop. A nil *Metrics records nothing.
type Metrics struct {
	Batches         prometheus.Counter
	BatchSize       prometheus.Histogram
	EvaluateSeconds prometheus.Histogram
	EvaluateErrors  prometheus.Counter
	Timeouts        prometheus.Counter
	TasksTotal      *prometheus.CounterVec
	LiveWorkers     prometheus.Gauge
}

// NewMetrics registers the broker metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() to stay isolated from the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: brokerSubsystem,
			Name:      "batches_total",
			Help:      "Evaluator calls made by the broker",
		}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: brokerSubsystem,
			Name:      "batch_size",
			Help:      "Positions per evaluator call",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		EvaluateSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: brokerSubsystem,
			Name:      "evaluate_seconds",
			Help:      "Evaluator latency per batch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		EvaluateErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: brokerSubsystem,
			Name:      "evaluate_errors_total",
			Help:      "Evaluator calls that failed",
		}),
		Timeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: brokerSubsystem,
			Name:      "batch_timeouts_total",
			Help:      "Batches cut short by the collection timeout",
		}),
		TasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: brokerSubsystem,
			Name:      "tasks_total",
			Help:      "Tasks finished by workers, by status",
		}, []string{"status"}),
		LiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: brokerSubsystem,
			Name:      "live_workers",
			Help:      "Workers that have not yet received the stop sentinel",
		}),
	}
}

func (m *Metrics) observeBatch(size int, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.Batches.Inc()
	m.BatchSize.Observe(float64(size))
	m.EvaluateSeconds.Observe(took.Seconds())
	if err != nil {
		m.EvaluateErrors.Inc()
	}
}

func (m *Metrics) timeout() {
	if m != nil {
		m.Timeouts.Inc()
	}
}

func (m *Metrics) task(err error) {
	if m == nil {
		return
	}
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.TasksTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) setLive(n int) {
	if m != nil {
		m.LiveWorkers.Set(float64(n))
	}
}
