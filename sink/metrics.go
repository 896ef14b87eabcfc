package sink

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 写入器指标
type Metrics struct {
	Batches       prometheus.Counter
	Actions       *prometheus.CounterVec // result=ok|failed
	Requeued      prometheus.Counter
	Dropped       *prometheus.CounterVec // reason=retries_exhausted|aborted
	InFlight      prometheus.Gauge
	Buffered      prometheus.Gauge
	BatchSize     prometheus.Histogram
	BatchDuration prometheus.Histogram
}

// NewMetrics 创建指标并注册到 reg；reg 为 nil 时只创建不注册，重复注册会 panic
func NewMetrics(reg prometheus.Registerer, namespace, subsystem string) *Metrics {
	m := &Metrics{
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "batches_total",
			Help: "Number of batches submitted for execution.",
		}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "actions_total",
			Help: "Number of executed actions by result.",
		}, []string{"result"}),
		Requeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "requeued_total",
			Help: "Number of failed actions put back into the buffer.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "dropped_total",
			Help: "Number of actions given up on, by reason.",
		}, []string{"reason"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "in_flight_batches",
			Help: "Batches currently executing.",
		}),
		Buffered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "buffered_actions",
			Help: "Actions waiting in the buffer.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "batch_size",
			Help:    "Actions per batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "batch_duration_seconds",
			Help:    "Time spent executing one batch.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Batches, m.Actions, m.Requeued, m.Dropped,
			m.InFlight, m.Buffered, m.BatchSize, m.BatchDuration,
		)
	}
	return m
}
