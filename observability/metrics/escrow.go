package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EscrowMetrics struct {
	transitions     *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	holdingBalance  prometheus.Gauge
	paymentCount    prometheus.Gauge
	droppedNotifies prometheus.Counter
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the lazily registered escrow engine metrics.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rentescrow",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of accepted escrow operations by operation.",
			}, []string{"operation"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "rentescrow",
				Subsystem: "engine",
				Name:      "rejections_total",
				Help:      "Count of rejected escrow operations by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "rentescrow",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for escrow operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			holdingBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rentescrow",
				Subsystem: "engine",
				Name:      "holding_balance",
				Help:      "Escrow holding balance observed after the last settlement.",
			}),
			paymentCount: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "rentescrow",
				Subsystem: "engine",
				Name:      "payments",
				Help:      "Number of payment records in the registry.",
			}),
			droppedNotifies: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "rentescrow",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Notifications not delivered to a subscriber because its buffer was full.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.transitions,
			escrowRegistry.rejections,
			escrowRegistry.latency,
			escrowRegistry.holdingBalance,
			escrowRegistry.paymentCount,
			escrowRegistry.droppedNotifies,
		)
	})
	return escrowRegistry
}

// Observe records the outcome and latency of one engine operation. An empty
// reason marks success.
func (m *EscrowMetrics) Observe(operation, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if reason == "" {
		m.transitions.WithLabelValues(operation).Inc()
	} else {
		m.rejections.WithLabelValues(operation, reason).Inc()
	}
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *EscrowMetrics) SetHoldingBalance(amount float64) {
	if m == nil {
		return
	}
	m.holdingBalance.Set(amount)
}

func (m *EscrowMetrics) SetPaymentCount(count uint64) {
	if m == nil {
		return
	}
	m.paymentCount.Set(float64(count))
}

func (m *EscrowMetrics) IncDroppedNotification() {
	if m == nil {
		return
	}
	m.droppedNotifies.Inc()
}
