package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SaleMetrics records sale lifecycle activity.
type SaleMetrics struct {
	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	granted     prometheus.Counter
	activeSales prometheus.Gauge
}

var (
	saleOnce     sync.Once
	saleRegistry *SaleMetrics
)

// TokenSale returns the lazily registered sale metrics.
func TokenSale() *SaleMetrics {
	saleOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Name:      "operations_total",
				Help:      "Sale operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tokensale",
				Name:      "operation_duration_seconds",
				Help:      "Latency of sale operations including lock waits.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			granted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tokensale",
				Name:      "tokens_granted_total",
				Help:      "Sale tokens delivered to buyers.",
			}),
			activeSales: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tokensale",
				Name:      "active_sales",
				Help:      "Sales currently holding supply in escrow.",
			}),
		}
		prometheus.MustRegister(
			saleRegistry.operations,
			saleRegistry.latency,
			saleRegistry.granted,
			saleRegistry.activeSales,
		)
	})
	return saleRegistry
}

func (m *SaleMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *SaleMetrics) AddGranted(amount uint64) {
	if m == nil {
		return
	}
	m.granted.Add(float64(amount))
}

func (m *SaleMetrics) SetActiveSales(n int) {
	if m == nil {
		return
	}
	m.activeSales.Set(float64(n))
}
