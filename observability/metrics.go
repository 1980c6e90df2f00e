package observability

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records pool engine activity segmented by operation.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// OracleMetrics tracks the freshness and output of the price oracle.
type OracleMetrics struct {
	updates    *prometheus.CounterVec
	markPrice  *prometheus.GaugeVec
	indexPrice *prometheus.GaugeVec
	premium    *prometheus.GaugeVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Engine returns the lazily-initialised pool engine metrics registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "apex",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total pool engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "apex",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Total pool engine failures segmented by operation.",
			}, []string{"operation"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "apex",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for pool engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.errors,
			engineRegistry.latency,
		)
	})
	return engineRegistry
}

// Observe records one engine operation and its latency.
func (m *EngineMetrics) Observe(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(operation).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Oracle returns the lazily-initialised oracle metrics registry.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			updates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "apex",
				Subsystem: "oracle",
				Name:      "twap_updates_total",
				Help:      "Total TWAP observation writes segmented by pool and outcome.",
			}, []string{"pool", "outcome"}),
			markPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "apex",
				Subsystem: "oracle",
				Name:      "mark_price",
				Help:      "Latest mark price per pool, scaled to 1e18 and reported as a float.",
			}, []string{"pool"}),
			indexPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "apex",
				Subsystem: "oracle",
				Name:      "index_price",
				Help:      "Latest index price per pool, scaled to 1e18 and reported as a float.",
			}, []string{"pool"}),
			premium: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "apex",
				Subsystem: "oracle",
				Name:      "premium_fraction",
				Help:      "Latest per-second funding premium fraction per pool.",
			}, []string{"pool"}),
		}
		prometheus.MustRegister(
			oracleRegistry.updates,
			oracleRegistry.markPrice,
			oracleRegistry.indexPrice,
			oracleRegistry.premium,
		)
	})
	return oracleRegistry
}

// RecordUpdate counts a TWAP observation write for the given pool.
func (m *OracleMetrics) RecordUpdate(pool string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.updates.WithLabelValues(pool, outcome).Inc()
}

// RecordPrices publishes the latest pricing gauges for the pool. Nil prices
// are skipped so partial oracle failures never zero a gauge.
func (m *OracleMetrics) RecordPrices(pool string, mark, index, premium *big.Int) {
	if m == nil {
		return
	}
	if v, ok := bigToFloat(mark); ok {
		m.markPrice.WithLabelValues(pool).Set(v)
	}
	if v, ok := bigToFloat(index); ok {
		m.indexPrice.WithLabelValues(pool).Set(v)
	}
	if v, ok := bigToFloat(premium); ok {
		m.premium.WithLabelValues(pool).Set(v)
	}
}

func bigToFloat(value *big.Int) (float64, bool) {
	if value == nil {
		return 0, false
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
