// Package metrics provides Prometheus metrics for the book daemon.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BookMetrics collects and exposes book-health Prometheus metrics.
type BookMetrics struct {
	registry *prometheus.Registry

	// Update pipeline
	UpdatesTotal   *prometheus.CounterVec
	UpdateLevels   *prometheus.HistogramVec
	ApplyDuration  *prometheus.HistogramVec
	SequenceGaps   *prometheus.CounterVec
	DecodeErrors   *prometheus.CounterVec
	DroppedUpdates *prometheus.CounterVec

	// Window maintenance
	FavorableRebalances *prometheus.CounterVec
	Compactions         *prometheus.CounterVec
	HeapLevels          *prometheus.GaugeVec

	// Top of book
	BestPrice *prometheus.GaugeVec
	BestSize  *prometheus.GaugeVec

	// Streaming
	StreamClients *prometheus.GaugeVec
}

// NewBookMetrics creates a new metrics collector.
func NewBookMetrics() *BookMetrics {
	registry := prometheus.NewRegistry()

	bm := &BookMetrics{
		registry: registry,

		UpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickbook_updates_total",
				Help: "Total number of tick updates applied",
			},
			[]string{"symbol"},
		),
		UpdateLevels: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickbook_update_levels",
				Help:    "Levels per applied update, both sides combined",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 250, 500},
			},
			[]string{"symbol"},
		),
		ApplyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tickbook_apply_duration_seconds",
				Help:    "Time to apply one tick update",
				Buckets: prometheus.ExponentialBuckets(100e-9, 4, 10), // 100ns to ~26ms
			},
			[]string{"symbol"},
		),
		SequenceGaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickbook_sequence_gaps_total",
				Help: "Non-contiguous sequence ids observed (counted, never repaired)",
			},
			[]string{"symbol"},
		),
		DecodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickbook_decode_errors_total",
				Help: "Malformed feed events skipped",
			},
			[]string{"symbol"},
		),
		DroppedUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickbook_dropped_updates_total",
				Help: "Updates dropped because the consumer fell behind",
			},
			[]string{"symbol"},
		),

		FavorableRebalances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickbook_favorable_rebalances_total",
				Help: "Window shifts triggered by a new best outside the window",
			},
			[]string{"symbol", "side"},
		),
		Compactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickbook_compactions_total",
				Help: "Window compactions after the best retreated past the hysteresis threshold",
			},
			[]string{"symbol", "side"},
		),
		HeapLevels: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickbook_heap_levels",
				Help: "Levels currently in the overflow map",
			},
			[]string{"symbol", "side"},
		),

		BestPrice: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickbook_best_price",
				Help: "Current best price",
			},
			[]string{"symbol", "side"},
		),
		BestSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickbook_best_size",
				Help: "Current best size",
			},
			[]string{"symbol", "side"},
		),

		StreamClients: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickbook_stream_clients",
				Help: "Connected websocket streaming clients",
			},
			[]string{},
		),
	}

	bm.registerAll()

	return bm
}

func (bm *BookMetrics) registerAll() {
	bm.registry.MustRegister(
		bm.UpdatesTotal,
		bm.UpdateLevels,
		bm.ApplyDuration,
		bm.SequenceGaps,
		bm.DecodeErrors,
		bm.DroppedUpdates,
		bm.FavorableRebalances,
		bm.Compactions,
		bm.HeapLevels,
		bm.BestPrice,
		bm.BestSize,
		bm.StreamClients,
	)
}

// Registry returns the prometheus registry.
func (bm *BookMetrics) Registry() *prometheus.Registry {
	return bm.registry
}

// --- Helper methods for recording metrics ---

// RecordApply records one applied update.
func (bm *BookMetrics) RecordApply(symbol string, levels int, durationSec float64) {
	bm.UpdatesTotal.WithLabelValues(symbol).Inc()
	bm.UpdateLevels.WithLabelValues(symbol).Observe(float64(levels))
	bm.ApplyDuration.WithLabelValues(symbol).Observe(durationSec)
}

// RecordGap records a sequence discontinuity.
func (bm *BookMetrics) RecordGap(symbol string) {
	bm.SequenceGaps.WithLabelValues(symbol).Inc()
}

// RecordDecodeError records a malformed event skipped by the feed.
func (bm *BookMetrics) RecordDecodeError(symbol string) {
	bm.DecodeErrors.WithLabelValues(symbol).Inc()
}

// RecordDrop records an update dropped on backpressure.
func (bm *BookMetrics) RecordDrop(symbol string) {
	bm.DroppedUpdates.WithLabelValues(symbol).Inc()
}

// RecordRebalances adds window maintenance deltas since the last call.
func (bm *BookMetrics) RecordRebalances(symbol string, askFavorable, bidFavorable, askCompactions, bidCompactions uint64) {
	if askFavorable > 0 {
		bm.FavorableRebalances.WithLabelValues(symbol, "ask").Add(float64(askFavorable))
	}
	if bidFavorable > 0 {
		bm.FavorableRebalances.WithLabelValues(symbol, "bid").Add(float64(bidFavorable))
	}
	if askCompactions > 0 {
		bm.Compactions.WithLabelValues(symbol, "ask").Add(float64(askCompactions))
	}
	if bidCompactions > 0 {
		bm.Compactions.WithLabelValues(symbol, "bid").Add(float64(bidCompactions))
	}
}

// UpdateHeapLevels updates the overflow-map gauges.
func (bm *BookMetrics) UpdateHeapLevels(symbol string, askHeap, bidHeap int) {
	bm.HeapLevels.WithLabelValues(symbol, "ask").Set(float64(askHeap))
	bm.HeapLevels.WithLabelValues(symbol, "bid").Set(float64(bidHeap))
}

// UpdateTop updates the top-of-book gauges.
func (bm *BookMetrics) UpdateTop(symbol string, bidPrice, bidSize, askPrice, askSize float64) {
	bm.BestPrice.WithLabelValues(symbol, "bid").Set(bidPrice)
	bm.BestSize.WithLabelValues(symbol, "bid").Set(bidSize)
	bm.BestPrice.WithLabelValues(symbol, "ask").Set(askPrice)
	bm.BestSize.WithLabelValues(symbol, "ask").Set(askSize)
}

// UpdateStreamClients updates the connected client gauge.
func (bm *BookMetrics) UpdateStreamClients(count int) {
	bm.StreamClients.WithLabelValues().Set(float64(count))
}

// Global instance for convenience
var defaultMetrics *BookMetrics
var once sync.Once

// Default returns the default global metrics instance.
func Default() *BookMetrics {
	once.Do(func() {
		defaultMetrics = NewBookMetrics()
	})
	return defaultMetrics
}
