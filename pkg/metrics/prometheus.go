package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects pipeline counters via Prometheus. One Recorder per
// process; the dashboard scrapes /metrics.
type Recorder struct {
	snapshots   prometheus.Counter
	moves       *prometheus.CounterVec
	signals     *prometheus.CounterVec
	orders      *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	lastPrice   *prometheus.GaugeVec
	cycle       *prometheus.HistogramVec
}

// New creates a Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		snapshots: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "tradepipe_snapshots_published_total",
				Help: "Total market snapshots published to the bus",
			},
		),
		moves: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepipe_moves_total",
				Help: "Total move events emitted",
			},
			[]string{"direction"},
		),
		signals: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepipe_signals_total",
				Help: "Total trading signals emitted",
			},
			[]string{"action"},
		),
		orders: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepipe_orders_processed_total",
				Help: "Total signals processed by the executor",
			},
			[]string{"account", "outcome"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepipe_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepipe_last_price",
				Help: "Last observed price for a symbol",
			},
			[]string{"symbol"},
		),
		cycle: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradepipe_cycle_duration_seconds",
				Help:    "Duration of one loop iteration per component",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"component"},
		),
	}
}

// RecordSnapshot records a published snapshot.
func (r *Recorder) RecordSnapshot() {
	r.snapshots.Inc()
}

// RecordMove records an emitted move event.
func (r *Recorder) RecordMove(direction string) {
	r.moves.WithLabelValues(direction).Inc()
}

// RecordSignal records an emitted trading signal.
func (r *Recorder) RecordSignal(action string) {
	r.signals.WithLabelValues(action).Inc()
}

// RecordOrder records a processed signal and its outcome.
func (r *Recorder) RecordOrder(account, outcome string) {
	r.orders.WithLabelValues(account, outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordCycle records one loop iteration's duration.
func (r *Recorder) RecordCycle(component string, seconds float64) {
	r.cycle.WithLabelValues(component).Observe(seconds)
}
