package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	signalsCreated     *prometheus.CounterVec
	movementStatuses   *prometheus.CounterVec
	reconcileAttempts  *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	lastPrice          *prometheus.GaugeVec
	tickLatencySeconds prometheus.Histogram
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		signalsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volbot_signals_created_total",
				Help: "Total number of trading signals created",
			},
			[]string{"user", "symbol"},
		),
		movementStatuses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volbot_movement_status_total",
				Help: "Movement status transitions by type and status",
			},
			[]string{"type", "status"},
		),
		reconcileAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volbot_reconcile_attempts_total",
				Help: "Order reconciliation attempts by outcome",
			},
			[]string{"outcome"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volbot_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "volbot_last_price",
				Help: "Last observed close price for a symbol",
			},
			[]string{"symbol"},
		),
		tickLatencySeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "volbot_tick_duration_seconds",
				Help:    "Duration of one candle evaluation tick in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// RecordSignalCreated records a new signal.
func (r *Recorder) RecordSignalCreated(userID, symbol string) {
	r.signalsCreated.WithLabelValues(userID, symbol).Inc()
}

// RecordMovementStatus records a movement status transition.
func (r *Recorder) RecordMovementStatus(mtype, status string) {
	r.movementStatuses.WithLabelValues(mtype, status).Inc()
}

// RecordReconcileAttempt records one reconciliation poll outcome.
func (r *Recorder) RecordReconcileAttempt(outcome string) {
	r.reconcileAttempts.WithLabelValues(outcome).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last close price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordTickLatency records the wall time of one evaluation tick.
func (r *Recorder) RecordTickLatency(seconds float64) {
	r.tickLatencySeconds.Observe(seconds)
}
