// Package metrics exposes Prometheus collectors for the engine. Every method
// is safe on a nil *Recorder so library users can skip metrics entirely.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "girvi"

// Result labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
)

// Recorder records engine activity.
type Recorder struct {
	transitions   *prometheus.CounterVec
	payments      *prometheus.CounterVec
	batchItems    *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
}

// New registers the engine metrics on the provided registerer.
// A nil registerer yields a Recorder that records nothing.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return &Recorder{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "custody_transitions_total",
		Help:      "Custody transitions attempted, by operation and result.",
	}, []string{"operation", "result"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_total",
		Help:      "Payments attempted, by ledger and result.",
	}, []string{"ledger", "result"})
	batchItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_items_total",
		Help:      "Items processed by batch operations, by operation and result kind.",
	}, []string{"operation", "result"})
	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_duration_seconds",
		Help:      "Duration of batch operations in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(transitions, payments, batchItems, batchDuration)
	return &Recorder{
		transitions:   transitions,
		payments:      payments,
		batchItems:    batchItems,
		batchDuration: batchDuration,
	}
}

// Transition counts one custody transition attempt.
func (r *Recorder) Transition(operation string, err error) {
	if r == nil || r.transitions == nil {
		return
	}
	r.transitions.WithLabelValues(normalizeLabel(operation), result(err)).Inc()
}

// Payment counts one payment attempt on the customer or dealer ledger.
func (r *Recorder) Payment(ledger string, err error) {
	if r == nil || r.payments == nil {
		return
	}
	r.payments.WithLabelValues(normalizeLabel(ledger), result(err)).Inc()
}

// BatchItem counts one batch item outcome. kind is empty on success.
func (r *Recorder) BatchItem(operation, kind string) {
	if r == nil || r.batchItems == nil {
		return
	}
	if kind == "" {
		kind = ResultOK
	}
	r.batchItems.WithLabelValues(normalizeLabel(operation), kind).Inc()
}

// ObserveBatch records the duration of a whole batch.
func (r *Recorder) ObserveBatch(operation string, d time.Duration) {
	if r == nil || r.batchDuration == nil {
		return
	}
	r.batchDuration.WithLabelValues(normalizeLabel(operation)).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return ResultRejected
	}
	return ResultOK
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
