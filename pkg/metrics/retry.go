package metrics

import "github.com/prometheus/client_golang/prometheus"

// Retry queue outcomes.
const (
	RetryEnqueued  = "enqueued"
	RetrySucceeded = "succeeded"
	RetryRequeued  = "requeued"
	RetryDropped   = "dropped"
)

// RetryQueueMetrics tracks retry queue traffic per operation kind.
type RetryQueueMetrics struct {
	outcomes  *prometheus.CounterVec
	remaining prometheus.Gauge
}

func NewRetryQueueMetrics(reg prometheus.Registerer) *RetryQueueMetrics {
	if reg == nil {
		return &RetryQueueMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_queue_operations_total",
		Help:      "Retry queue operations by kind and outcome.",
	}, []string{"kind", "outcome"})
	remaining := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "retry_queue_remaining",
		Help:      "Items left in the retry queue after the last drain.",
	})
	reg.MustRegister(outcomes, remaining)
	return &RetryQueueMetrics{outcomes: outcomes, remaining: remaining}
}

func (r *RetryQueueMetrics) Observe(kind, outcome string) {
	if r == nil || r.outcomes == nil {
		return
	}
	r.outcomes.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (r *RetryQueueMetrics) SetRemaining(n int64) {
	if r == nil || r.remaining == nil {
		return
	}
	r.remaining.Set(float64(n))
}
