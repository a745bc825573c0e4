package syncqueue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure reasons recorded on the failures counter.
const (
	ReasonTransient = "transient"
	ReasonDenied    = "permission_denied"
	ReasonNotFound  = "not_found"
	ReasonUnknown   = "unknown"
)

// Metrics are the Prometheus instruments of a Processor.
type Metrics struct {
	// Pending is the queue length. Enqueue raises it and every drain resets
	// it to the stored count.
	Pending prometheus.Gauge

	// Replayed counts mutations applied remotely and removed.
	Replayed prometheus.Counter

	// Failures counts failed replays by reason.
	Failures *prometheus.CounterVec
}

// NewMetrics registers the instruments with reg. A nil reg leaves them
// unregistered, which is what tests and embedded use want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "notesync",
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Mutations waiting in the local replay queue",
		}),
		Replayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "notesync",
			Subsystem: "queue",
			Name:      "replayed_total",
			Help:      "Queued mutations applied to the remote store",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notesync",
			Subsystem: "queue",
			Name:      "failures_total",
			Help:      "Failed replays of queued mutations by reason",
		}, []string{"reason"}),
	}
}
