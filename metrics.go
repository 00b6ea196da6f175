package peerwire

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/anacrolix/peerwire/tokens"
)

type Metrics struct {
	Accepted prometheus.Counter
	// By reason: "capacity", "rate", "register".
	Rejected *prometheus.CounterVec
	Promoted prometheus.Counter
	// By connection kind.
	Closed *prometheus.CounterVec
	Live   *prometheus.GaugeVec
	// Events for tokens whose slot was already freed.
	StaleEvents  prometheus.Counter
	MessagesRead prometheus.Counter
	BytesRead    prometheus.Counter
	BytesWritten prometheus.Counter
}

// NewMetrics creates the reactor's metrics and registers them with reg, if it's not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "peerwire",
			Name:      "accepted_total",
			Help:      "Inbound connections accepted.",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwire",
			Name:      "rejected_total",
			Help:      "Inbound connections closed before a handshake slot was assigned.",
		}, []string{"reason"}),
		Promoted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "peerwire",
			Name:      "promoted_total",
			Help:      "Handshakes promoted to peer connections.",
		}),
		Closed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "peerwire",
			Name:      "closed_total",
			Help:      "Connections torn down.",
		}, []string{"kind"}),
		Live: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "peerwire",
			Name:      "live",
			Help:      "Occupied slots.",
		}, []string{"kind"}),
		StaleEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: "peerwire",
			Name:      "stale_events_total",
			Help:      "Readiness events for freed tokens.",
		}),
		MessagesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: "peerwire",
			Name:      "messages_read_total",
			Help:      "Frames dispatched from peer connections.",
		}),
		BytesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: "peerwire",
			Name:      "read_bytes_total",
			Help:      "Bytes read from all connections.",
		}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: "peerwire",
			Name:      "written_bytes_total",
			Help:      "Bytes written to all connections.",
		}),
	}
}

func (me *Metrics) setLive(kind tokens.Kind, n int) {
	me.Live.WithLabelValues(kind.String()).Set(float64(n))
}
