package relay

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "fanrelay"

// Metrics holds the relay collectors.
type Metrics struct {
	EventsDistributed   prometheus.Counter
	IntakePanics        prometheus.Counter
	Handlers            prometheus.Gauge
	ActiveConnections   prometheus.Gauge
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected *prometheus.CounterVec
	MessagesSent        prometheus.Counter
	BytesSent           prometheus.Counter
	WriteFailures       prometheus.Counter
	BatchesAbandoned    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsDistributed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_distributed_total",
			Help:      "Upstream events fanned out to clients.",
		}),
		IntakePanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "intake_panics_total",
			Help:      "Panics recovered while handing an event to a client.",
		}),
		Handlers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "registered_handlers",
			Help:      "Connection handlers currently receiving events.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "Accepted client connections not yet closed.",
		}),
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "Client connections accepted.",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_rejected_total",
			Help:      "Client connections refused by admission control.",
		}, []string{"reason"}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Messages written to client sockets.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "bytes_sent_total",
			Help:      "Payload bytes written to client sockets.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "write_failures_total",
			Help:      "Client socket writes that failed.",
		}),
		BatchesAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_abandoned_total",
			Help:      "Batches discarded because their client was gone.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsDistributed,
			m.IntakePanics,
			m.Handlers,
			m.ActiveConnections,
			m.ConnectionsAccepted,
			m.ConnectionsRejected,
			m.MessagesSent,
			m.BytesSent,
			m.WriteFailures,
			m.BatchesAbandoned,
		)
	}
	return m
}
