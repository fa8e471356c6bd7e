// Package metrics exposes Prometheus collectors for the relay core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "matchrelay"

// Drop reasons used with MovesDropped.
const (
	DropUnknownSession = "unknown_session"
	DropNotMember      = "not_member"
	DropOpponentGone   = "opponent_gone"
	DropSendFailed     = "send_failed"
)

// Metrics groups every collector the core updates.
type Metrics struct {
	Connections     prometheus.Gauge
	QueueWaiting    prometheus.Gauge
	ActiveSessions  prometheus.Gauge
	Pairings        prometheus.Counter
	MovesRelayed    prometheus.Counter
	MovesDropped    *prometheus.CounterVec
	AuthFailures    *prometheus.CounterVec
	ResultsRecorded *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_connections",
			Help:      "Identities with a registered live connection.",
		}),
		QueueWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_waiting",
			Help:      "Identities waiting in the matchmaking queue.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Game sessions currently active.",
		}),
		Pairings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairings_total",
			Help:      "Sessions created by the matchmaking queue.",
		}),
		MovesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_relayed_total",
			Help:      "Moves forwarded to the opponent.",
		}),
		MovesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "moves_dropped_total",
			Help:      "Moves dropped before reaching the opponent.",
		}, []string{"reason"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected tokens or credentials by message type.",
		}, []string{"type"}),
		ResultsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "results_recorded_total",
			Help:      "Game results handed to the result store.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.Connections,
		m.QueueWaiting,
		m.ActiveSessions,
		m.Pairings,
		m.MovesRelayed,
		m.MovesDropped,
		m.AuthFailures,
		m.ResultsRecorded,
	)
	return m
}

// NewUnregistered is New against a throwaway registry.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
