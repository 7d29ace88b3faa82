package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentcommander"

var (
	activeChains = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "active_chains",
			Help:      "Number of incidents with a running escalation timer",
		},
	)

	timersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "timers_fired_total",
			Help:      "Total escalation timers fired by outcome",
		},
		[]string{"outcome"},
	)

	sweepRearms = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "sweep_rearms_total",
			Help:      "Total escalation chains re-armed by the reconciliation sweep",
		},
	)
)
