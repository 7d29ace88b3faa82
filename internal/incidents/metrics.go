package incidents

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentcommander"

var (
	incidentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "created_total",
			Help:      "Total incidents created by severity",
		},
		[]string{"severity"},
	)

	incidentsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "resolved_total",
			Help:      "Total incidents resolved by severity",
		},
		[]string{"severity"},
	)

	incidentsEscalated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "escalated_total",
			Help:      "Total escalations applied by source",
		},
		[]string{"source"},
	)

	resolutionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "resolution_seconds",
			Help:      "Time from incident creation to resolution",
			Buckets:   prometheus.ExponentialBuckets(60, 4, 10),
		},
		[]string{"severity"},
	)
)
