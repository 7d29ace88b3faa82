package notify

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentcommander"

var (
	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total notifications processed by channel and outcome",
		},
		[]string{"channel", "status"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to send a notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)
)

// recordSent records a notification delivery attempt outcome.
func recordSent(channel, status string) {
	notificationsSent.WithLabelValues(channel, status).Inc()
}

// recordDuration records notification send duration.
func recordDuration(channel string, duration time.Duration) {
	notificationSendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}
