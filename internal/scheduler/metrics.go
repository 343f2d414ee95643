package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	// firingsTotal counts completed firings by contest and outcome
	// ("ok", "partial", "repository_error", "channel_error").
	firingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_firings_total",
			Help: "Total number of contest firings.",
		},
		[]string{"contest", "outcome"},
	)

	// notificationsTotal counts per-subscriber sends by outcome.
	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_notifications_total",
			Help: "Total number of notification attempts per subscriber.",
		},
		[]string{"contest", "channel", "outcome"},
	)

	// missedTotal counts firings that woke up later than the miss tolerance.
	missedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_missed_occurrences_total",
			Help: "Firings that started later than the configured tolerance.",
		},
		[]string{"contest"},
	)

	// dispatchSeconds observes how long a whole batch took.
	dispatchSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_dispatch_duration_seconds",
			Help:    "Duration of a firing's dispatch batch in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"contest"},
	)
)

func init() {
	prometheus.MustRegister(firingsTotal, notificationsTotal, missedTotal, dispatchSeconds)
}
