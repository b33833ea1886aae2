package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsProcessedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mergewarden_events_processed_total",
		Help: "Number of events handled, by event kind.",
	}, []string{"kind"})

	eventErrorsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mergewarden_event_errors_total",
		Help: "Number of events whose handling failed, by event kind.",
	}, []string{"kind"})

	handlingDurationMetric = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mergewarden_event_handling_duration_seconds",
		Help:    "Wall time spent handling one event.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	mergesMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mergewarden_merges_total",
		Help: "Number of merge requests merged by the bot.",
	})

	followUpsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mergewarden_followups_created_total",
		Help: "Number of cherry-pick follow-up merge requests created.",
	})

	commandsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mergewarden_chat_commands_total",
		Help: "Number of chat commands received, by verb.",
	}, []string{"verb"})
)
