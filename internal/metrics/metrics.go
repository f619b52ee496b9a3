// Package metrics exposes the Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsAppended counts events accepted into a session log, by type.
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_events_appended_total",
		Help: "Events appended to session logs.",
	}, []string{"event_type"})

	// ViolationsConfirmed counts debouncer confirmations, by category.
	ViolationsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_violations_confirmed_total",
		Help: "Violations confirmed by the debouncer.",
	}, []string{"category"})

	// AlertsPublished counts alerts handed to topic subscribers.
	AlertsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proctor_alerts_published_total",
		Help: "Alerts delivered to topic subscribers.",
	})

	// AlertsDropped counts alerts dropped because a subscriber was full.
	AlertsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proctor_alerts_dropped_total",
		Help: "Alerts dropped for slow subscribers.",
	})

	// MutationTimeouts counts per-session mutation lock timeouts.
	MutationTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proctor_mutation_timeouts_total",
		Help: "Session mutations rejected because the lock wait timed out.",
	})

	// ArchiveFailures counts failed writes to the session archive.
	ArchiveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "proctor_archive_failures_total",
		Help: "Failed session archive writes.",
	})
)
