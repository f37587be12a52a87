// Package metrics exposes Prometheus collectors for the extraction pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsTotal counts documents reaching a terminal status.
	// Labels: outcome (extracted, degraded, partial, failed, canceled)
	DocumentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extractd",
			Subsystem: "extraction",
			Name:      "documents_total",
			Help:      "Documents reaching a terminal status by outcome",
		},
		[]string{"outcome"},
	)

	// ExtractionDuration tracks end-to-end extraction time per route.
	// Labels: route (sync, async, archive)
	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "extractd",
			Subsystem: "extraction",
			Name:      "duration_seconds",
			Help:      "End-to-end extraction duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		},
		[]string{"route"},
	)

	// ArchiveMembers counts per-member outcomes inside archives.
	// Labels: result (ok, failed)
	ArchiveMembers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extractd",
			Subsystem: "extraction",
			Name:      "archive_members_total",
			Help:      "Archive member extractions by result",
		},
		[]string{"result"},
	)

	// JobPolls tracks how many status checks each async job needed.
	JobPolls = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "extractd",
			Subsystem: "extraction",
			Name:      "job_polls",
			Help:      "Status checks per asynchronous job",
			Buckets:   prometheus.LinearBuckets(1, 5, 13),
		},
	)

	// QueueTasks counts queued extraction tasks by final disposition.
	// Labels: result (ok, retried, dead)
	QueueTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extractd",
			Subsystem: "queue",
			Name:      "tasks_total",
			Help:      "Queued extraction tasks by disposition",
		},
		[]string{"result"},
	)

	// IngestedFiles counts files picked up from the watch directory.
	// Labels: result (accepted, duplicate, skipped, error)
	IngestedFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "extractd",
			Subsystem: "ingest",
			Name:      "files_total",
			Help:      "Files considered for ingestion by result",
		},
		[]string{"result"},
	)
)

// RecordOutcome classifies one finished document into the outcome counter.
func RecordOutcome(outcome string, route string, elapsed time.Duration) {
	DocumentsTotal.WithLabelValues(outcome).Inc()
	ExtractionDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RecordArchiveMember records one member outcome.
func RecordArchiveMember(ok bool) {
	if ok {
		ArchiveMembers.WithLabelValues("ok").Inc()
	} else {
		ArchiveMembers.WithLabelValues("failed").Inc()
	}
}
