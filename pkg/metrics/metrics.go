package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all ingestion metrics
type Metrics struct {
	// File level outcomes
	FilesProcessed *prometheus.CounterVec
	FilesSkipped   prometheus.Counter
	FilesFailed    *prometheus.CounterVec

	// Archive level
	ArchivesProcessed  *prometheus.CounterVec
	ArchiveDuration    *prometheus.HistogramVec
	UnresolvedLinks    *prometheus.CounterVec
	TemplateAssignment *prometheus.CounterVec

	// Queue consumption
	JobsConsumed *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// New creates the metric set and registers it on reg. A nil registerer
// leaves the collectors unregistered, which is what tests want.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FilesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Total number of successfully reconciled DICOM files",
		}, []string{"modality"}),
		FilesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Total number of files skipped because no modality tag was present",
		}),
		FilesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_failed_total",
			Help:      "Total number of files that failed processing",
		}, []string{"reason"}),
		ArchivesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_processed_total",
			Help:      "Total number of archives processed",
		}, []string{"kind", "status"}),
		ArchiveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "archive_processing_duration_seconds",
			Help:      "Time spent processing one archive",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
		UnresolvedLinks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unresolved_references_total",
			Help:      "Training records excluded because their parent could not be resolved",
		}, []string{"kind"}),
		TemplateAssignment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "template_matches_total",
			Help:      "Structure set template matching outcomes",
		}, []string{"result"}),
		JobsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_consumed_total",
			Help:      "Jobs taken off the queue, by handler outcome",
		}, []string{"result"}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.FilesProcessed,
			m.FilesSkipped,
			m.FilesFailed,
			m.ArchivesProcessed,
			m.ArchiveDuration,
			m.UnresolvedLinks,
			m.TemplateAssignment,
			m.JobsConsumed,
			m.DatabaseOperations,
		)
	}
	return m
}
