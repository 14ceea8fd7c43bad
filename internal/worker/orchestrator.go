// Package worker sequences one archive at a time through extraction,
// reconciliation or linkage, and reports progress and a summary.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/dicom-ingest/internal/archive"
	"github.com/jwalitptl/dicom-ingest/internal/dicomtag"
	"github.com/jwalitptl/dicom-ingest/internal/linkage"
	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/reconcile"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
	"github.com/jwalitptl/dicom-ingest/pkg/metrics"
)

const (
	kindClinical = string(model.JobKindClinical)
	kindTraining = string(model.JobKindTraining)

	progressTotal    = 100
	metricsNamespace = "dicom_ingest"
)

// Deps are the pipeline stages an Orchestrator drives.
type Deps struct {
	Extractor  *archive.Extractor
	Reconciler *reconcile.Reconciler
	Resolver   *linkage.Resolver
	Organizer  *linkage.Organizer
	Training   repository.TrainingRepository
	Jobs       repository.JobRepository
}

type OrchestratorConfig struct {
	// ConflictRetryDelay is the pause before the single retry of a file
	// whose transaction lost a unique-key race.
	ConflictRetryDelay time.Duration
}

type Orchestrator struct {
	deps    Deps
	config  OrchestratorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewOrchestrator(
	deps Deps,
	config OrchestratorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *Orchestrator {
	if deps.Extractor == nil {
		panic("Extractor is required")
	}
	if deps.Reconciler == nil {
		panic("Reconciler is required")
	}
	if deps.Resolver == nil || deps.Organizer == nil || deps.Training == nil {
		panic("Resolver, Organizer and Training are required")
	}
	if logger == nil {
		logger = nopLogger()
	}
	if metrics == nil {
		metrics = newUnregisteredMetrics()
	}

	return &Orchestrator{
		deps:    deps,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
}

// FileResult is the outcome of one extracted file.
type FileResult struct {
	FilePath       string `json:"file_path"`
	Success        bool   `json:"success"`
	Error          string `json:"error"`
	SOPInstanceUID string `json:"sop_instance_uid"`
	Modality       string `json:"modality"`

	skipped bool
}

// Summary is the clinical ingestion report for one archive. Skipped files
// are counted apart from failed ones.
type Summary struct {
	TotalFiles  int          `json:"total_files"`
	Successful  int          `json:"successful"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	FileResults []FileResult `json:"file_results"`
}

// ProcessArchive extracts a clinical archive and reconciles every file in
// it. File-level problems are recorded in the summary; only archive-level
// errors and cancellation are returned. On cancellation the partial summary
// is returned alongside ctx.Err().
func (o *Orchestrator) ProcessArchive(ctx context.Context, jobID uuid.UUID, path string, sink ProgressSink) (summary *Summary, err error) {
	sink = sinkOrNop(sink)
	log := o.logger.WithFields(map[string]interface{}{"job_id": jobID.String(), "archive": path})

	timer := prometheus.NewTimer(o.metrics.ArchiveDuration.WithLabelValues(kindClinical))
	defer timer.ObserveDuration()
	defer func() { o.countArchive(kindClinical, err) }()

	sink.SetProgress(ctx, 0, progressTotal, "Initializing...")
	sink.SetProgress(ctx, 10, progressTotal, "Extracting ZIP archive...")

	workDir, files, err := o.deps.Extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	cleaned := false
	cleanup := func() {
		if cleaned {
			return
		}
		cleaned = true
		sink.SetProgress(ctx, 95, progressTotal, "Cleaning up temporary files...")
		o.deps.Extractor.Cleanup(workDir)
	}
	defer cleanup()

	sink.SetProgress(ctx, 30, progressTotal, fmt.Sprintf("Extracted %d files", len(files)))
	sink.SetProgress(ctx, 40, progressTotal, "Processing DICOM files...")

	summary = &Summary{TotalFiles: len(files), FileResults: make([]FileResult, 0, len(files))}
	for idx, file := range files {
		if err := ctx.Err(); err != nil {
			log.Warn("archive processing cancelled", "processed", idx, "total", len(files))
			return summary, err
		}
		sink.SetProgress(ctx, 40+idx*50/len(files), progressTotal,
			fmt.Sprintf("Processing file %d/%d", idx+1, len(files)))

		res := o.processFile(ctx, log, file)
		switch {
		case res.Success:
			summary.Successful++
		case res.skipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
		summary.FileResults = append(summary.FileResults, res)
	}

	cleanup()
	sink.SetProgress(ctx, 98, progressTotal, "Finalizing...")
	sink.SetProgress(ctx, progressTotal, progressTotal,
		fmt.Sprintf("Completed! Processed %d/%d files successfully", summary.Successful, summary.TotalFiles))

	log.Info("clinical archive processed",
		"total_files", summary.TotalFiles,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return summary, nil
}

func (o *Orchestrator) processFile(ctx context.Context, log *logger.Logger, path string) FileResult {
	res := FileResult{FilePath: path}

	r, err := dicomtag.Open(path, dicomtag.WithLogger(log))
	if err != nil {
		res.Error = err.Error()
		o.metrics.FilesFailed.WithLabelValues("unreadable").Inc()
		log.Error(err, "failed to read DICOM file", "file_path", path)
		return res
	}

	instance, err := o.deps.Reconciler.Reconcile(ctx, r)
	if errors.Is(err, errors.ErrPersistenceConflict) {
		log.Warn("retrying file after conflicting write", "file_path", path)
		if o.config.ConflictRetryDelay > 0 {
			time.Sleep(o.config.ConflictRetryDelay)
		}
		instance, err = o.deps.Reconciler.Reconcile(ctx, r)
	}
	if instance != nil {
		res.SOPInstanceUID = instance.SOPInstanceUID
		res.Modality = string(instance.Modality)
	}

	switch {
	case err == nil:
		res.Success = true
		o.metrics.FilesProcessed.WithLabelValues(res.Modality).Inc()
		log.Debug("file reconciled", "file_path", path, "sop_instance_uid", res.SOPInstanceUID)
	case errors.Is(err, errors.ErrUnsupportedModalityNoTag):
		res.Error = err.Error()
		res.skipped = true
		o.metrics.FilesSkipped.Inc()
		log.Debug("skipping file without modality", "file_path", path)
	default:
		res.Error = err.Error()
		o.metrics.FilesFailed.WithLabelValues(failureReason(err)).Inc()
		log.Error(err, "failed to process file", "file_path", path)
	}
	return res
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrMissingRequiredTag):
		return "missing_tag"
	case errors.Is(err, errors.ErrPersistenceConflict):
		return "conflict"
	case errors.Is(err, errors.ErrSerializationFailure):
		return "serialization"
	default:
		return "other"
	}
}

func (o *Orchestrator) countArchive(kind string, err error) {
	status := string(model.StatusCompleted)
	if err != nil {
		status = string(model.StatusFailed)
	}
	o.metrics.ArchivesProcessed.WithLabelValues(kind, status).Inc()
}

func nopLogger() *logger.Logger { return logger.Nop() }

func newUnregisteredMetrics() *metrics.Metrics { return metrics.New(metricsNamespace, nil) }
