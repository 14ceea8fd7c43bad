package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwalitptl/dicom-ingest/internal/model"
)

// JobResult carries whichever summary the job's kind produced.
type JobResult struct {
	Clinical *Summary
	Training *TrainingSummary
}

// RunJob moves a job from pending through in_progress to completed or
// failed, storing the summary or the error as its log data. path is the
// local copy of the job's source; SourcePath stays as recorded.
func (o *Orchestrator) RunJob(ctx context.Context, job *model.ArchiveJob, path string, sink ProgressSink) (*JobResult, error) {
	if o.deps.Jobs == nil {
		return nil, fmt.Errorf("job repository not configured")
	}
	sink = sinkOrNop(sink)
	log := o.logger.WithFields(map[string]interface{}{"job_id": job.ID.String(), "kind": string(job.Kind)})

	if err := o.deps.Jobs.UpdateStatus(ctx, job.ID, model.StatusInProgress, nil); err != nil {
		o.metrics.DatabaseOperations.WithLabelValues("update_job_status", "error").Inc()
		return nil, fmt.Errorf("failed to mark job in progress: %w", err)
	}
	o.metrics.DatabaseOperations.WithLabelValues("update_job_status", "success").Inc()
	log.Info("job started", "source", job.SourcePath)

	result, logData, err := o.runKind(ctx, job, path, sink)

	// Status writes must land even when ctx was cancelled mid-archive.
	statusCtx := context.WithoutCancel(ctx)
	if err != nil {
		sink.SetProgress(statusCtx, progressTotal, progressTotal, "Error: "+err.Error())
		failData := model.JSONMap{
			"error":     err.Error(),
			"failed_at": time.Now().UTC().Format(time.RFC3339),
		}
		if updateErr := o.deps.Jobs.UpdateStatus(statusCtx, job.ID, model.StatusFailed, failData); updateErr != nil {
			log.Error(updateErr, "failed to mark job failed")
		}
		log.Error(err, "job failed")
		return result, err
	}

	logData["completed_at"] = time.Now().UTC().Format(time.RFC3339)
	if err := o.deps.Jobs.UpdateStatus(statusCtx, job.ID, model.StatusCompleted, logData); err != nil {
		o.metrics.DatabaseOperations.WithLabelValues("update_job_status", "error").Inc()
		return result, fmt.Errorf("failed to mark job completed: %w", err)
	}
	o.metrics.DatabaseOperations.WithLabelValues("update_job_status", "success").Inc()
	log.Info("job completed")
	return result, nil
}

func (o *Orchestrator) runKind(ctx context.Context, job *model.ArchiveJob, path string, sink ProgressSink) (*JobResult, model.JSONMap, error) {
	switch job.Kind {
	case model.JobKindClinical:
		summary, err := o.ProcessArchive(ctx, job.ID, path, sink)
		if err != nil {
			return &JobResult{Clinical: summary}, nil, err
		}
		logData, err := toJSONMap(summary)
		return &JobResult{Clinical: summary}, logData, err

	case model.JobKindTraining:
		archive := &model.TrainingArchive{SourcePath: job.SourcePath}
		if err := o.deps.Training.CreateArchive(ctx, archive); err != nil {
			return nil, nil, fmt.Errorf("failed to create training archive: %w", err)
		}
		summary, err := o.ProcessTrainingArchive(ctx, archive.ID, path, sink)
		if err != nil {
			return nil, nil, err
		}
		logData, err := toJSONMap(summary)
		return &JobResult{Training: summary}, logData, err

	default:
		return nil, nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func toJSONMap(v interface{}) (model.JSONMap, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	var m model.JSONMap
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	return m, nil
}
