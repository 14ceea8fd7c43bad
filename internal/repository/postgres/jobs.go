package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
)

type jobRepository struct {
	BaseRepository
}

func NewJobRepository(base BaseRepository) repository.JobRepository {
	return &jobRepository{base}
}

func (r *jobRepository) Create(ctx context.Context, job *model.ArchiveJob) error {
	query := `
		INSERT INTO archive_jobs (id, source_path, kind, processing_status, date_processing_completed,
			processing_log_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	job.Touch(time.Now().UTC())
	if job.Status == "" {
		job.Status = model.StatusPending
	}

	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		job.SourcePath,
		job.Kind,
		job.Status,
		job.CompletedAt,
		job.LogData,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create archive job: %w", mapError("archive job", err))
	}
	return nil
}

func (r *jobRepository) Get(ctx context.Context, id uuid.UUID) (*model.ArchiveJob, error) {
	query := `
		SELECT id, source_path, kind, processing_status, date_processing_completed, processing_log_data,
			created_at, updated_at
		FROM archive_jobs WHERE id = $1
	`
	var job model.ArchiveJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, mapError("archive job", err)
	}
	return &job, nil
}

// UpdateStatus records a status transition. Terminal statuses also stamp the
// completion time.
func (r *jobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.ProcessingStatus, logData model.JSONMap) error {
	now := time.Now().UTC()
	var completed *time.Time
	if status == model.StatusCompleted || status == model.StatusFailed {
		completed = &now
	}

	query := `
		UPDATE archive_jobs SET
			processing_status = $1,
			processing_log_data = COALESCE($2, processing_log_data),
			date_processing_completed = COALESCE($3, date_processing_completed),
			updated_at = $4
		WHERE id = $5
	`
	res, err := r.db.ExecContext(ctx, query, status, logData, completed, now, id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("archive job", nil)
	}
	return nil
}
