package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
)

type trainingRepository struct {
	BaseRepository
}

func NewTrainingRepository(base BaseRepository) repository.TrainingRepository {
	return &trainingRepository{base}
}

func (r *trainingRepository) CreateArchive(ctx context.Context, a *model.TrainingArchive) error {
	query := `
		INSERT INTO training_archives (id, source_path, archive_extracted, date_archive_extracted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	a.Touch(time.Now().UTC())
	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.SourcePath,
		a.Extracted,
		a.ExtractedAt,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create training archive: %w", mapError("training archive", err))
	}
	return nil
}

func (r *trainingRepository) MarkExtracted(ctx context.Context, archiveID uuid.UUID, at time.Time) error {
	query := `
		UPDATE training_archives SET archive_extracted = TRUE, date_archive_extracted = $1, updated_at = $1
		WHERE id = $2
	`
	res, err := r.db.ExecContext(ctx, query, at, archiveID)
	if err != nil {
		return fmt.Errorf("failed to mark archive extracted: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("training archive", nil)
	}
	return nil
}

func (r *trainingRepository) WithTx(ctx context.Context, fn func(repository.TrainingTx) error) error {
	return r.BaseRepository.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&trainingTx{tx: tx, now: time.Now().UTC()})
	})
}

func (r *trainingRepository) GetManifest(ctx context.Context, archiveID uuid.UUID) (*model.TrainingManifest, error) {
	var archive model.TrainingArchive
	if err := r.db.GetContext(ctx, &archive, `
		SELECT id, source_path, archive_extracted, date_archive_extracted, created_at, updated_at
		FROM training_archives WHERE id = $1`, archiveID); err != nil {
		return nil, mapError("training archive", err)
	}

	m := &model.TrainingManifest{Archive: &archive}
	if err := r.db.SelectContext(ctx, &m.Series, `
		SELECT id, training_archive_id, dicom_series_uid, number_of_images, patient_id, series_description,
			series_acquisition_date, image_type, image_paths, created_at, updated_at
		FROM training_image_series WHERE training_archive_id = $1
		ORDER BY dicom_series_uid`, archiveID); err != nil {
		return nil, fmt.Errorf("failed to list image series: %w", err)
	}

	if err := r.db.SelectContext(ctx, &m.StructureSets, `
		SELECT ss.id, ss.training_image_id, ss.structureset_series_uid, ss.structureset_sop_uid,
			ss.referenced_series_uid, ss.structureset_path, ss.created_at, ss.updated_at
		FROM training_structure_sets ss
		JOIN training_image_series s ON s.id = ss.training_image_id
		WHERE s.training_archive_id = $1
		ORDER BY ss.structureset_series_uid`, archiveID); err != nil {
		return nil, fmt.Errorf("failed to list structure sets: %w", err)
	}

	var rois []struct {
		StructureSetID uuid.UUID `db:"training_structure_set_id"`
		Name           string    `db:"roi_name"`
	}
	if err := r.db.SelectContext(ctx, &rois, `
		SELECT r.training_structure_set_id, r.roi_name
		FROM training_rois r
		JOIN training_structure_sets ss ON ss.id = r.training_structure_set_id
		JOIN training_image_series s ON s.id = ss.training_image_id
		WHERE s.training_archive_id = $1
		ORDER BY r.roi_name`, archiveID); err != nil {
		return nil, fmt.Errorf("failed to list roi names: %w", err)
	}
	byID := make(map[uuid.UUID]*model.TrainingStructureSet, len(m.StructureSets))
	for _, ss := range m.StructureSets {
		byID[ss.ID] = ss
	}
	for _, roi := range rois {
		if ss, ok := byID[roi.StructureSetID]; ok {
			ss.ROINames = append(ss.ROINames, roi.Name)
		}
	}

	if err := r.db.SelectContext(ctx, &m.Pairs, `
		SELECT p.id, p.training_structure_set_id, p.rtplan_series_uid, p.rtplan_sop_uid, p.rtplan_path,
			p.rtdose_series_uid, p.rtdose_sop_uid, p.rtdose_path, p.created_at, p.updated_at
		FROM plan_dose_pairs p
		JOIN training_structure_sets ss ON ss.id = p.training_structure_set_id
		JOIN training_image_series s ON s.id = ss.training_image_id
		WHERE s.training_archive_id = $1
		ORDER BY p.rtplan_series_uid, p.rtdose_series_uid`, archiveID); err != nil {
		return nil, fmt.Errorf("failed to list plan/dose pairs: %w", err)
	}
	return m, nil
}

type trainingTx struct {
	tx  *sqlx.Tx
	now time.Time
}

func (t *trainingTx) SaveImageSeries(ctx context.Context, s *model.TrainingImageSeries) error {
	query := `
		INSERT INTO training_image_series (id, training_archive_id, dicom_series_uid, number_of_images, patient_id,
			series_description, series_acquisition_date, image_type, image_paths, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (dicom_series_uid) DO UPDATE SET
			training_archive_id = EXCLUDED.training_archive_id,
			number_of_images = EXCLUDED.number_of_images,
			patient_id = EXCLUDED.patient_id,
			series_description = EXCLUDED.series_description,
			series_acquisition_date = EXCLUDED.series_acquisition_date,
			image_type = EXCLUDED.image_type,
			image_paths = EXCLUDED.image_paths,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	s.Touch(t.now)
	err := t.tx.QueryRowxContext(ctx, query,
		s.ID,
		s.ArchiveID,
		s.SeriesInstanceUID,
		s.NumberOfImages,
		s.PatientID,
		s.Description,
		s.AcquisitionDate,
		s.ImageType,
		s.ImagePaths,
		s.CreatedAt,
		s.UpdatedAt,
	).Scan(&s.ID, &s.CreatedAt)
	return mapError("training image series", err)
}

// SaveStructureSet upserts the structure set and adds any ROI names not
// already recorded for it.
func (t *trainingTx) SaveStructureSet(ctx context.Context, ss *model.TrainingStructureSet) error {
	query := `
		INSERT INTO training_structure_sets (id, training_image_id, structureset_series_uid, structureset_sop_uid,
			referenced_series_uid, structureset_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (structureset_series_uid) DO UPDATE SET
			training_image_id = EXCLUDED.training_image_id,
			structureset_sop_uid = EXCLUDED.structureset_sop_uid,
			referenced_series_uid = EXCLUDED.referenced_series_uid,
			structureset_path = EXCLUDED.structureset_path,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	ss.Touch(t.now)
	if err := t.tx.QueryRowxContext(ctx, query,
		ss.ID,
		ss.ImageSeriesID,
		ss.SeriesInstanceUID,
		ss.SOPInstanceUID,
		ss.ReferencedSeriesUID,
		ss.Path,
		ss.CreatedAt,
		ss.UpdatedAt,
	).Scan(&ss.ID, &ss.CreatedAt); err != nil {
		return mapError("training structure set", err)
	}

	for _, name := range ss.ROINames {
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO training_rois (id, training_structure_set_id, roi_name, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (training_structure_set_id, roi_name) DO NOTHING`,
			uuid.New(), ss.ID, name, t.now,
		); err != nil {
			return mapError("training roi", err)
		}
	}
	return nil
}

func (t *trainingTx) SavePlanDosePair(ctx context.Context, p *model.PlanDosePair) error {
	query := `
		INSERT INTO plan_dose_pairs (id, training_structure_set_id, rtplan_series_uid, rtplan_sop_uid, rtplan_path,
			rtdose_series_uid, rtdose_sop_uid, rtdose_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (rtdose_series_uid, rtplan_series_uid) DO UPDATE SET
			training_structure_set_id = EXCLUDED.training_structure_set_id,
			rtplan_sop_uid = EXCLUDED.rtplan_sop_uid,
			rtplan_path = EXCLUDED.rtplan_path,
			rtdose_sop_uid = EXCLUDED.rtdose_sop_uid,
			rtdose_path = EXCLUDED.rtdose_path,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	p.Touch(t.now)
	err := t.tx.QueryRowxContext(ctx, query,
		p.ID,
		p.StructureSetID,
		p.PlanSeriesUID,
		p.PlanSOPUID,
		p.PlanPath,
		p.DoseSeriesUID,
		p.DoseSOPUID,
		p.DosePath,
		p.CreatedAt,
		p.UpdatedAt,
	).Scan(&p.ID, &p.CreatedAt)
	return mapError("plan dose pair", err)
}
