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

type structureSetRepository struct {
	BaseRepository
}

func NewStructureSetRepository(base BaseRepository) repository.StructureSetRepository {
	return &structureSetRepository{base}
}

func (r *structureSetRepository) GetSummary(ctx context.Context, sopInstanceUID string) (*model.StructureSetSummary, error) {
	query := `
		SELECT ss.id AS structure_set_id, i.sop_instance_uid, i.modality, ss.number_of_roi,
			se.series_description, st.study_description, p.patient_id, p.patient_sex,
			ss.prescription_template_id
		FROM structure_sets ss
		JOIN instances i ON i.id = ss.instance_ref_id
		JOIN series se ON se.id = i.series_ref_id
		JOIN studies st ON st.id = se.study_ref_id
		JOIN patients p ON p.id = st.patient_ref_id
		WHERE i.sop_instance_uid = $1
	`
	var s model.StructureSetSummary
	if err := r.db.GetContext(ctx, &s, query, sopInstanceUID); err != nil {
		return nil, mapError("structure set", err)
	}

	names := []string{}
	if err := r.db.SelectContext(ctx, &names,
		`SELECT roi_name FROM rois WHERE structure_set_ref_id = $1 ORDER BY roi_number`, s.StructureSetID); err != nil {
		return nil, fmt.Errorf("failed to list roi names: %w", err)
	}
	s.ROINames = names
	return &s, nil
}

// ListUnassigned returns SOP instance UIDs of structure sets that have no
// template yet, oldest first.
func (r *structureSetRepository) ListUnassigned(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT i.sop_instance_uid
		FROM structure_sets ss
		JOIN instances i ON i.id = ss.instance_ref_id
		WHERE ss.prescription_template_id IS NULL
		ORDER BY ss.created_at, i.sop_instance_uid
		LIMIT $1
	`
	var uids []string
	if err := r.db.SelectContext(ctx, &uids, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list unassigned structure sets: %w", err)
	}
	return uids, nil
}

func (r *structureSetRepository) AssignTemplate(ctx context.Context, structureSetID, templateID uuid.UUID) error {
	query := `UPDATE structure_sets SET prescription_template_id = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, templateID, time.Now().UTC(), structureSetID)
	if err != nil {
		return mapError("structure set", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("structure set", nil)
	}
	return nil
}
