package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
)

type clinicalStore struct {
	BaseRepository
}

// NewClinicalStore returns the transactional entry point to the clinical
// entity graph.
func NewClinicalStore(base BaseRepository) repository.Store {
	return &clinicalStore{base}
}

func (s *clinicalStore) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	return s.BaseRepository.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&clinicalTx{tx: tx, now: time.Now().UTC()})
	})
}

// clinicalTx stamps every row written in one transaction with the same time.
type clinicalTx struct {
	tx  *sqlx.Tx
	now time.Time
}

func (t *clinicalTx) FindPatientByUID(ctx context.Context, patientID string) (*model.Patient, error) {
	query := `
		SELECT id, patient_id, patient_name, patient_dob, patient_sex, created_at, updated_at
		FROM patients WHERE patient_id = $1
	`
	var p model.Patient
	if err := t.tx.GetContext(ctx, &p, query, patientID); err != nil {
		return nil, mapError("patient", err)
	}
	return &p, nil
}

func (t *clinicalTx) SavePatient(ctx context.Context, p *model.Patient) error {
	query := `
		INSERT INTO patients (id, patient_id, patient_name, patient_dob, patient_sex, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (patient_id) DO UPDATE SET
			patient_name = EXCLUDED.patient_name,
			patient_dob = EXCLUDED.patient_dob,
			patient_sex = EXCLUDED.patient_sex,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	p.Touch(t.now)
	err := t.tx.QueryRowxContext(ctx, query,
		p.ID,
		p.PatientID,
		p.Name,
		p.BirthDate,
		p.Sex,
		p.CreatedAt,
		p.UpdatedAt,
	).Scan(&p.ID, &p.CreatedAt)
	return mapError("patient", err)
}

func (t *clinicalTx) FindStudyByUID(ctx context.Context, studyUID string) (*model.Study, error) {
	query := `
		SELECT id, study_instance_uid, patient_ref_id, study_description, study_date, created_at, updated_at
		FROM studies WHERE study_instance_uid = $1
	`
	var s model.Study
	if err := t.tx.GetContext(ctx, &s, query, studyUID); err != nil {
		return nil, mapError("study", err)
	}
	return &s, nil
}

func (t *clinicalTx) SaveStudy(ctx context.Context, s *model.Study) error {
	query := `
		INSERT INTO studies (id, study_instance_uid, patient_ref_id, study_description, study_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (study_instance_uid) DO UPDATE SET
			patient_ref_id = EXCLUDED.patient_ref_id,
			study_description = EXCLUDED.study_description,
			study_date = EXCLUDED.study_date,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	s.Touch(t.now)
	err := t.tx.QueryRowxContext(ctx, query,
		s.ID,
		s.StudyInstanceUID,
		s.PatientRefID,
		s.Description,
		s.Date,
		s.CreatedAt,
		s.UpdatedAt,
	).Scan(&s.ID, &s.CreatedAt)
	return mapError("study", err)
}

func (t *clinicalTx) FindSeriesByUID(ctx context.Context, seriesUID string) (*model.Series, error) {
	query := `
		SELECT id, series_instance_uid, study_ref_id, frame_of_reference_uid, series_description, series_date,
			created_at, updated_at
		FROM series WHERE series_instance_uid = $1
	`
	var s model.Series
	if err := t.tx.GetContext(ctx, &s, query, seriesUID); err != nil {
		return nil, mapError("series", err)
	}
	return &s, nil
}

func (t *clinicalTx) SaveSeries(ctx context.Context, s *model.Series) error {
	query := `
		INSERT INTO series (id, series_instance_uid, study_ref_id, frame_of_reference_uid, series_description,
			series_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (series_instance_uid) DO UPDATE SET
			study_ref_id = EXCLUDED.study_ref_id,
			frame_of_reference_uid = EXCLUDED.frame_of_reference_uid,
			series_description = EXCLUDED.series_description,
			series_date = EXCLUDED.series_date,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	s.Touch(t.now)
	err := t.tx.QueryRowxContext(ctx, query,
		s.ID,
		s.SeriesInstanceUID,
		s.StudyRefID,
		s.FrameOfReferenceUID,
		s.Description,
		s.Date,
		s.CreatedAt,
		s.UpdatedAt,
	).Scan(&s.ID, &s.CreatedAt)
	return mapError("series", err)
}

func (t *clinicalTx) FindInstanceByUID(ctx context.Context, sopUID string) (*model.Instance, error) {
	query := `
		SELECT id, sop_instance_uid, series_ref_id, modality, pixel_spacing, created_at, updated_at
		FROM instances WHERE sop_instance_uid = $1
	`
	var i model.Instance
	if err := t.tx.GetContext(ctx, &i, query, sopUID); err != nil {
		return nil, mapError("instance", err)
	}
	return &i, nil
}

func (t *clinicalTx) SaveInstance(ctx context.Context, i *model.Instance) error {
	query := `
		INSERT INTO instances (id, sop_instance_uid, series_ref_id, modality, pixel_spacing, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (sop_instance_uid) DO UPDATE SET
			series_ref_id = EXCLUDED.series_ref_id,
			modality = EXCLUDED.modality,
			pixel_spacing = EXCLUDED.pixel_spacing,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	i.Touch(t.now)
	err := t.tx.QueryRowxContext(ctx, query,
		i.ID,
		i.SOPInstanceUID,
		i.SeriesRefID,
		i.Modality,
		i.PixelSpacing,
		i.CreatedAt,
		i.UpdatedAt,
	).Scan(&i.ID, &i.CreatedAt)
	return mapError("instance", err)
}

// SaveImageInformation overwrites every geometric field. Values absent from
// the newer file become NULL.
func (t *clinicalTx) SaveImageInformation(ctx context.Context, info *model.ImageInformation) error {
	query := `
		INSERT INTO image_information (id, instance_ref_id, slice_location, pixel_spacing, slice_thickness,
			patient_position, image_position_patient, image_orientation_patient, instance_number,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (instance_ref_id) DO UPDATE SET
			slice_location = EXCLUDED.slice_location,
			pixel_spacing = EXCLUDED.pixel_spacing,
			slice_thickness = EXCLUDED.slice_thickness,
			patient_position = EXCLUDED.patient_position,
			image_position_patient = EXCLUDED.image_position_patient,
			image_orientation_patient = EXCLUDED.image_orientation_patient,
			instance_number = EXCLUDED.instance_number,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	info.Touch(t.now)
	err := t.tx.QueryRowxContext(ctx, query,
		info.ID,
		info.InstanceRefID,
		info.SliceLocation,
		info.PixelSpacing,
		info.SliceThickness,
		info.PatientPosition,
		info.ImagePositionPatient,
		info.ImageOrientationPatient,
		info.InstanceNumber,
		info.CreatedAt,
		info.UpdatedAt,
	).Scan(&info.ID, &info.CreatedAt)
	return mapError("image information", err)
}

func (t *clinicalTx) FindStructureSetByInstance(ctx context.Context, instanceID uuid.UUID) (*model.StructureSet, error) {
	query := `
		SELECT id, instance_ref_id, number_of_roi, referenced_frame_of_reference_uid, prescription_template_id,
			created_at, updated_at
		FROM structure_sets WHERE instance_ref_id = $1
	`
	var ss model.StructureSet
	if err := t.tx.GetContext(ctx, &ss, query, instanceID); err != nil {
		return nil, mapError("structure set", err)
	}
	return &ss, nil
}

// SaveStructureSet clears any template assignment, so a re-ingested
// structure set is matched again.
func (t *clinicalTx) SaveStructureSet(ctx context.Context, ss *model.StructureSet) error {
	query := `
		INSERT INTO structure_sets (id, instance_ref_id, number_of_roi, referenced_frame_of_reference_uid,
			prescription_template_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (instance_ref_id) DO UPDATE SET
			number_of_roi = EXCLUDED.number_of_roi,
			referenced_frame_of_reference_uid = EXCLUDED.referenced_frame_of_reference_uid,
			prescription_template_id = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, prescription_template_id
	`
	ss.Touch(t.now)
	ss.PrescriptionTemplateID = nil
	err := t.tx.QueryRowxContext(ctx, query,
		ss.ID,
		ss.InstanceRefID,
		ss.NumberOfROI,
		ss.ReferencedFrameOfReferenceUID,
		ss.PrescriptionTemplateID,
		ss.CreatedAt,
		ss.UpdatedAt,
	).Scan(&ss.ID, &ss.CreatedAt, &ss.PrescriptionTemplateID)
	return mapError("structure set", err)
}

func (t *clinicalTx) SaveROI(ctx context.Context, roi *model.ROI) error {
	query := `
		INSERT INTO rois (id, structure_set_ref_id, roi_number, roi_name, roi_contour_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (structure_set_ref_id, roi_number) DO UPDATE SET
			roi_name = EXCLUDED.roi_name,
			roi_contour_data = EXCLUDED.roi_contour_data,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	roi.Touch(t.now)
	err := t.tx.QueryRowxContext(ctx, query,
		roi.ID,
		roi.StructureSetRefID,
		roi.ROINumber,
		roi.Name,
		roi.Contours,
		roi.CreatedAt,
		roi.UpdatedAt,
	).Scan(&roi.ID, &roi.CreatedAt)
	return mapError("roi", err)
}
