package model

import (
	"github.com/google/uuid"
)

// StructureSetSummary is the flattened view of a stored structure set that
// template matching evaluates rules against.
type StructureSetSummary struct {
	StructureSetID         uuid.UUID  `db:"structure_set_id" json:"structure_set_id"`
	SOPInstanceUID         string     `db:"sop_instance_uid" json:"sop_instance_uid"`
	Modality               Modality   `db:"modality" json:"modality"`
	NumberOfROI            int        `db:"number_of_roi" json:"number_of_roi"`
	SeriesDescription      *string    `db:"series_description" json:"series_description,omitempty"`
	StudyDescription       *string    `db:"study_description" json:"study_description,omitempty"`
	PatientID              string     `db:"patient_id" json:"patient_id"`
	PatientSex             *Sex       `db:"patient_sex" json:"patient_sex,omitempty"`
	PrescriptionTemplateID *uuid.UUID `db:"prescription_template_id" json:"prescription_template_id,omitempty"`
	ROINames               []string   `db:"-" json:"roi_names"`
}

// TrainingManifest is the persisted linkage graph of one training archive.
type TrainingManifest struct {
	Archive       *TrainingArchive        `json:"archive"`
	Series        []*TrainingImageSeries  `json:"series"`
	StructureSets []*TrainingStructureSet `json:"structure_sets"`
	Pairs         []*PlanDosePair         `json:"plan_dose_pairs"`
}
