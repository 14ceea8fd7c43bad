package model

import (
	"time"

	"github.com/google/uuid"
)

// Patient is keyed by the DICOM PatientID.
type Patient struct {
	Base
	PatientID string     `db:"patient_id" json:"patient_id"`
	Name      *string    `db:"patient_name" json:"patient_name,omitempty"`
	BirthDate *time.Time `db:"patient_dob" json:"patient_dob,omitempty"`
	Sex       *Sex       `db:"patient_sex" json:"patient_sex,omitempty"`
}

type Study struct {
	Base
	StudyInstanceUID string     `db:"study_instance_uid" json:"study_instance_uid"`
	PatientRefID     uuid.UUID  `db:"patient_ref_id" json:"patient_ref_id"`
	Description      *string    `db:"study_description" json:"study_description,omitempty"`
	Date             *time.Time `db:"study_date" json:"study_date,omitempty"`
}

type Series struct {
	Base
	SeriesInstanceUID   string     `db:"series_instance_uid" json:"series_instance_uid"`
	StudyRefID          uuid.UUID  `db:"study_ref_id" json:"study_ref_id"`
	FrameOfReferenceUID *string    `db:"frame_of_reference_uid" json:"frame_of_reference_uid,omitempty"`
	Description         *string    `db:"series_description" json:"series_description,omitempty"`
	Date                *time.Time `db:"series_date" json:"series_date,omitempty"`
}

type Instance struct {
	Base
	SOPInstanceUID string    `db:"sop_instance_uid" json:"sop_instance_uid"`
	SeriesRefID    uuid.UUID `db:"series_ref_id" json:"series_ref_id"`
	Modality       Modality  `db:"modality" json:"modality"`
	PixelSpacing   *string   `db:"pixel_spacing" json:"pixel_spacing,omitempty"`
}

// ImageInformation holds the geometry of a CT/MR/PT slice. Every field is
// optional because source files omit them freely.
type ImageInformation struct {
	Base
	InstanceRefID           uuid.UUID `db:"instance_ref_id" json:"instance_ref_id"`
	SliceLocation           *float64  `db:"slice_location" json:"slice_location,omitempty"`
	PixelSpacing            FloatList `db:"pixel_spacing" json:"pixel_spacing,omitempty"`
	SliceThickness          *float64  `db:"slice_thickness" json:"slice_thickness,omitempty"`
	PatientPosition         *string   `db:"patient_position" json:"patient_position,omitempty"`
	ImagePositionPatient    FloatList `db:"image_position_patient" json:"image_position_patient,omitempty"`
	ImageOrientationPatient FloatList `db:"image_orientation_patient" json:"image_orientation_patient,omitempty"`
	InstanceNumber          *int      `db:"instance_number" json:"instance_number,omitempty"`
}

// StructureSet is the RTSTRUCT payload of an instance. PrescriptionTemplateID
// is filled by template matching, never during ingestion.
type StructureSet struct {
	Base
	InstanceRefID                 uuid.UUID  `db:"instance_ref_id" json:"instance_ref_id"`
	NumberOfROI                   int        `db:"number_of_roi" json:"number_of_roi"`
	ReferencedFrameOfReferenceUID string     `db:"referenced_frame_of_reference_uid" json:"referenced_frame_of_reference_uid"`
	PrescriptionTemplateID        *uuid.UUID `db:"prescription_template_id" json:"prescription_template_id,omitempty"`
}

// ROI is unique per (structure set, roi number).
type ROI struct {
	Base
	StructureSetRefID uuid.UUID `db:"structure_set_ref_id" json:"structure_set_ref_id"`
	ROINumber         int       `db:"roi_number" json:"roi_number"`
	Name              string    `db:"roi_name" json:"roi_name"`
	Contours          Contours  `db:"roi_contour_data" json:"roi_contour_data"`
}
