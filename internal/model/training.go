package model

import (
	"time"

	"github.com/google/uuid"
)

// TrainingArchive is one uploaded training-corpus archive.
type TrainingArchive struct {
	Base
	SourcePath  string     `db:"source_path" json:"source_path"`
	Extracted   bool       `db:"archive_extracted" json:"archive_extracted"`
	ExtractedAt *time.Time `db:"date_archive_extracted" json:"date_archive_extracted,omitempty"`
}

type ImageType string

const (
	ImageTypeCT ImageType = "ct"
	ImageTypeMR ImageType = "mr"
	ImageTypePT ImageType = "pt"
)

// ImageTypeFor maps an image modality onto the training image type.
func ImageTypeFor(m Modality) *ImageType {
	var t ImageType
	switch m {
	case ModalityCT:
		t = ImageTypeCT
	case ModalityMR:
		t = ImageTypeMR
	case ModalityPT, ModalityPET:
		t = ImageTypePT
	default:
		return nil
	}
	return &t
}

// TrainingImageSeries is one image series of a training archive.
type TrainingImageSeries struct {
	Base
	ArchiveID         uuid.UUID  `db:"training_archive_id" json:"training_archive_id"`
	SeriesInstanceUID string     `db:"dicom_series_uid" json:"dicom_series_uid"`
	NumberOfImages    int        `db:"number_of_images" json:"number_of_images"`
	PatientID         *string    `db:"patient_id" json:"patient_id,omitempty"`
	Description       *string    `db:"series_description" json:"series_description,omitempty"`
	AcquisitionDate   *time.Time `db:"series_acquisition_date" json:"series_acquisition_date,omitempty"`
	ImageType         *ImageType `db:"image_type" json:"image_type,omitempty"`
	ImagePaths        StringList `db:"image_paths" json:"image_paths"`
}

// TrainingStructureSet links an RTSTRUCT file to the image series it contours.
type TrainingStructureSet struct {
	Base
	ImageSeriesID       uuid.UUID `db:"training_image_id" json:"training_image_id"`
	SeriesInstanceUID   string    `db:"structureset_series_uid" json:"structureset_series_uid"`
	SOPInstanceUID      string    `db:"structureset_sop_uid" json:"structureset_sop_uid"`
	ReferencedSeriesUID string    `db:"referenced_series_uid" json:"referenced_series_uid"`
	Path                string    `db:"structureset_path" json:"structureset_path"`
	ROINames            []string  `db:"-" json:"roi_names,omitempty"`
}

// PlanDosePair is identified by (DoseSeriesUID, PlanSeriesUID).
type PlanDosePair struct {
	Base
	StructureSetID uuid.UUID `db:"training_structure_set_id" json:"training_structure_set_id"`
	PlanSeriesUID  string    `db:"rtplan_series_uid" json:"rtplan_series_uid"`
	PlanSOPUID     string    `db:"rtplan_sop_uid" json:"rtplan_sop_uid"`
	PlanPath       string    `db:"rtplan_path" json:"rtplan_path"`
	DoseSeriesUID  string    `db:"rtdose_series_uid" json:"rtdose_series_uid"`
	DoseSOPUID     string    `db:"rtdose_sop_uid" json:"rtdose_sop_uid"`
	DosePath       string    `db:"rtdose_path" json:"rtdose_path"`
}
