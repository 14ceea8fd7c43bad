package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/dicom-ingest/internal/model"
)

// All repository interfaces in one file. Find* methods return an
// errors.ErrNotFound AppError when no row matches.
type (
	// Store scopes clinical writes to one transaction per unit of work,
	// which is one file during ingestion.
	Store interface {
		WithTx(ctx context.Context, fn func(Tx) error) error
	}

	// Tx is the clinical entity graph as seen from inside a transaction.
	// Save* methods insert or update by natural key and refresh the ID
	// and CreatedAt of the argument from the stored row.
	Tx interface {
		FindPatientByUID(ctx context.Context, patientID string) (*model.Patient, error)
		SavePatient(ctx context.Context, p *model.Patient) error

		FindStudyByUID(ctx context.Context, studyUID string) (*model.Study, error)
		SaveStudy(ctx context.Context, s *model.Study) error

		FindSeriesByUID(ctx context.Context, seriesUID string) (*model.Series, error)
		SaveSeries(ctx context.Context, s *model.Series) error

		FindInstanceByUID(ctx context.Context, sopUID string) (*model.Instance, error)
		SaveInstance(ctx context.Context, i *model.Instance) error

		SaveImageInformation(ctx context.Context, info *model.ImageInformation) error

		FindStructureSetByInstance(ctx context.Context, instanceID uuid.UUID) (*model.StructureSet, error)
		SaveStructureSet(ctx context.Context, ss *model.StructureSet) error
		SaveROI(ctx context.Context, roi *model.ROI) error
	}

	StructureSetRepository interface {
		GetSummary(ctx context.Context, sopInstanceUID string) (*model.StructureSetSummary, error)
		ListUnassigned(ctx context.Context, limit int) ([]string, error)
		AssignTemplate(ctx context.Context, structureSetID, templateID uuid.UUID) error
	}

	// RuleRepository loads prescription templates with their full rule
	// hierarchy and prescriptions.
	RuleRepository interface {
		ListTemplates(ctx context.Context) ([]*model.PrescriptionTemplate, error)
		SaveTemplate(ctx context.Context, t *model.PrescriptionTemplate) error
	}

	TrainingRepository interface {
		CreateArchive(ctx context.Context, a *model.TrainingArchive) error
		MarkExtracted(ctx context.Context, archiveID uuid.UUID, at time.Time) error
		WithTx(ctx context.Context, fn func(TrainingTx) error) error
		GetManifest(ctx context.Context, archiveID uuid.UUID) (*model.TrainingManifest, error)
	}

	TrainingTx interface {
		SaveImageSeries(ctx context.Context, s *model.TrainingImageSeries) error
		SaveStructureSet(ctx context.Context, ss *model.TrainingStructureSet) error
		SavePlanDosePair(ctx context.Context, p *model.PlanDosePair) error
	}

	JobRepository interface {
		Create(ctx context.Context, job *model.ArchiveJob) error
		Get(ctx context.Context, id uuid.UUID) (*model.ArchiveJob, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.ProcessingStatus, logData model.JSONMap) error
	}
)
