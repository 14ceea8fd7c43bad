package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/repository"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestClinicalStoreFindPatientNotFound(t *testing.T) {
	db, mock := newMock(t)
	store := NewClinicalStore(NewBaseRepository(db, nil))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM patients WHERE patient_id = $1")).
		WithArgs("PAT-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		_, err := tx.FindPatientByUID(context.Background(), "PAT-1")
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClinicalStoreSavePatientAdoptsStoredIdentity(t *testing.T) {
	db, mock := newMock(t)
	store := NewClinicalStore(NewBaseRepository(db, nil))

	existing := uuid.New()
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	name := "DOE^JANE"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO patients")).
		WithArgs(sqlmock.AnyArg(), "PAT-1", &name, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(existing, created))
	mock.ExpectCommit()

	p := &model.Patient{PatientID: "PAT-1", Name: &name}
	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.SavePatient(context.Background(), p)
	})
	require.NoError(t, err)
	assert.Equal(t, existing, p.ID)
	assert.Equal(t, created, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClinicalStoreUniqueViolationIsPersistenceConflict(t *testing.T) {
	db, mock := newMock(t)
	store := NewClinicalStore(NewBaseRepository(db, nil))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO instances")).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.SaveInstance(context.Background(), &model.Instance{
			SOPInstanceUID: "1.2.3",
			SeriesRefID:    uuid.New(),
			Modality:       model.ModalityCT,
		})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistenceConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClinicalStoreSaveStructureSetClearsTemplate(t *testing.T) {
	db, mock := newMock(t)
	store := NewClinicalStore(NewBaseRepository(db, nil))

	ssID := uuid.New()
	stale := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("prescription_template_id = NULL")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 2, sqlmock.AnyArg(), nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "prescription_template_id"}).
			AddRow(ssID, time.Now(), nil))
	mock.ExpectCommit()

	ss := &model.StructureSet{InstanceRefID: uuid.New(), NumberOfROI: 2, PrescriptionTemplateID: &stale}
	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.SaveStructureSet(context.Background(), ss)
	})
	require.NoError(t, err)
	assert.Equal(t, ssID, ss.ID)
	assert.Nil(t, ss.PrescriptionTemplateID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClinicalStoreSaveROIWritesContoursAsJSON(t *testing.T) {
	db, mock := newMock(t)
	store := NewClinicalStore(NewBaseRepository(db, nil))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO rois")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 2, "CTV", []byte("[]"), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(uuid.New(), time.Now()))
	mock.ExpectCommit()

	err := store.WithTx(context.Background(), func(tx repository.Tx) error {
		return tx.SaveROI(context.Background(), &model.ROI{StructureSetRefID: uuid.New(), ROINumber: 2, Name: "CTV"})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
