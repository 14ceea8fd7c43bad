package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
)

func TestStructureSetSummaryIncludesROINames(t *testing.T) {
	db, mock := newMock(t)
	repo := NewStructureSetRepository(NewBaseRepository(db, nil))

	ssID := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM structure_sets ss")).
		WithArgs("1.2.3.9").
		WillReturnRows(sqlmock.NewRows([]string{
			"structure_set_id", "sop_instance_uid", "modality", "number_of_roi",
			"series_description", "study_description", "patient_id", "patient_sex", "prescription_template_id",
		}).AddRow(ssID, "1.2.3.9", "RTSTRUCT", 2, "Prostate", nil, "PAT-1", "male", nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT roi_name FROM rois")).
		WithArgs(ssID).
		WillReturnRows(sqlmock.NewRows([]string{"roi_name"}).AddRow("PTV_70").AddRow("Rectum"))

	s, err := repo.GetSummary(context.Background(), "1.2.3.9")
	require.NoError(t, err)
	assert.Equal(t, ssID, s.StructureSetID)
	assert.Equal(t, model.ModalityRTStruct, s.Modality)
	assert.Equal(t, []string{"PTV_70", "Rectum"}, s.ROINames)
	require.NotNil(t, s.SeriesDescription)
	assert.Equal(t, "Prostate", *s.SeriesDescription)
	assert.Nil(t, s.StudyDescription)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssignTemplateMissingRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewStructureSetRepository(NewBaseRepository(db, nil))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE structure_sets SET prescription_template_id")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AssignTemplate(context.Background(), uuid.New(), uuid.New())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTemplatesAssemblesHierarchy(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRuleRepository(NewBaseRepository(db, nil))

	groupID, rulesetID, templateID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM prescription_templates")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "cancer_site", "cancer_side", "treatment_modality", "rulegroup_id", "created_at", "updated_at",
		}).AddRow(templateID, "Prostate 70/28", "prostate", "none", "VMAT", groupID, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM rule_groups")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "rulegroup_name", "rulegroup_description", "created_at", "updated_at",
		}).AddRow(groupID, "prostate", nil, now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM rulesets")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "rulegroup_id", "ruleset_name", "ruleset_order", "ruleset_combination", "created_at", "updated_at",
		}).AddRow(rulesetID, groupID, "main", 1, "AND", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM rules")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "ruleset_id", "rule_order", "parameter_to_be_matched", "matching_operator", "matching_value",
			"rule_combination", "created_at", "updated_at",
		}).
			AddRow(uuid.New(), rulesetID, 1, "modality", "equals", "RTSTRUCT", "AND", now, now).
			AddRow(uuid.New(), rulesetID, 2, "roi_name", "string_contains_case_insensitive", "PTV", "AND", now, now))
	mock.ExpectQuery(regexp.QuoteMeta("FROM prescriptions")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "prescription_template_id", "roi_name", "dose_prescribed", "dose_unit", "fractions_prescribed",
			"created_at", "updated_at",
		}).AddRow(uuid.New(), templateID, "PTV_70", 70.0, "Gy", 28, now, now))

	templates, err := repo.ListTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 1)

	tpl := templates[0]
	require.NotNil(t, tpl.RuleGroup)
	require.Len(t, tpl.RuleGroup.Rulesets, 1)
	rules := tpl.RuleGroup.Rulesets[0].Rules
	require.Len(t, rules, 2)
	assert.Equal(t, model.OpContainsCaseInsensitive, rules[1].Operator)
	require.Len(t, tpl.Prescriptions, 1)
	assert.Equal(t, model.DoseUnitGy, tpl.Prescriptions[0].DoseUnit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTemplatesRejectsUnknownOperator(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRuleRepository(NewBaseRepository(db, nil))
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM prescription_templates")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "rulegroup_id", "created_at", "updated_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM rule_groups")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "rulegroup_name", "created_at", "updated_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM rulesets")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "rulegroup_id", "ruleset_order", "ruleset_combination", "created_at", "updated_at"}))
	mock.ExpectQuery(regexp.QuoteMeta("FROM rules")).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "ruleset_id", "rule_order", "parameter_to_be_matched", "matching_operator", "matching_value",
			"rule_combination", "created_at", "updated_at",
		}).AddRow(uuid.New(), uuid.New(), 1, "modality", "roughly", "CT", "AND", now, now))

	_, err := repo.ListTemplates(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown matching operator")
}

func TestJobUpdateStatusStampsCompletion(t *testing.T) {
	db, mock := newMock(t)
	repo := NewJobRepository(NewBaseRepository(db, nil))
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE archive_jobs SET")).
		WithArgs(model.StatusCompleted, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), id, model.StatusCompleted, model.JSONMap{"successful": 3})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrainingMarkExtractedUnknownArchive(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTrainingRepository(NewBaseRepository(db, nil))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE training_archives")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkExtracted(context.Background(), uuid.New(), time.Now())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestLoadMigrationsInVersionOrder(t *testing.T) {
	migrations, err := LoadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.SQL)
	}
	assert.Contains(t, migrations[2].SQL, "UNIQUE (rtdose_series_uid, rtplan_series_uid)")
}
