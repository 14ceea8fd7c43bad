package matching

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dicom-ingest/internal/dicomtag"
	"github.com/jwalitptl/dicom-ingest/internal/dicomtag/dicomtest"
	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/reconcile"
	"github.com/jwalitptl/dicom-ingest/internal/repository/memory"
	"github.com/jwalitptl/dicom-ingest/pkg/metrics"
)

func template(name, groupName, roiContains string) *model.PrescriptionTemplate {
	return &model.PrescriptionTemplate{
		Name: name,
		RuleGroup: &model.RuleGroup{Name: groupName, Rulesets: []*model.Ruleset{{
			Name: "rois",
			Rules: []*model.Rule{
				{Order: 0, Parameter: "modality", Operator: model.OpEquals, Value: "RTSTRUCT", Combination: model.CombineAnd},
				{Order: 1, Parameter: "roi_name", Operator: model.OpContainsCaseInsensitive, Value: roiContains},
			},
		}}},
	}
}

func ingestStructureSet(t *testing.T, store *memory.Store, sop string, rois ...string) {
	t.Helper()
	var list []dicomtest.ROI
	for i, name := range rois {
		list = append(list, dicomtest.ROI{Number: i + 1, Name: name})
	}
	path := dicomtest.NewRecord(sop).
		Class(dicomtest.RTStructStorage).
		Hierarchy("PAT001", "1.2.3", "1.9", "RTSTRUCT").
		StructureSet("1.2.3.4", list, nil).
		Write(t, t.TempDir(), "rs.dcm")
	r, err := dicomtag.Open(path)
	require.NoError(t, err)
	_, err = reconcile.NewReconciler(store, nil, nil).Reconcile(context.Background(), r)
	require.NoError(t, err)
}

func TestMatchAssignsFirstTemplateByName(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveTemplate(ctx, template("Prostate B", "prostate-b", "ptv")))
	require.NoError(t, store.SaveTemplate(ctx, template("Prostate A", "prostate-a", "ptv")))
	require.NoError(t, store.SaveTemplate(ctx, template("Breast", "breast", "breast")))
	ingestStructureSet(t, store, "1.9.1", "Heart", "PTV_70")

	m := metrics.New("test", nil)
	svc := NewService(store, store, time.Minute, m, nil)

	res, err := svc.Match(ctx, "1.9.1")
	require.NoError(t, err)
	require.NotNil(t, res.Template)
	assert.Equal(t, "Prostate A", res.Template.Name)
	require.NotNil(t, res.Trace)
	assert.True(t, res.Trace.Matched)

	summary, err := store.GetSummary(ctx, "1.9.1")
	require.NoError(t, err)
	require.NotNil(t, summary.PrescriptionTemplateID)
	assert.Equal(t, res.Template.ID, *summary.PrescriptionTemplateID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TemplateAssignment.WithLabelValues("matched")))
}

func TestMatchWithoutCandidateLeavesStructureSetAlone(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveTemplate(ctx, template("Breast", "breast", "breast")))
	ingestStructureSet(t, store, "1.9.1", "Heart", "PTV_70")

	svc := NewService(store, store, time.Minute, nil, nil)
	res, err := svc.Match(ctx, "1.9.1")
	require.NoError(t, err)
	assert.Nil(t, res.Template)

	pending, err := store.ListUnassigned(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.9.1"}, pending)
}

func TestMatchUsesCachedCatalogueUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	ingestStructureSet(t, store, "1.9.1", "PTV")

	svc := NewService(store, store, time.Hour, nil, nil)
	res, err := svc.Match(ctx, "1.9.1")
	require.NoError(t, err)
	assert.Nil(t, res.Template)

	require.NoError(t, store.SaveTemplate(ctx, template("Prostate", "prostate", "ptv")))
	res, err = svc.Match(ctx, "1.9.1")
	require.NoError(t, err)
	assert.Nil(t, res.Template)

	svc.Invalidate()
	res, err = svc.Match(ctx, "1.9.1")
	require.NoError(t, err)
	require.NotNil(t, res.Template)
}

func TestMatchPending(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveTemplate(ctx, template("Prostate", "prostate", "ptv")))
	ingestStructureSet(t, store, "1.9.1", "PTV")

	results, err := NewService(store, store, 0, nil, nil).MatchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Prostate", results[0].Template.Name)

	pending, err := store.ListUnassigned(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRecordFor(t *testing.T) {
	desc := "Pelvis"
	sex := model.SexMale
	rec := RecordFor(&model.StructureSetSummary{
		Modality:          model.ModalityRTStruct,
		NumberOfROI:       2,
		PatientID:         "PAT001",
		SeriesDescription: &desc,
		PatientSex:        &sex,
		ROINames:          []string{"PTV", "Rectum"},
	})

	assert.Equal(t, []string{"RTSTRUCT"}, rec["modality"])
	assert.Equal(t, []string{"2"}, rec["number_of_roi"])
	assert.Equal(t, []string{"PTV", "Rectum"}, rec["roi_name"])
	assert.Equal(t, []string{"male"}, rec["patient_sex"])
	_, ok := rec["study_description"]
	assert.False(t, ok)
}

func TestReingestedStructureSetIsMatchedAgain(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveTemplate(ctx, template("Breast", "breast", "breast")))
	require.NoError(t, store.SaveTemplate(ctx, template("Prostate", "prostate", "ptv")))
	ingestStructureSet(t, store, "1.9.1", "PTV_70")

	svc := NewService(store, store, time.Minute, nil, nil)
	res, err := svc.Match(ctx, "1.9.1")
	require.NoError(t, err)
	require.NotNil(t, res.Template)
	assert.Equal(t, "Prostate", res.Template.Name)

	ingestStructureSet(t, store, "1.9.1", "Breast_L")
	results, err := svc.MatchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Template)
	assert.Equal(t, "Breast", results[0].Template.Name)
}
