package linkage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/jwalitptl/dicom-ingest/internal/dicomtag/dicomtest"
	"github.com/jwalitptl/dicom-ingest/internal/linkage"
	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/repository/memory"
	"github.com/jwalitptl/dicom-ingest/pkg/errors"
)

type fixture struct {
	image, structure, plan, dose string
}

func writeFixture(t *testing.T, dir, planRef string) fixture {
	t.Helper()
	return fixture{
		image: dicomtest.NewRecord("1.2.3.4.1").
			Class(dicomtest.CTImageStorage).
			Hierarchy("PAT001", "1.2.3", "1.2.3.4", "CT").
			Set(tag.SeriesDescription, "Planning CT").
			Set(tag.SeriesDate, "20240105").
			Write(t, dir, "image.dcm"),
		structure: dicomtest.NewRecord("1.9.1").
			Class(dicomtest.RTStructStorage).
			Hierarchy("PAT001", "1.2.3", "1.9", "RTSTRUCT").
			StructureSet("1.2.3.4", []dicomtest.ROI{{Number: 1, Name: "PTV"}, {Number: 2, Name: "Rectum"}}, nil).
			Write(t, dir, "struct.dcm"),
		plan: dicomtest.NewRecord("1.8.1").
			Class(dicomtest.RTPlanStorage).
			Hierarchy("PAT001", "1.2.3", "1.8", "RTPLAN").
			ReferencesStructureSet(planRef).
			Write(t, dir, "plan.dcm"),
		dose: dicomtest.NewRecord("1.7.1").
			Class(dicomtest.RTDoseStorage).
			Hierarchy("PAT001", "1.2.3", "1.7", "RTDOSE").
			ReferencesPlan("1.8.1").
			Write(t, dir, "dose.dcm"),
	}
}

func resolve(t *testing.T, files ...string) (*linkage.Collection, *linkage.Graph) {
	t.Helper()
	c, err := linkage.NewResolver(nil).Scan(context.Background(), files)
	require.NoError(t, err)
	return c, linkage.Resolve(c)
}

func TestResolveIsOrderIndependent(t *testing.T) {
	f := writeFixture(t, t.TempDir(), "1.9.1")

	orderings := [][]string{
		{f.image, f.structure, f.plan, f.dose},
		{f.dose, f.plan, f.structure, f.image},
		{f.plan, f.dose, f.image, f.structure},
		{f.structure, f.image, f.dose, f.plan},
	}

	_, want := resolve(t, orderings[0]...)
	require.Len(t, want.Series, 1)
	require.Len(t, want.Series[0].StructureSets, 1)
	require.Len(t, want.Series[0].StructureSets[0].Plans, 1)
	require.Len(t, want.Series[0].StructureSets[0].Plans[0].Doses, 1)
	assert.Empty(t, want.Orphans)
	assert.Equal(t, []string{"PTV", "Rectum"}, want.Series[0].StructureSets[0].ROINames)

	for _, files := range orderings[1:] {
		_, got := resolve(t, files...)
		assert.Equal(t, want, got)
	}
}

func TestResolveOrphanPlan(t *testing.T) {
	f := writeFixture(t, t.TempDir(), "9.9.9")

	_, g := resolve(t, f.image, f.structure, f.plan, f.dose)

	require.Len(t, g.Series, 1)
	require.Len(t, g.Series[0].StructureSets, 1)
	assert.Empty(t, g.Series[0].StructureSets[0].Plans)
	assert.Empty(t, g.Pairs())

	require.Len(t, g.Orphans, 2)
	assert.Equal(t, linkage.KindDose, g.Orphans[0].Kind)
	assert.Equal(t, linkage.KindPlan, g.Orphans[1].Kind)
	assert.Equal(t, "1.8.1", g.Orphans[1].SOPInstanceUID)
	assert.True(t, errors.Is(g.Orphans[1].Reason, errors.ErrUnresolvedReference))
}

func TestResolveStructureSetWithoutSeries(t *testing.T) {
	dir := t.TempDir()
	rs := dicomtest.NewRecord("1.9.1").
		Hierarchy("PAT001", "1.2.3", "1.9", "RTSTRUCT").
		StructureSet("", nil, nil).
		Write(t, dir, "struct.dcm")

	_, g := resolve(t, rs)
	assert.Empty(t, g.Series)
	require.Len(t, g.Orphans, 1)
	assert.Equal(t, linkage.KindStructureSet, g.Orphans[0].Kind)
}

func TestScanIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	f := writeFixture(t, dir, "1.9.1")
	reg := dicomtest.NewRecord("1.6.1").Hierarchy("PAT001", "1.2.3", "1.6", "REG").Write(t, dir, "reg.dcm")
	noModality := dicomtest.NewRecord("1.5.1").Hierarchy("PAT001", "1.2.3", "1.5", "").Write(t, dir, "nomod.dcm")
	junk := filepath.Join(dir, "README")
	require.NoError(t, os.WriteFile(junk, []byte("not dicom"), 0o644))

	c, g := resolve(t, junk, f.image, reg, f.structure, noModality, f.plan, f.dose)

	assert.Equal(t, 7, c.Total)
	assert.Equal(t, 3, c.Ignored)
	assert.Len(t, g.Pairs(), 1)
	assert.Empty(t, g.Orphans)
}

func TestScanHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := linkage.NewResolver(nil).Scan(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrganizeAndPersist(t *testing.T) {
	dir := t.TempDir()
	f := writeFixture(t, dir, "1.9.1")
	_, g := resolve(t, f.image, f.structure, f.plan, f.dose)

	store := memory.New()
	training := store.Training()
	archive := &model.TrainingArchive{SourcePath: "corpus.zip"}
	require.NoError(t, training.CreateArchive(context.Background(), archive))

	root := filepath.Join(dir, "organized")
	layout, err := linkage.NewOrganizer(root, nil).Organize(context.Background(), archive.ID, g)
	require.NoError(t, err)

	base := filepath.Join(root, "archive_"+archive.ID.String())
	structDir := filepath.Join(base, "1.2.3.4", "RTStruct_1.9.1")
	for _, p := range []string{
		filepath.Join(base, "1.2.3.4", "1.2.3.4.1.dcm"),
		filepath.Join(structDir, "1.9.1.dcm"),
		filepath.Join(structDir, "Plan_1.8.1", "RTPLAN_1.8.1.dcm"),
		filepath.Join(structDir, "Plan_1.8.1", "RTDOSE_1.7.1.dcm"),
	} {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	res, err := linkage.Persist(context.Background(), training, archive.ID, g, layout, nil)
	require.NoError(t, err)
	assert.Equal(t, &linkage.PersistResult{Series: 1, StructureSets: 1, Pairs: 1}, res)

	m, err := training.GetManifest(context.Background(), archive.ID)
	require.NoError(t, err)
	require.Len(t, m.Series, 1)
	series := m.Series[0]
	assert.Equal(t, 1, series.NumberOfImages)
	require.NotNil(t, series.ImageType)
	assert.Equal(t, model.ImageTypeCT, *series.ImageType)
	require.NotNil(t, series.AcquisitionDate)
	assert.Equal(t, 2024, series.AcquisitionDate.Year())
	assert.Equal(t, []string{filepath.Join(base, "1.2.3.4", "1.2.3.4.1.dcm")}, []string(series.ImagePaths))

	require.Len(t, m.Pairs, 1)
	assert.Equal(t, "1.8", m.Pairs[0].PlanSeriesUID)
	assert.Equal(t, "1.7", m.Pairs[0].DoseSeriesUID)
	assert.Equal(t, filepath.Join(structDir, "Plan_1.8.1", "RTDOSE_1.7.1.dcm"), m.Pairs[0].DosePath)
}

func TestPersistRollsBackOnFailure(t *testing.T) {
	dir := t.TempDir()
	f := writeFixture(t, dir, "1.9.1")
	_, g := resolve(t, f.image, f.structure, f.plan, f.dose)

	store := memory.New()
	store.FailOn = func(entity string) error {
		if entity == "plan dose pair" {
			return errors.PersistenceConflict(entity, nil)
		}
		return nil
	}
	training := store.Training()
	archive := &model.TrainingArchive{SourcePath: "corpus.zip"}
	require.NoError(t, training.CreateArchive(context.Background(), archive))

	_, err := linkage.Persist(context.Background(), training, archive.ID, g, nil, nil)
	require.Error(t, err)

	m, err := training.GetManifest(context.Background(), archive.ID)
	require.NoError(t, err)
	assert.Empty(t, m.Series)
	assert.Empty(t, m.StructureSets)
}

func TestPersistUnknownArchiveIsHarmless(t *testing.T) {
	_, err := memory.New().Training().GetManifest(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
