package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/dicom-ingest/internal/config"
	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/pkg/logger"
)

func TestNewInMemory(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{
			ProcessedRoot: t.TempDir(),
			OrganizedRoot: t.TempDir(),
			WorkDir:       t.TempDir(),
		},
	}
	a, err := New(cfg, logger.Nop(), Options{InMemory: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	require.NotNil(t, a.Orchestrator)
	require.NotNil(t, a.Matcher)

	n, err := a.Migrate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	ctx := context.Background()
	job := &model.ArchiveJob{SourcePath: "a.zip", Kind: model.JobKindClinical}
	require.NoError(t, a.Jobs.Create(ctx, job))
	stored, err := a.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRouterRejectsGCSUntilEnabled(t *testing.T) {
	a, err := New(&config.Config{}, logger.Nop(), Options{InMemory: true})
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Sources.List(context.Background(), "gs://scans/batch/")
	assert.ErrorContains(t, err, "no GCS client")
}
