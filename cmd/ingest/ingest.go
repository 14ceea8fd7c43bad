package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/dicom-ingest/internal/app"
	"github.com/jwalitptl/dicom-ingest/internal/export"
	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/worker"
)

func clinicalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clinical <archive|dir|gs://...>...",
		Short: "Ingest clinical archives into the patient/study/series hierarchy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return runInline(cmd.Context(), a, model.JobKindClinical, args, func(res *worker.JobResult) error {
				return printJSON(res.Clinical)
			})
		},
	}
}

func trainingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "training <archive|dir|gs://...>...",
		Short: "Link and organize training archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exportDir, _ := cmd.Flags().GetString("export-dir")

			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return runInline(cmd.Context(), a, model.JobKindTraining, args, func(res *worker.JobResult) error {
				if exportDir != "" {
					if err := exportTraining(cmd.Context(), a, res.Training, exportDir); err != nil {
						return err
					}
				}
				return printJSON(res.Training)
			})
		},
	}
	cmd.Flags().String("export-dir", "", "write an Excel manifest per archive into this directory")
	return cmd
}

// runInline processes every archive in this process, one after another.
// A failed archive does not stop the ones after it.
func runInline(ctx context.Context, a *app.App, kind model.JobKind, refs []string, report func(*worker.JobResult) error) error {
	archives, err := expand(ctx, a, refs)
	if err != nil {
		return err
	}

	failed := 0
	for _, ref := range archives {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := runOne(ctx, a, kind, ref, report); err != nil {
			a.Log.Error(err, "archive failed", "source", ref)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d archives failed", failed, len(archives))
	}
	return nil
}

func runOne(ctx context.Context, a *app.App, kind model.JobKind, ref string, report func(*worker.JobResult) error) error {
	path, release, err := a.Sources.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	defer release()

	job := &model.ArchiveJob{SourcePath: ref, Kind: kind}
	if err := a.Jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	res, err := a.Orchestrator.RunJob(ctx, job, path, worker.LogSink{Log: a.Log})
	if err != nil {
		return err
	}
	return report(res)
}

func exportTraining(ctx context.Context, a *app.App, summary *worker.TrainingSummary, dir string) error {
	manifest, err := a.Training.GetManifest(ctx, summary.ArchiveID)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	data, err := export.Manifest(manifest, summary.Graph.Orphans)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	out := filepath.Join(dir, fmt.Sprintf("archive_%s.xlsx", summary.ArchiveID))
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	a.Log.Info("manifest exported", "path", out)
	return nil
}
