package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/dicom-ingest/internal/model"
	"github.com/jwalitptl/dicom-ingest/internal/source"
	"github.com/jwalitptl/dicom-ingest/pkg/messaging"
)

func enqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <archive|dir|gs://...>...",
		Short: "Create a job per archive and queue it for the workers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawKind, _ := cmd.Flags().GetString("kind")
			kind, err := model.ParseJobKind(rawKind)
			if err != nil {
				return err
			}

			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			broker, err := a.Broker()
			if err != nil {
				return err
			}
			archives, err := expand(ctx, a, args)
			if err != nil {
				return err
			}

			for _, ref := range archives {
				// Workers may run elsewhere; local paths are recorded absolute.
				if !source.IsGCS(ref) {
					if ref, err = filepath.Abs(ref); err != nil {
						return err
					}
				}
				job := &model.ArchiveJob{SourcePath: ref, Kind: kind}
				if err := a.Jobs.Create(ctx, job); err != nil {
					return fmt.Errorf("failed to create job for %s: %w", ref, err)
				}
				msg := messaging.JobMessage{JobID: job.ID, Kind: string(kind), Source: ref}
				if err := broker.Enqueue(ctx, msg); err != nil {
					return fmt.Errorf("failed to enqueue %s: %w", ref, err)
				}
				fmt.Printf("%s\t%s\n", job.ID, ref)
			}
			a.Log.Info("archives enqueued", "count", len(archives), "kind", string(kind))
			return nil
		},
	}
	cmd.Flags().String("kind", string(model.JobKindClinical), "job kind: clinical or training")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job and its latest progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			follow, _ := cmd.Flags().GetBool("follow")
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id: %w", err)
			}

			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			job, err := a.Jobs.Get(ctx, id)
			if err != nil {
				return err
			}
			if err := printJSON(job); err != nil {
				return err
			}

			broker, err := a.Broker()
			if err != nil {
				return err
			}
			channel := messaging.ProgressChannel(a.Config.Redis.ProgressPrefix, id.String())

			var updates <-chan []byte
			if follow && !finished(job.Status) {
				// Subscribe before reading the latest value so no update
				// falls between the two.
				if updates, err = broker.Subscribe(ctx, channel); err != nil {
					return err
				}
			}

			latest, err := broker.Latest(ctx, channel)
			if err != nil {
				return err
			}
			if latest != nil {
				p, err := printProgress(latest)
				if err != nil {
					return err
				}
				if p.Current >= p.Total {
					return nil
				}
			}
			if updates == nil {
				return nil
			}

			for raw := range updates {
				p, err := printProgress(raw)
				if err != nil {
					return err
				}
				if p.Current >= p.Total {
					return nil
				}
			}
			return ctx.Err()
		},
	}
	cmd.Flags().Bool("follow", false, "stream progress until the job finishes")
	return cmd
}

func finished(s model.ProcessingStatus) bool {
	return s == model.StatusCompleted || s == model.StatusFailed
}

func printProgress(raw []byte) (*messaging.Progress, error) {
	var p messaging.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("malformed progress message: %w", err)
	}
	fmt.Printf("[%3d/%d] %s\n", p.Current, p.Total, p.Description)
	return &p, nil
}
