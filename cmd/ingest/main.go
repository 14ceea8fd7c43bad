package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jwalitptl/dicom-ingest/internal/app"
	"github.com/jwalitptl/dicom-ingest/internal/config"
	"github.com/jwalitptl/dicom-ingest/internal/source"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "ingest",
		Short:        "Ingest RT DICOM archives",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level")
	rootCmd.PersistentFlags().Bool("dry-run", false, "use the in-memory store instead of PostgreSQL")

	rootCmd.AddCommand(clinicalCmd())
	rootCmd.AddCommand(trainingCmd())
	rootCmd.AddCommand(matchCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads the config named by the persistent flags and builds the
// application around it.
func bootstrap(cmd *cobra.Command) (*app.App, error) {
	path, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if level != "" {
		cfg.Log.Level = level
	}
	return app.New(cfg, nil, app.Options{InMemory: dryRun})
}

// expand lists every archive the references name, enabling GCS when one
// of them is a gs:// URI.
func expand(ctx context.Context, a *app.App, refs []string) ([]string, error) {
	var out []string
	for _, ref := range refs {
		if source.IsGCS(ref) {
			if err := a.EnableGCS(ctx); err != nil {
				return nil, err
			}
		}
		listed, err := a.Sources.List(ctx, ref)
		if err != nil {
			return nil, err
		}
		if len(listed) == 0 {
			a.Log.Warn("no archives found", "source", ref)
		}
		out = append(out, listed...)
	}
	return out, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
