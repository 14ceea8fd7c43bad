package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jwalitptl/dicom-ingest/internal/app"
	"github.com/jwalitptl/dicom-ingest/internal/export"
	"github.com/jwalitptl/dicom-ingest/internal/rules"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match [structure-set-sop-uid]",
		Short: "Assign prescription templates to structure sets",
		Long: "Without an argument every structure set that has no template yet is matched.\n" +
			"With --rules the templates are imported first, which is how matching runs with --dry-run.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			rulesFile, _ := cmd.Flags().GetString("rules")

			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if rulesFile != "" {
				if _, err := importTemplates(ctx, a, rulesFile); err != nil {
					return err
				}
			}

			if len(args) == 1 {
				res, err := a.Matcher.Match(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(res)
			}

			results, err := a.Matcher.MatchPending(ctx, limit)
			if err != nil {
				return err
			}
			matched := 0
			for _, r := range results {
				if r.Template != nil {
					matched++
				}
			}
			fmt.Printf("Matched %d of %d structure sets\n", matched, len(results))
			return printJSON(results)
		},
	}
	cmd.Flags().Int("limit", 100, "maximum structure sets to match")
	cmd.Flags().String("rules", "", "import templates from this JSON file before matching")
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage prescription templates and their rule groups",
	}

	importCmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Validate and store templates from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := importTemplates(cmd.Context(), a, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d templates\n", n)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the stored templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			templates, err := a.Rules.ListTemplates(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(templates)
		},
	}

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}

func importTemplates(ctx context.Context, a *app.App, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	templates, err := rules.LoadTemplates(f)
	if err != nil {
		return 0, err
	}
	for _, t := range templates {
		if err := a.Rules.SaveTemplate(ctx, t); err != nil {
			return 0, fmt.Errorf("failed to save template %s: %w", t.Name, err)
		}
	}
	a.Matcher.Invalidate()
	a.Log.Info("templates imported", "count", len(templates), "file", path)
	return len(templates), nil
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <training-archive-id>",
		Short: "Write the Excel manifest of a stored training archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("output")
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid archive id: %w", err)
			}
			if out == "" {
				out = fmt.Sprintf("archive_%s.xlsx", id)
			}

			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			manifest, err := a.Training.GetManifest(cmd.Context(), id)
			if err != nil {
				return err
			}
			// Orphans are not stored, so the sheet carries only its header.
			data, err := export.Manifest(manifest, nil)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write manifest: %w", err)
			}
			fmt.Printf("Manifest written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "output file (default archive_<id>.xlsx)")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Migrate(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migrations\n", n)
			return nil
		},
	}

	cmd.AddCommand(upCmd)
	return cmd
}
