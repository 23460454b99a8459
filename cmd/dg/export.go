package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docgraph/internal/migrate"
	"github.com/mschirtzinger/docgraph/internal/ui"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "export <file>",
		GroupID: "maint",
		Short:   "Export every document and relationship as JSONL",
		Long: `Export the whole graph as JSONL: a header line carrying the format
version, then one document or relationship per line. A file name ending in
.zst is zstd-compressed. Use - to write to stdout.`,
		Example: `  dg export backup.jsonl
  dg export backup.jsonl.zst`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if args[0] == "-" {
				_, err := migrate.Export(ctx, a.db, cmd.OutOrStdout(), false)
				return err
			}
			res, err := migrate.ExportFile(ctx, a.db, args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Exported %d documents and %d relationships to %s\n",
				ui.RenderPass("✓"), res.Documents, res.Relationships, args[0])
			return nil
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:     "import <file>",
		GroupID: "maint",
		Short:   "Import a JSONL export",
		Long: `Import a file written by 'dg export' (plain or zstd). Documents are
upserted; relationships whose pair already exists are skipped; the rest are
validated and created all-or-nothing. The import commits as one
transaction, so a rejected relationship leaves the database untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			res, err := migrate.ImportFile(ctx, a.db, a.engine, args[0], migrate.ImportOptions{DryRun: dryRun})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), res)
			}
			prefix := ui.RenderPass("✓") + " Imported"
			if dryRun {
				prefix = ui.RenderAccent("Dry run:") + " would import"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d documents and %d relationships (%d already present, format %s)\n",
				prefix, res.Documents, res.Relationships, res.SkippedExisting, res.FormatVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate everything, then roll back")
	return cmd
}
