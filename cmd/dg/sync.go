package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	docsync "github.com/mschirtzinger/docgraph/internal/sync"
	"github.com/mschirtzinger/docgraph/internal/ui"
)

func newTypesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "types",
		GroupID: "graph",
		Short:   "List document types and their allowed parent types",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := a.registry.Types()
			if a.jsonOut {
				out := make(map[string][]string, len(names))
				for _, name := range names {
					parents, _ := a.registry.AllowedParentTypes(name)
					out[name] = parents
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			for _, name := range names {
				parents, _ := a.registry.AllowedParentTypes(name)
				allowed := ui.RenderMuted("(root: any parent)")
				if len(parents) > 0 {
					allowed = "<- " + strings.Join(parents, ", ")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-18s %s\n", name, allowed)
			}
			if !a.cfg.Engine.PermissiveUnknownTypes {
				fmt.Fprintln(cmd.OutOrStdout(), ui.RenderWarn("Unregistered types are rejected as children."))
			}
			return nil
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Full sync from document and relationship files to the database",
		Long: `Sync all document and relationship files to the database.

This performs a full sync:
  1. Reads all docs/**/*.json files and upserts the documents
  2. Reads all rels/*.json files and creates missing relationships through
     the validator (invalid files are reported, not fatal)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			syncer := docsync.New(a.db, a.engine, a.logger)

			out := cmd.OutOrStdout()
			if !a.jsonOut {
				fmt.Fprintf(out, "%s Syncing from %s and %s...\n", ui.RenderAccent("↻"), a.cfg.DocsDir, a.cfg.RelsDir)
			}
			start := time.Now()
			stats, err := syncer.FullSync(ctx, a.cfg.DocsDir, a.cfg.RelsDir)
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			if a.jsonOut {
				return printJSON(out, stats)
			}

			fmt.Fprintf(out, "%s Sync complete in %v\n", ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond))
			fmt.Fprintf(out, "   Documents: %d synced, %d changed, %d failed\n", stats.DocsSynced, stats.DocsChanged, stats.DocsFailed)
			fmt.Fprintf(out, "   Relationships: %d created, %d in sync, %d failed\n", stats.RelsCreated, stats.RelsInSync, stats.RelsFailed)
			if stats.DocsFailed+stats.RelsFailed > 0 {
				fmt.Fprintf(out, "%s Some files were rejected; run with --log-level warn to see why\n", ui.RenderWarn("⚠"))
			}
			return nil
		},
	}
}

type statusReport struct {
	Database      string `json:"database"`
	SizeBytes     int64  `json:"size_bytes"`
	ConfigFile    string `json:"config_file,omitempty"`
	Documents     int    `json:"documents"`
	Relationships int    `json:"relationships"`
	NeedsReview   int    `json:"needs_review"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show database status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			info, err := os.Stat(a.cfg.DBPath)
			if errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(out, "%s Database not initialized\n", ui.RenderWarn("⚠"))
				fmt.Fprintf(out, "   Run 'dg sync' to create it\n")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to check database: %w", err)
			}

			if err := a.open(ctx); err != nil {
				return err
			}
			report := statusReport{Database: a.cfg.DBPath, SizeBytes: info.Size(), ConfigFile: a.cfg.File}
			if report.Documents, err = a.db.GetDocumentCount(ctx); err != nil {
				return err
			}
			if report.Relationships, err = a.db.GetRelationshipCount(ctx); err != nil {
				return err
			}
			review, err := a.db.ListNeedingReview(ctx, time.Time{})
			if err != nil {
				return err
			}
			report.NeedsReview = len(review)

			if a.jsonOut {
				return printJSON(out, report)
			}
			fmt.Fprintf(out, "%s\n\n", ui.RenderHeader("docgraph status"))
			fmt.Fprintf(out, "Database: %s (%s)\n", report.Database, formatSize(report.SizeBytes))
			if report.ConfigFile != "" {
				fmt.Fprintf(out, "Config: %s\n", report.ConfigFile)
			}
			fmt.Fprintf(out, "Documents: %d\n", report.Documents)
			fmt.Fprintf(out, "Relationships: %d\n", report.Relationships)
			fmt.Fprintf(out, "Needs review: %d\n", report.NeedsReview)
			return nil
		},
	}
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}
