package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docgraph/internal/types"
	"github.com/mschirtzinger/docgraph/internal/ui"
)

func newReviewCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "review",
		GroupID: "graph",
		Short:   "Flag, list and clear documents needing review after a parent changed",
	}
	cmd.AddCommand(newReviewMarkCmd(a), newReviewListCmd(a), newReviewClearCmd(a))
	return cmd
}

func newReviewMarkCmd(a *app) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   "mark <document-id>",
		Short: "Flag every descendant of a changed document for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			n, err := a.engine.MarkDescendantsForReview(ctx, args[0], depth)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{"document_id": args[0], "marked": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Marked %d documents for review\n", ui.RenderPass("✓"), n)
			return nil
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "Maximum depth below the document (0 = unbounded)")
	return cmd
}

func newReviewListCmd(a *app) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents flagged for review, most recently flagged first",
		Example: `  dg review list
  dg review list --since yesterday
  dg review list --since 48h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			from, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			if err := a.open(ctx); err != nil {
				return err
			}
			docs, err := a.db.ListNeedingReview(ctx, from)
			if err != nil {
				return err
			}
			if a.jsonOut {
				if docs == nil {
					docs = []*types.Document{}
				}
				return printJSON(cmd.OutOrStdout(), docs)
			}
			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No documents need review")
				return nil
			}
			for _, d := range docs {
				line := fmt.Sprintf("%s %s", ui.RenderID(d.ID), d.Title)
				if pc, ok := d.Metadata[types.MetaParentChanged].(map[string]any); ok {
					line += ui.RenderMuted(fmt.Sprintf("  (parent %v changed, depth %v)", pc["parent_id"], pc["depth_from_changed"]))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ui.RenderWarn("●"), line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&since, "since", "", `Only documents flagged since this time ("yesterday", "48h", "2026-01-02")`)
	return cmd
}

func newReviewClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <document-id>...",
		Short: "Clear the review flag of documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			for _, id := range args {
				if err := a.db.ClearReview(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Cleared %s\n", ui.RenderPass("✓"), ui.RenderID(id))
			}
			return nil
		},
	}
}
