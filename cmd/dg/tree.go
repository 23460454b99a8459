package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docgraph/internal/engine"
	"github.com/mschirtzinger/docgraph/internal/types"
	"github.com/mschirtzinger/docgraph/internal/ui"
)

func newTreeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tree",
		GroupID: "graph",
		Short:   "Walk the hierarchy around a document",
	}
	cmd.AddCommand(
		newTraverseCmd(a, "ancestors", "List a document's ancestors, nearest first", a.ancestors),
		newTraverseCmd(a, "descendants", "List a document's descendants, nearest first", a.descendants),
		newBreadcrumbCmd(a),
		newContextCmd(a),
	)
	return cmd
}

func (a *app) ancestors(ctx context.Context, id string, depth int) ([]types.HierarchyNode, error) {
	return a.engine.GetAncestors(ctx, id, depth)
}

func (a *app) descendants(ctx context.Context, id string, depth int) ([]types.HierarchyNode, error) {
	return a.engine.GetDescendants(ctx, id, depth)
}

func newTraverseCmd(a *app, use, short string, walk func(context.Context, string, int) ([]types.HierarchyNode, error)) *cobra.Command {
	var depth int
	cmd := &cobra.Command{
		Use:   use + " <document-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			nodes, err := walk(ctx, args[0], depth)
			if err != nil {
				return err
			}
			if a.jsonOut {
				if nodes == nil {
					nodes = []types.HierarchyNode{}
				}
				return printJSON(cmd.OutOrStdout(), nodes)
			}
			printNodes(cmd.OutOrStdout(), nodes)
			return nil
		},
	}
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "Maximum depth (default from engine config)")
	return cmd
}

func printNodes(w io.Writer, nodes []types.HierarchyNode) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("(none)"))
		return
	}
	for _, n := range nodes {
		fmt.Fprintf(w, "%s%s %s %s\n",
			ui.Indent(n.Depth-1),
			ui.RenderID(n.Document.ID),
			n.Document.Title,
			ui.RenderMuted(fmt.Sprintf("[%s, %s, depth %d]", n.Document.DocumentType, n.RelationshipType, n.Depth)),
		)
	}
}

func newBreadcrumbCmd(a *app) *cobra.Command {
	var opts engine.BreadcrumbOptions
	var details bool
	cmd := &cobra.Command{
		Use:   "breadcrumb <document-id>",
		Short: "Print the root-to-document title path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			if details || a.jsonOut {
				items, err := a.engine.GetBreadcrumbWithDetails(ctx, args[0])
				if err != nil {
					return err
				}
				if items == nil {
					items = []types.BreadcrumbItem{}
				}
				if a.jsonOut {
					return printJSON(cmd.OutOrStdout(), items)
				}
				for i, it := range items {
					rel := "self"
					if it.RelationshipType != nil {
						rel = string(*it.RelationshipType)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s%s %s %s\n", ui.Indent(i), ui.RenderID(it.ID), it.Title,
						ui.RenderMuted(fmt.Sprintf("[%s, %s]", it.DocumentType, rel)))
				}
				return nil
			}

			crumb, err := a.engine.GetBreadcrumb(ctx, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), crumb)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Separator, "separator", engine.DefaultBreadcrumbSeparator, "Segment separator")
	cmd.Flags().BoolVar(&opts.IncludeIDs, "ids", false, "Append the first 8 characters of each id")
	cmd.Flags().BoolVar(&details, "details", false, "List each segment with its type and relationship")
	return cmd
}

func newContextCmd(a *app) *cobra.Command {
	var maxChars int
	cmd := &cobra.Command{
		Use:   "context <document-id>",
		Short: "Print the aggregated content of a document's ancestors",
		Long: `Print the content of every ancestor, root-most first, as a
"# Parent Context" block suitable for feeding to a generator. Each
ancestor's content is cut at --max-chars.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			out, err := a.engine.GetParentContext(ctx, args[0], maxChars)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]string{"document_id": args[0], "context": out})
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxChars, "max-chars", 0, "Maximum characters per ancestor (default from engine config)")
	return cmd
}
