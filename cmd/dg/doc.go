package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docgraph/internal/store/db"
	"github.com/mschirtzinger/docgraph/internal/store/schema"
	"github.com/mschirtzinger/docgraph/internal/types"
	"github.com/mschirtzinger/docgraph/internal/typereg"
	"github.com/mschirtzinger/docgraph/internal/ui"
)

func newDocCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "doc",
		GroupID: "graph",
		Short:   "Add, show, list and remove documents",
	}
	cmd.AddCommand(newDocAddCmd(a), newDocShowCmd(a), newDocListCmd(a), newDocRemoveCmd(a))
	return cmd
}

func newDocAddCmd(a *app) *cobra.Command {
	var title, docType, content, contentFile string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Create or update a document",
		Long: `Create or update a document. The document is written to
<docs-dir>/<id>.json (or its existing file, if one holds the id) and
indexed in the database.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if contentFile != "" {
				// #nosec G304 - path comes from the command line
				data, err := os.ReadFile(contentFile)
				if err != nil {
					return fmt.Errorf("failed to read content file: %w", err)
				}
				content = string(data)
			}

			df := &schema.DocFile{
				ID:           args[0],
				Title:        title,
				DocumentType: typereg.Normalize(docType),
				Content:      content,
			}
			if err := df.Validate(); err != nil {
				return fmt.Errorf("invalid document: %w", err)
			}

			if err := a.open(ctx); err != nil {
				return err
			}
			existing, err := a.db.GetDocument(ctx, df.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				df.Metadata = existing.Metadata
			}

			path, err := schema.FindDocFile(a.cfg.DocsDir, df.ID)
			if err != nil {
				return err
			}
			if path == "" {
				path = filepath.Join(a.cfg.DocsDir, df.Filename())
			}
			if err := schema.WriteDocFileAt(path, df); err != nil {
				return err
			}
			changed, err := a.db.UpsertDocument(ctx, df.ToDocument())
			if err != nil {
				return err
			}

			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{"id": df.ID, "changed": changed})
			}
			verb := "Added"
			if existing != nil {
				verb = "Updated"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s document %s\n", ui.RenderPass("✓"), verb, ui.RenderID(df.ID))
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "Document title (required)")
	cmd.Flags().StringVar(&docType, "type", "", "Document type, e.g. feature_document (required)")
	cmd.Flags().StringVarP(&content, "content", "c", "", "Document content")
	cmd.Flags().StringVar(&contentFile, "content-file", "", "Read content from this file")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newDocShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			doc, err := a.db.GetDocument(ctx, args[0])
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("%w: %s", types.ErrNotFound, args[0])
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), doc)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", ui.RenderID(doc.ID), ui.RenderHeader(doc.Title))
			fmt.Fprintf(out, "Type: %s\n", doc.DocumentType)
			if doc.NeedsReview() {
				fmt.Fprintf(out, "Review: %s\n", ui.RenderWarn("needs review"))
				if pc, ok := doc.Metadata[types.MetaParentChanged].(map[string]any); ok {
					fmt.Fprintf(out, "  parent %v changed at %v (depth %v)\n", pc["parent_id"], pc["changed_at"], pc["depth_from_changed"])
				}
			}
			if doc.Content != "" {
				fmt.Fprintf(out, "\n%s\n", doc.Content)
			}
			return nil
		},
	}
}

func newDocListCmd(a *app) *cobra.Command {
	var docType string
	var needsReview bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			docs, err := a.db.ListDocuments(ctx, db.DocumentFilter{
				DocumentType: typereg.Normalize(docType),
				NeedsReview:  needsReview,
			})
			if err != nil {
				return err
			}
			if a.jsonOut {
				if docs == nil {
					docs = []*types.Document{}
				}
				return printJSON(cmd.OutOrStdout(), docs)
			}
			for _, d := range docs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-18s %s\n", ui.RenderID(d.ID), d.DocumentType, d.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&docType, "type", "", "Only documents of this type")
	cmd.Flags().BoolVar(&needsReview, "needs-review", false, "Only documents flagged for review")
	return cmd
}

func newDocRemoveCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a document, its file and every relationship touching it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]
			if err := a.open(ctx); err != nil {
				return err
			}
			doc, err := a.db.GetDocument(ctx, id)
			if err != nil {
				return err
			}
			if doc == nil {
				return fmt.Errorf("%w: %s", types.ErrNotFound, id)
			}

			if !yes {
				ok, err := ui.Confirm(
					fmt.Sprintf("Remove document %s?", id),
					fmt.Sprintf("%q and all of its relationships will be deleted.", doc.Title),
					"Remove",
				)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
					return nil
				}
			}

			rels, err := schema.ListRelsForDocument(a.cfg.RelsDir, id)
			if err != nil {
				return err
			}
			for _, r := range rels {
				if err := schema.DeleteRelFile(a.cfg.RelsDir, r.ParentID, r.RelationshipType, r.ChildID); err != nil {
					return err
				}
			}
			if path, err := schema.FindDocFile(a.cfg.DocsDir, id); err == nil && path != "" {
				if err := os.Remove(path); err != nil {
					return fmt.Errorf("failed to remove document file: %w", err)
				}
			}
			if err := a.db.DeleteDocument(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Removed document %s\n", ui.RenderPass("✓"), ui.RenderID(id))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}
