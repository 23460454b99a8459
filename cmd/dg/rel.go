package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docgraph/internal/store/schema"
	"github.com/mschirtzinger/docgraph/internal/types"
	"github.com/mschirtzinger/docgraph/internal/ui"
)

func newRelCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rel",
		GroupID: "graph",
		Short:   "Create, inspect and delete relationships",
		Long: `Manage directed relationships between documents.

Every new relationship is validated in order: both documents exist, the
parent is not the child, the relationship type is known, the parent's
document type is an allowed parent of the child's, the pair is not already
linked, and the edge does not close a cycle.

Relationship types: parent_child (default), reference, derived_from.`,
	}
	cmd.AddCommand(
		newRelCreateCmd(a),
		newRelBulkCmd(a),
		newRelCheckCmd(a),
		newRelListCmd(a),
		newRelShowCmd(a),
		newRelSetTypeCmd(a),
		newRelDeleteCmd(a),
	)
	return cmd
}

func newRelCreateCmd(a *app) *cobra.Command {
	var relType string
	var writeFile bool
	cmd := &cobra.Command{
		Use:   "create <parent-id> <child-id>",
		Short: "Create a relationship",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			rel, err := a.engine.CreateRelationship(ctx, args[0], args[1], types.RelationshipType(relType))
			if err != nil {
				return err
			}
			if writeFile {
				if err := schema.WriteRelFile(a.cfg.RelsDir, schema.FromRelationship(rel)); err != nil {
					return err
				}
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), rel)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created %s (%s)\n", ui.RenderPass("✓"), rel, ui.RenderMuted(rel.ID))
			return nil
		},
	}
	cmd.Flags().StringVar(&relType, "type", "", "Relationship type (default parent_child)")
	cmd.Flags().BoolVarP(&writeFile, "write-file", "w", false, "Also write the relationship file under the rels directory")
	return cmd
}

func newRelBulkCmd(a *app) *cobra.Command {
	var writeFile bool
	cmd := &cobra.Command{
		Use:   "bulk <file.json>",
		Short: "Create many relationships at once, all or nothing",
		Long: `Create every relationship listed in a JSON array of
{"parent_id", "child_id", "relationship_type"} objects. Each item is
validated against the stored graph plus the items before it; if any item
fails nothing is created.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			// #nosec G304 - path comes from the command line
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			var items []types.RelationshipInput
			if err := json.Unmarshal(data, &items); err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}

			if err := a.open(ctx); err != nil {
				return err
			}
			rels, err := a.engine.CreateBulkRelationships(ctx, items)
			if err != nil {
				var bulkErr *types.BulkError
				if errors.As(err, &bulkErr) && bulkErr.Index < len(items) {
					it := items[bulkErr.Index]
					return fmt.Errorf("item %d (%s -> %s) rejected, nothing created: %w", bulkErr.Index, it.ParentID, it.ChildID, bulkErr.Err)
				}
				return err
			}
			if writeFile {
				for _, rel := range rels {
					if err := schema.WriteRelFile(a.cfg.RelsDir, schema.FromRelationship(rel)); err != nil {
						return err
					}
				}
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), rels)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created %d relationships\n", ui.RenderPass("✓"), len(rels))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&writeFile, "write-file", "w", false, "Also write relationship files under the rels directory")
	return cmd
}

func newRelCheckCmd(a *app) *cobra.Command {
	var relType string
	cmd := &cobra.Command{
		Use:   "check <parent-id> <child-id>",
		Short: "Validate a relationship without creating it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			err := a.engine.ValidateCreate(ctx, types.RelationshipInput{
				ParentID:         args[0],
				ChildID:          args[1],
				RelationshipType: types.RelationshipType(relType),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s is valid\n", ui.RenderPass("✓"), args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&relType, "type", "", "Relationship type (default parent_child)")
	return cmd
}

func newRelListCmd(a *app) *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "list <document-id>",
		Short: "List relationships where the document is the parent (or, with --parents, the child)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			var rels []*types.Relationship
			var err error
			if parents {
				rels, err = a.engine.GetRelationshipsByChild(ctx, args[0])
			} else {
				rels, err = a.engine.GetRelationshipsByParent(ctx, args[0])
			}
			if err != nil {
				return err
			}
			if a.jsonOut {
				if rels == nil {
					rels = []*types.Relationship{}
				}
				return printJSON(cmd.OutOrStdout(), rels)
			}
			for _, r := range rels {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", r, ui.RenderMuted(r.ID))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&parents, "parents", false, "List relationships where the document is the child")
	return cmd
}

func newRelShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <relationship-id>",
		Short: "Show a relationship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			rel, err := a.lookupRelationship(cmd, args[0])
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), rel)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", rel)
			fmt.Fprintf(out, "ID: %s\n", rel.ID)
			fmt.Fprintf(out, "Created: %s\n", rel.CreatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newRelSetTypeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-type <relationship-id> <type>",
		Short: "Change a relationship's type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			old, err := a.lookupRelationship(cmd, args[0])
			if err != nil {
				return err
			}
			rel, err := a.engine.UpdateRelationshipType(ctx, args[0], types.RelationshipType(args[1]))
			if err != nil {
				return err
			}

			// A relationship file, if there is one, is renamed after the new type.
			oldPath := filepath.Join(a.cfg.RelsDir, schema.RelFileName(old.ParentID, string(old.RelationshipType), old.ChildID))
			if _, err := os.Stat(oldPath); err == nil {
				if err := schema.WriteRelFile(a.cfg.RelsDir, schema.FromRelationship(rel)); err != nil {
					return err
				}
			}

			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), rel)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Updated %s\n", ui.RenderPass("✓"), rel)
			return nil
		},
	}
}

func newRelDeleteCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <relationship-id>",
		Short: "Delete a relationship and its file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			rel, err := a.lookupRelationship(cmd, args[0])
			if err != nil {
				return err
			}

			if !yes {
				ok, err := ui.Confirm(
					"Delete relationship?",
					rel.String(),
					"Delete",
				)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
					return nil
				}
			}

			if _, err := a.engine.DeleteRelationship(ctx, rel.ID); err != nil {
				return err
			}
			if err := schema.DeleteRelFile(a.cfg.RelsDir, rel.ParentID, string(rel.RelationshipType), rel.ChildID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", ui.RenderPass("✓"), rel)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func (a *app) lookupRelationship(cmd *cobra.Command, id string) (*types.Relationship, error) {
	rel, err := a.engine.GetRelationship(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrRelationshipNotFound, id)
	}
	return rel, nil
}
