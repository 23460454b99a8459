// Command dg manages a graph of hierarchical documents: typed parent/child
// relationships, cycle-safe validation, ancestry traversal and review
// marking when a parent changes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mschirtzinger/docgraph/internal/config"
	"github.com/mschirtzinger/docgraph/internal/engine"
	"github.com/mschirtzinger/docgraph/internal/logging"
	"github.com/mschirtzinger/docgraph/internal/store/db"
	"github.com/mschirtzinger/docgraph/internal/typereg"
)

func main() {
	if err := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// execute builds a fresh command tree, runs it with args and releases
// whatever the command opened.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{v: config.New()}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	defer a.close()
	return root.ExecuteContext(ctx)
}

// app carries the state shared by every command of one invocation.
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	logger   *zap.SugaredLogger
	registry *typereg.Registry

	db     *db.DB
	engine *engine.Engine

	jsonOut bool
}

var flagKeys = map[string]string{
	"data-dir":  "data_dir",
	"db":        "db.path",
	"docs-dir":  "docs.dir",
	"rels-dir":  "rels.dir",
	"types":     "types.file",
	"log-level": "log.level",
	"log-file":  "log.file",
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "dg",
		Short: "dg - hierarchical document relationship engine",
		Long: `dg tracks typed relationships between documents (vision, feature, epic,
story, ...) and keeps the graph acyclic.

Documents live as JSON files under <data-dir>/docs and relationships as
<parent>--<type>--<child>.json files under <data-dir>/rels. Both are indexed
in a SQLite database that the daemon keeps in sync.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.AddGroup(
		&cobra.Group{ID: "graph", Title: "Graph Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
		&cobra.Group{ID: "maint", Title: "Maintenance Commands:"},
	)

	pf := root.PersistentFlags()
	pf.String("data-dir", config.DefaultDataDir, "Data directory holding docs/, rels/ and the database")
	pf.String("db", "", "Database path (default <data-dir>/docgraph.db)")
	pf.String("docs-dir", "", "Document files directory (default <data-dir>/docs)")
	pf.String("rels-dir", "", "Relationship files directory (default <data-dir>/rels)")
	pf.String("types", "", "Document type registry file (.toml, .yaml or .hcl)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-file", "", "Also write JSON logs to this rotating file")
	pf.BoolVar(&a.jsonOut, "json", false, "Output JSON")

	root.AddCommand(
		newDocCmd(a),
		newRelCmd(a),
		newTreeCmd(a),
		newReviewCmd(a),
		newTypesCmd(a),
		newSyncCmd(a),
		newStatusCmd(a),
		newDaemonCmd(a),
		newDashboardCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newLoadtestCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := config.BindFlags(a.v, cmd.Root().PersistentFlags(), flagKeys); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	cfg.Log.Stderr = cmd.ErrOrStderr()
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	registry := typereg.Default()
	if cfg.TypesFile != "" {
		if err := registry.LoadFile(cfg.TypesFile); err != nil {
			return fmt.Errorf("failed to load document types: %w", err)
		}
	}

	a.cfg = cfg
	a.logger = logger
	a.registry = registry
	return nil
}

// open opens the database and builds the engine. Safe to call twice.
func (a *app) open(ctx context.Context) error {
	if a.db != nil {
		return nil
	}
	database, err := db.Open(a.cfg.DBPath, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		_ = database.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	a.db = database
	a.engine = engine.New(database, a.registry, a.cfg.Engine, engine.WithLogger(a.logger))
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
