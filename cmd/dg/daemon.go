package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/docgraph/internal/daemon"
	"github.com/mschirtzinger/docgraph/internal/dashboard"
	docsync "github.com/mschirtzinger/docgraph/internal/sync"
	"github.com/mschirtzinger/docgraph/internal/ui"
)

func newDaemonCmd(a *app) *cobra.Command {
	var rippleDepth int
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:     "daemon",
		GroupID: "sync",
		Short:   "Watch document and relationship files and keep the database in sync (foreground)",
		Long: `Start the sync daemon in the foreground.

The daemon will:
  1. Run a full sync
  2. Watch docs/ (recursively) and rels/ for changes
  3. Sync changed files after a short quiet period
  4. Flag every descendant of a document whose content changed for review
  5. Remove documents and relationships whose files were deleted

Stop it with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := a.open(ctx); err != nil {
				return err
			}

			d, err := a.newDaemon(rippleDepth, debounce, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Watching %s and %s (Ctrl+C to stop)\n", ui.RenderAccent("👁"), a.cfg.DocsDir, a.cfg.RelsDir)
			return d.Start(ctx)
		},
	}
	cmd.Flags().IntVar(&rippleDepth, "ripple-depth", 0, "Maximum depth flagged for review after a content change (0 = unbounded)")
	cmd.Flags().DurationVar(&debounce, "debounce", 0, "Quiet period before a changed file is synced (default daemon.debounce)")
	return cmd
}

func (a *app) newDaemon(rippleDepth int, debounce time.Duration, onSync func(daemon.SyncReport)) (*daemon.Daemon, error) {
	if debounce <= 0 {
		debounce = a.cfg.DaemonDebounce
	}
	syncer := docsync.New(a.db, a.engine, a.logger)
	return daemon.New(syncer, a.engine, a.cfg.DocsDir, a.cfg.RelsDir, &daemon.Config{
		DebounceInterval: debounce,
		RippleDepth:      rippleDepth,
		OnSync:           onSync,
		Logger:           a.logger.Named("daemon"),
	})
}

func newDashboardCmd(a *app) *cobra.Command {
	var host string
	var port int
	var noWatch bool
	cmd := &cobra.Command{
		Use:     "dashboard",
		GroupID: "advanced",
		Short:   "Start the real-time WebSocket dashboard",
		Long: `Start a WebSocket dashboard that broadcasts relationship changes,
review marking and sync results to connected clients.

Unless --no-watch is given the sync daemon runs alongside the server, so
edits to document and relationship files show up live.

WebSocket messages:
- relationship_created, relationship_updated, relationship_deleted
- descendants_marked: documents flagged for review after a change
- sync_complete: a daemon sync pass finished
- stats: document, relationship and needs-review counts

Endpoints:
  ws://<host>:<port>/ws
  http://<host>:<port>/health
  http://<host>:<port>/metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := a.open(ctx); err != nil {
				return err
			}
			if !cmd.Flags().Changed("port") {
				port = a.cfg.DashboardPort
			}

			server := dashboard.NewServer(&dashboard.Config{Host: host, Port: port, Logger: a.logger})
			handler := dashboard.NewHandler(server, a.db, a.logger)
			a.engine.Subscribe(handler)

			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dashboard server started on http://%s\n", server.Addr())
			fmt.Fprintf(out, "WebSocket endpoint: ws://%s/ws\n", server.Addr())
			fmt.Fprintln(out, "\nPress Ctrl+C to stop...")

			if noWatch {
				<-ctx.Done()
			} else {
				d, err := a.newDaemon(0, 0, handler.OnSync)
				if err != nil {
					_ = server.Stop()
					return err
				}
				if err := d.Start(ctx); err != nil {
					_ = server.Stop()
					return err
				}
			}

			fmt.Fprintln(out, "\nShutting down dashboard server...")
			return shutdown(server)
		},
	}
	cmd.Flags().StringVar(&host, "host", "localhost", "Host to bind")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on (default dashboard.port)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Serve only; do not run the sync daemon")
	return cmd
}

func shutdown(server *dashboard.Server) error {
	done := make(chan error, 1)
	go func() { done <- server.Stop() }()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("dashboard did not stop within 10s")
	}
}
