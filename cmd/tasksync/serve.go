package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/tasksync/cmd/tasksync/handlers"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/sync/scheduler"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync HTTP and WebSocket server",
		Long: `Start the HTTP API that accepts outbox batches from clients, serves the
task store and pushes sync events over /api/ws.

When sync.resume_interval is positive a background sweeper also re-drives
PENDING entries older than sync.stale_after.

Example:
  tasksync serve --addr 127.0.0.1:8090 --data-dir ./data`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")

	return cmd
}

// newMux builds the HTTP routes for a. sweeper is nil when the resume
// sweeper is disabled.
func newMux(a *app, hub *WSHub, sweeper *scheduler.Scheduler) *http.ServeMux {
	health := handlers.NewHealthHandler(nil, hub)
	if sweeper != nil {
		health = handlers.NewHealthHandler(sweeper, hub)
	}

	mux := http.NewServeMux()
	handlers.Register(mux, health,
		handlers.NewSyncHandler(a.outbox),
		handlers.NewTaskHandler(a.tasks, a.store),
	)
	mux.HandleFunc("GET /api/ws", HandleWebSocket(hub))
	return mux
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	hub := NewWSHub()
	defer hub.Close()
	a.outbox.SetNotifier(hub)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sweeper *scheduler.Scheduler
	if a.cfg.Sync.ResumeInterval > 0 {
		sweeper = scheduler.NewScheduler(a.outbox, &scheduler.SchedulerConfig{
			Interval:   a.cfg.Sync.ResumeInterval,
			StaleAfter: a.cfg.Sync.StaleAfter,
		})
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           newMux(a, hub, sweeper),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logging.Info("tasksync server listening", map[string]interface{}{
		"addr":     addr,
		"data_dir": a.cfg.DB.DataDir,
		"workers":  a.cfg.Sync.Workers,
	})

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("Shutting down server", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
