package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"bloomberg-lite/pipeline"
	"bloomberg-lite/scheduler"
	"bloomberg-lite/server"
)

var (
	flagListen string
	flagRunNow bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard and run the pipeline on the configured schedule",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (overrides listen_addr)")
	serveCmd.Flags().BoolVar(&flagRunNow, "run-now", false, "start a full run immediately")
}

// runGuard allows at most one pipeline run at a time.
type runGuard struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	runner *pipeline.Runner
}

// run executes a run synchronously. It returns false without running when
// another run holds the guard.
func (g *runGuard) run(mode pipeline.Mode) bool {
	if !g.mu.TryLock() {
		slog.Warn("run skipped, previous run still in progress", "mode", mode)
		return false
	}
	defer g.mu.Unlock()
	g.exec(mode)
	return true
}

// start launches a run in the background.
func (g *runGuard) start(mode pipeline.Mode) bool {
	if !g.mu.TryLock() {
		return false
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.mu.Unlock()
		g.exec(mode)
	}()
	return true
}

func (g *runGuard) exec(mode pipeline.Mode) {
	sum, err := g.runner.Run(g.ctx, mode)
	if err != nil {
		slog.Error("scheduled run failed", "run_id", sum.RunID, "error", err)
		return
	}
	if !sum.Usable() {
		slog.Warn("scheduled run not usable", "run_id", sum.RunID)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(flagConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	guard := &runGuard{ctx: ctx, runner: a.runner}

	sched, err := scheduler.New(a.cfg.Timezone)
	if err != nil {
		return err
	}
	if err := sched.Schedule(a.cfg.Schedule, func() { guard.run(pipeline.ModeFull) }); err != nil {
		return err
	}
	sched.Start()
	slog.Info("scheduler started", "schedule", a.cfg.Schedule, "next", sched.Next())

	if flagRunNow {
		guard.start(pipeline.ModeFull)
	}

	addr := a.cfg.ListenAddr
	if flagListen != "" {
		addr = flagListen
	}
	srv := &http.Server{
		Addr: addr,
		Handler: server.New(a.store, func() bool { return guard.start(pipeline.ModeFull) }, server.Config{
			OutputDir: a.cfg.OutputDir,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			stop()
			sched.Stop()
			guard.wg.Wait()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown", "error", err)
	}
	sched.Stop()
	guard.wg.Wait()
	slog.Info("shutdown complete")
	return nil
}
