package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/movieapp/moviecache-crawler/internal/api"
	"github.com/movieapp/moviecache-crawler/internal/runner"
	"github.com/movieapp/moviecache-crawler/internal/scheduler"
)

// newServeCmd creates the 'serve' subcommand: cron-scheduled crawls plus a
// status HTTP server.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs crawls on a schedule and serves the status API",
		Long: `Starts a long-running service that triggers crawl runs on the configured
cron schedule and exposes health, metrics, and run-status endpoints over
HTTP. Shuts down cleanly on SIGINT/SIGTERM.`,

		RunE: runServeCommand,
	}
	return cmd
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	crawl := func(runCtx context.Context) error {
		if budget := cfg.RunBudget(); budget > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, budget)
			defer cancel()
		}
		_, err := appInstance.Runner().Run(runCtx)
		if errors.Is(err, runner.ErrRunInProgress) {
			logger.Info("scheduled run skipped, another run is in progress")
			return nil
		}
		return err
	}

	sched, err := scheduler.New(scheduler.Config{
		Cron:       cfg.Schedule.Cron,
		RunOnStart: cfg.Schedule.RunOnStart,
	}, crawl, logger)
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	apiServer := api.NewServer(appInstance.Runner(), appInstance.History(), logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
