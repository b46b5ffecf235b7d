package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/movieapp/moviecache-crawler/internal/catalog"
)

// newCrawlCmd creates the 'crawl' subcommand, which performs one full crawl
// run and exits.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl immediately and exits",
		Long: `Fetches the current catalog listing, normalizes every title, and upserts
the records into the configured store. Exits non-zero if the run fails
fatally; per-record failures are reported but do not fail the command.`,

		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	ctx := cmd.Context()
	if budget := appInstance.Config().RunBudget(); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	result, err := appInstance.Runner().Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl run %s failed: %w", result.ID, err)
	}

	if result.Counters.Failed > 0 {
		logger.Warn("crawl finished with record failures",
			zap.String("run_id", result.ID),
			zap.Int("failed", result.Counters.Failed))
		for _, recErr := range result.Errors {
			logger.Warn("record failure",
				zap.String("slug", recErr.Slug),
				zap.String("stage", recErr.Stage),
				zap.String("message", recErr.Message))
		}
	}
	if result.Status == catalog.RunStatusSucceeded {
		logger.Info("crawl finished",
			zap.String("run_id", result.ID),
			zap.Int("upserted", result.Counters.Upserted),
			zap.Int("unchanged", result.Counters.Unchanged))
	}
	return nil
}
