// Package cmd defines and implements the CLI commands for the moviecrawler
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/movieapp/moviecache-crawler/internal/app"
	"github.com/movieapp/moviecache-crawler/internal/catalog"
	"github.com/movieapp/moviecache-crawler/internal/config"
	"github.com/movieapp/moviecache-crawler/internal/runner"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface commands use. Tests inject a mock
// through the newApp factory.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Runner() *runner.Runner
	History() catalog.RunHistory
}

// newApp is the application factory. It is a variable so tests can replace
// it with a mock factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.New(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moviecrawler",
		Short: "A scheduled crawler that caches the movie catalog into a Redis-compatible store.",
		Long: `moviecrawler walks the upstream movie catalog, normalizes each title, and
upserts movie, alias, and stream-detail records into a Redis-compatible
REST key-value store. Unchanged records are skipped, and per-record
failures never abort a run.`,

		// Runs after flags are parsed and before the subcommand's RunE.
		// This is where the service graph is built and injected.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// Ensures services shut down gracefully after the subcommand.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional, env vars used otherwise)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "moviecrawler: %v\n", err)
		os.Exit(1)
	}
}
