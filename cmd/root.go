// Package cmd defines the CLI commands for the exercise-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/exercise-crawler/internal/app"
	"github.com/JakeFAU/exercise-crawler/internal/config"
	"github.com/JakeFAU/exercise-crawler/internal/dispatcher"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the assembled application.
// Tests inject a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	Crawl(ctx context.Context, req dispatcher.Request) dispatcher.Response
	ClearCache(ctx context.Context, key string) dispatcher.ClearResponse
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "exercise-crawler",
		Short: "Crawls an exercise catalogue site and serves the results over HTTP.",
		Long: `exercise-crawler fetches the category, listing and detail pages of an
exercise catalogue site, caches the structured results, and exposes them
through a JSON API alongside a Postgres-backed exercise store.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and CRAWLER_* env vars apply without one)")

	cmd.AddCommand(newServeCmd(), newCrawlCmd(), newClearCacheCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return appInstance, nil
}

// closeOnError closes the app before RunE returns err, since cobra skips
// PersistentPostRunE when RunE fails.
func closeOnError(ctx context.Context, appInstance App, err error) error {
	if cerr := appInstance.Close(context.WithoutCancel(ctx)); cerr != nil {
		return errors.Join(err, fmt.Errorf("close app: %w", cerr))
	}
	return err
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
