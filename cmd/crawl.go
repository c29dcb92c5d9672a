package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/exercise-crawler/internal/dispatcher"
)

// errCrawlFailed marks a crawl that completed with an unsuccessful result.
var errCrawlFailed = errors.New("crawl failed")

func newCrawlCmd() *cobra.Command {
	var (
		task    string
		target  string
		noCache bool
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl task and prints the result as JSON",
		Long: `Runs one of the crawl tasks (main, category, exercise, all) and
prints the response envelope. category and exercise require --url.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			useCache := !noCache
			resp := appInstance.Crawl(cmd.Context(), dispatcher.Request{
				Task:     task,
				URL:      target,
				UseCache: &useCache,
			})
			if err := writeJSON(cmd, resp); err != nil {
				return closeOnError(cmd.Context(), appInstance, err)
			}
			if !resp.Success {
				return closeOnError(cmd.Context(), appInstance, fmt.Errorf("%w: %s", errCrawlFailed, resp.Result.Error))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&task, "task", "main", "crawl task: main, category, exercise or all")
	cmd.Flags().StringVar(&target, "url", "", "target url for category and exercise tasks")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "skip the result cache and fetch fresh pages")
	return cmd
}

func newClearCacheCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Clears one cached result, or all of them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			resp := appInstance.ClearCache(cmd.Context(), key)
			if err := writeJSON(cmd, resp); err != nil {
				return closeOnError(cmd.Context(), appInstance, err)
			}
			if !resp.Success {
				return closeOnError(cmd.Context(), appInstance, errors.New("clear cache failed"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "cache key such as \"main\" or \"category:/exercises/chest\" (empty clears all)")
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
