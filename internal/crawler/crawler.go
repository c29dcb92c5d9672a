package crawler

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/exercise-crawler/internal/metrics"
)

// Defaults applied by New.
const (
	DefaultBaseURL       = "https://exercises.virtuagym.com"
	DefaultCategoryLimit = 5
)

// Config controls the orchestrator.
type Config struct {
	BaseURL string
	// CategoryLimit caps how many categories CrawlAllCategories visits.
	// It also bounds the fan-out concurrency.
	CategoryLimit int
}

// Crawler orchestrates fetch and extraction across the three site tiers.
type Crawler struct {
	cfg     Config
	fetcher Fetcher
	parser  Parser
	logger  *zap.Logger
}

// New builds a Crawler.
func New(cfg Config, fetcher Fetcher, parser Parser, logger *zap.Logger) *Crawler {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.CategoryLimit <= 0 {
		cfg.CategoryLimit = DefaultCategoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  parser,
		logger:  logger,
	}
}

// BaseURL returns the site root the crawler resolves links against.
func (c *Crawler) BaseURL() string {
	return c.cfg.BaseURL
}

// CrawlMainPage fetches the site root and extracts its categories.
func (c *Crawler) CrawlMainPage(ctx context.Context, opts Options) CrawlResult {
	resp, err := c.fetch(ctx, c.cfg.BaseURL, opts)
	if err != nil {
		c.logger.Error("main page fetch failed", zap.String("url", c.cfg.BaseURL), zap.Error(err))
		return Failure("", err)
	}
	categories := c.parser.ExtractCategories(resp.HTML())
	c.logger.Info("main page crawled", zap.Int("categories", len(categories)))
	return CategoriesResult(categories)
}

// CrawlCategory fetches one category page and extracts its exercise listing.
// The returned URL is the caller's url, not the resolved one.
func (c *Crawler) CrawlCategory(ctx context.Context, categoryURL string, opts Options) CrawlResult {
	target := ResolveURL(c.cfg.BaseURL, categoryURL)
	resp, err := c.fetch(ctx, target, opts)
	if err != nil {
		c.logger.Error("category fetch failed", zap.String("url", target), zap.Error(err))
		return Failure(categoryURL, err)
	}
	exercises := c.parser.ExtractExercises(resp.HTML())
	c.logger.Info("category crawled", zap.String("url", target), zap.Int("exercises", len(exercises)))
	return ExercisesResult(categoryURL, exercises)
}

// CrawlExercise fetches one exercise page and extracts its details.
func (c *Crawler) CrawlExercise(ctx context.Context, exerciseURL string, opts Options) CrawlResult {
	target := ResolveURL(c.cfg.BaseURL, exerciseURL)
	resp, err := c.fetch(ctx, target, opts)
	if err != nil {
		c.logger.Error("exercise fetch failed", zap.String("url", target), zap.Error(err))
		return Failure(exerciseURL, err)
	}
	details := c.parser.ExtractExerciseDetails(resp.HTML())
	c.logger.Info("exercise crawled", zap.String("url", target), zap.String("name", details.Name))
	return DetailsResult(exerciseURL, details)
}

// CrawlAllCategories crawls the main page, then the first CategoryLimit
// categories concurrently. A main-page failure is returned as is; category
// failures are kept in place inside an overall successful result. The
// aggregate lists every discovered category, while CategoryResults follows
// the order of the crawled prefix.
func (c *Crawler) CrawlAllCategories(ctx context.Context, opts Options) CrawlResult {
	root := c.CrawlMainPage(ctx, opts)
	if !root.Success {
		return root
	}

	categories := root.Payload.Categories
	selected := categories
	if len(selected) > c.cfg.CategoryLimit {
		selected = selected[:c.cfg.CategoryLimit]
	}

	results := make([]CrawlResult, len(selected))
	var g errgroup.Group
	g.SetLimit(c.cfg.CategoryLimit)
	for i, category := range selected {
		g.Go(func() error {
			results[i] = c.crawlCategorySafely(ctx, category, opts)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	c.logger.Info("all categories crawled",
		zap.Int("categories", len(categories)),
		zap.Int("crawled", len(selected)),
		zap.Int("failed", failed),
	)
	return CatalogResult(categories, results)
}

func (c *Crawler) crawlCategorySafely(ctx context.Context, category Category, opts Options) (result CrawlResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("category pipeline panicked", zap.String("url", category.URL), zap.Any("panic", r))
			result = Failure(category.URL, fmt.Errorf("category pipeline panic: %v", r))
		}
	}()
	return c.CrawlCategory(ctx, category.URL, opts)
}

func (c *Crawler) fetch(ctx context.Context, target string, opts Options) (FetchResponse, error) {
	resp, err := c.fetcher.Fetch(ctx, FetchRequest{URL: target, BypassCache: opts.BypassCache})
	if err != nil {
		metrics.ObserveFetch(target, "error", 0)
		return FetchResponse{}, fmt.Errorf("fetch %s: %w", target, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		metrics.ObserveFetch(target, "error", len(resp.Body))
		return FetchResponse{}, fmt.Errorf("fetch %s: unexpected status %d", target, resp.StatusCode)
	}
	metrics.ObserveFetch(target, "success", len(resp.Body))
	return resp, nil
}
