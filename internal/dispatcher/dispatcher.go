// Package dispatcher validates crawl requests, routes them to the crawler and
// wraps that routing in an explicit middleware chain. Service layers the
// result cache on top.
package dispatcher

import (
	"context"
	"fmt"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/metrics"
)

// Orchestrator is the crawl surface the dispatcher routes to.
type Orchestrator interface {
	CrawlMainPage(ctx context.Context, opts crawler.Options) crawler.CrawlResult
	CrawlCategory(ctx context.Context, categoryURL string, opts crawler.Options) crawler.CrawlResult
	CrawlExercise(ctx context.Context, exerciseURL string, opts crawler.Options) crawler.CrawlResult
	CrawlAllCategories(ctx context.Context, opts crawler.Options) crawler.CrawlResult
}

// Handler runs one validated task.
type Handler func(ctx context.Context, task crawler.CrawlTask) crawler.CrawlResult

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Dispatcher routes tasks to an Orchestrator through a middleware chain.
type Dispatcher struct {
	orchestrator Orchestrator
	middleware   []Middleware
	handler      Handler
}

// New creates a Dispatcher.
func New(orchestrator Orchestrator, middleware ...Middleware) *Dispatcher {
	d := &Dispatcher{orchestrator: orchestrator}
	d.Use(middleware...)
	return d
}

// Use appends middleware. The first registered middleware is the outermost.
// Use is not safe to call concurrently with Dispatch.
func (d *Dispatcher) Use(middleware ...Middleware) {
	d.middleware = append(d.middleware, middleware...)
	h := Handler(d.route)
	for i := len(d.middleware) - 1; i >= 0; i-- {
		h = d.middleware[i](h)
	}
	d.handler = h
}

// Dispatch validates the task name and url and runs the matching crawl.
// Invalid input fails before any fetch or cache activity.
func (d *Dispatcher) Dispatch(ctx context.Context, task, targetURL string, bypassCache bool) crawler.CrawlResult {
	t, err := crawler.NewTask(task, targetURL, bypassCache)
	if err != nil {
		metrics.ObserveTask("invalid", "rejected", 0)
		return InvalidResult()
	}
	return d.Run(ctx, t)
}

// Run executes an already validated task through the middleware chain.
func (d *Dispatcher) Run(ctx context.Context, task crawler.CrawlTask) crawler.CrawlResult {
	return d.handler(ctx, task)
}

// InvalidResult is the fixed failure returned for rejected tasks.
func InvalidResult() crawler.CrawlResult {
	return crawler.CrawlResult{Success: false, Error: crawler.ErrInvalidTask.Error()}
}

func (d *Dispatcher) route(ctx context.Context, task crawler.CrawlTask) crawler.CrawlResult {
	opts := task.Options()
	switch task.Kind {
	case crawler.TaskMainPage:
		return d.orchestrator.CrawlMainPage(ctx, opts)
	case crawler.TaskCategory:
		return d.orchestrator.CrawlCategory(ctx, task.TargetURL, opts)
	case crawler.TaskExercise:
		return d.orchestrator.CrawlExercise(ctx, task.TargetURL, opts)
	case crawler.TaskAllCategories:
		return d.orchestrator.CrawlAllCategories(ctx, opts)
	default:
		return crawler.Failure(task.TargetURL, fmt.Errorf("%w: unknown task %q", crawler.ErrInvalidTask, task.Kind))
	}
}
