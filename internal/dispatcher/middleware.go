package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/metrics"
)

// Saver persists crawled exercise details.
type Saver interface {
	UpsertCrawled(ctx context.Context, sourceURL string, detail crawler.ExerciseDetail) (int64, error)
}

func status(res crawler.CrawlResult) string {
	if res.Success {
		return "success"
	}
	return "failure"
}

// WithLogging logs every task with its outcome and duration.
func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, task crawler.CrawlTask) crawler.CrawlResult {
			start := time.Now()
			res := next(ctx, task)
			fields := []zap.Field{
				zap.String("task", string(task.Kind)),
				zap.String("url", task.TargetURL),
				zap.Bool("bypass_cache", task.BypassCache),
				zap.Duration("duration", time.Since(start)),
			}
			if !res.Success {
				logger.Warn("crawl task failed", append(fields, zap.String("error", res.Error))...)
				return res
			}
			if res.Count != nil {
				fields = append(fields, zap.Int("count", *res.Count))
			}
			logger.Info("crawl task completed", fields...)
			return res
		}
	}
}

// WithMetrics records task counts and durations.
func WithMetrics() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task crawler.CrawlTask) crawler.CrawlResult {
			start := time.Now()
			res := next(ctx, task)
			metrics.ObserveTask(string(task.Kind), status(res), time.Since(start))
			return res
		}
	}
}

// WithTracing wraps each task in a span so downstream publishers can
// propagate the trace context.
func WithTracing(tracer trace.Tracer) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, task crawler.CrawlTask) crawler.CrawlResult {
			ctx, span := tracer.Start(ctx, "crawl."+string(task.Kind),
				trace.WithAttributes(
					attribute.String("crawl.task", string(task.Kind)),
					attribute.String("crawl.url", task.TargetURL),
					attribute.Bool("crawl.bypass_cache", task.BypassCache),
				),
			)
			defer span.End()

			res := next(ctx, task)
			if !res.Success {
				span.SetStatus(codes.Error, res.Error)
			} else if res.Count != nil {
				span.SetAttributes(attribute.Int("crawl.count", *res.Count))
			}
			return res
		}
	}
}

// WithPersistence upserts successful exercise-page crawls keyed by their
// absolute source URL. Storage errors are logged and never change the crawl
// result.
func WithPersistence(saver Saver, baseURL string, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, task crawler.CrawlTask) crawler.CrawlResult {
			res := next(ctx, task)
			if saver == nil || !res.Success || task.Kind != crawler.TaskExercise {
				return res
			}
			if res.Payload == nil || res.Payload.Details == nil || res.Payload.Details.Name == "" {
				return res
			}
			source := crawler.ResolveURL(baseURL, task.TargetURL)
			if normalized, err := crawler.NormalizeURL(source); err == nil {
				source = normalized
			}
			id, err := saver.UpsertCrawled(ctx, source, *res.Payload.Details)
			if err != nil {
				logger.Error("persist crawled exercise", zap.String("url", source), zap.Error(err))
				return res
			}
			logger.Debug("persisted crawled exercise", zap.String("url", source), zap.Int64("id", id))
			return res
		}
	}
}

// WithPublisher emits one event per completed task. Publish errors are logged.
func WithPublisher(
	publisher crawler.Publisher,
	topic string,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	logger *zap.Logger,
) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, task crawler.CrawlTask) crawler.CrawlResult {
			res := next(ctx, task)
			if publisher == nil || topic == "" {
				return res
			}
			if err := publishResult(ctx, publisher, topic, ids, clock, task, res); err != nil {
				logger.Error("publish crawl event", zap.String("task", string(task.Kind)), zap.Error(err))
			}
			return res
		}
	}
}

func publishResult(
	ctx context.Context,
	publisher crawler.Publisher,
	topic string,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	task crawler.CrawlTask,
	res crawler.CrawlResult,
) error {
	eventID, err := ids.NewID()
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	payload := map[string]any{
		"event_id":  eventID,
		"task":      string(task.Kind),
		"url":       task.TargetURL,
		"success":   res.Success,
		"timestamp": clock.Now().Format(time.RFC3339),
	}
	if res.Count != nil {
		payload["count"] = *res.Count
	}
	if res.Error != "" {
		payload["error"] = res.Error
	}
	if _, err := publisher.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}
