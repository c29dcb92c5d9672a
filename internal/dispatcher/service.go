package dispatcher

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
)

// Cache is the result cache consulted by Service.
type Cache interface {
	Get(ctx context.Context, key string) (crawler.CrawlResult, bool)
	Set(ctx context.Context, key string, result crawler.CrawlResult) bool
	Clear(ctx context.Context, key string) bool
}

// Request is the cache-aware crawl input.
type Request struct {
	Task string `json:"task"`
	URL  string `json:"url,omitempty"`
	// UseCache defaults to true when nil.
	UseCache *bool `json:"use_cache,omitempty"`
}

// Response wraps a crawl result with its provenance.
type Response struct {
	Success   bool                `json:"success"`
	FromCache bool                `json:"from_cache"`
	Result    crawler.CrawlResult `json:"result"`
}

// ClearResponse reports a cache clear outcome.
type ClearResponse struct {
	Success bool `json:"success"`
}

// ServiceConfig tunes Service.
type ServiceConfig struct {
	// CollapseRequests shares one crawl among concurrent identical
	// cache-enabled requests.
	CollapseRequests bool
	// SharedTimeout bounds a collapsed crawl, which outlives the caller that
	// started it. Zero means DefaultSharedTimeout.
	SharedTimeout time.Duration
}

// DefaultSharedTimeout bounds collapsed crawls when ServiceConfig.SharedTimeout is zero.
const DefaultSharedTimeout = 5 * time.Minute

// Service is the cache-aware crawl entrypoint.
type Service struct {
	dispatcher *Dispatcher
	cache      Cache
	cfg        ServiceConfig
	group      singleflight.Group
	logger     *zap.Logger
}

// NewService builds a Service. A nil cache disables caching.
func NewService(d *Dispatcher, c Cache, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SharedTimeout <= 0 {
		cfg.SharedTimeout = DefaultSharedTimeout
	}
	return &Service{
		dispatcher: d,
		cache:      c,
		cfg:        cfg,
		logger:     logger,
	}
}

// CacheKey derives the logical cache key for a task and url.
func CacheKey(task, targetURL string) string {
	if targetURL == "" {
		return task
	}
	return task + ":" + targetURL
}

// Crawl serves req from cache when possible, otherwise dispatches it and
// caches a successful result.
func (s *Service) Crawl(ctx context.Context, req Request) Response {
	name := strings.TrimSpace(req.Task)
	if name == "" {
		name = string(crawler.TaskMainPage)
	}
	useCache := req.UseCache == nil || *req.UseCache

	task, err := crawler.NewTask(name, req.URL, !useCache)
	if err != nil {
		s.logger.Info("rejected crawl request", zap.String("task", req.Task), zap.String("url", req.URL))
		return Response{Result: InvalidResult()}
	}

	key := CacheKey(string(task.Kind), task.TargetURL)
	cacheable := useCache && s.cache != nil
	if cacheable {
		if cached, ok := s.cache.Get(ctx, key); ok {
			return Response{Success: cached.Success, FromCache: true, Result: cached}
		}
	}

	run := func(ctx context.Context) crawler.CrawlResult {
		res := s.dispatcher.Run(ctx, task)
		if cacheable && res.Success {
			if !s.cache.Set(ctx, key, res) {
				s.logger.Warn("cache write failed", zap.String("key", key))
			}
		}
		return res
	}

	var res crawler.CrawlResult
	if cacheable && s.cfg.CollapseRequests {
		res = s.collapsed(ctx, key, task, run)
	} else {
		res = run(ctx)
	}
	return Response{Success: res.Success, FromCache: false, Result: res}
}

// collapsed shares one crawl among concurrent callers of key. The shared
// crawl runs detached from any single caller so one canceled request does not
// fail the others; a canceled caller stops waiting and gets its own failure.
func (s *Service) collapsed(
	ctx context.Context,
	key string,
	task crawler.CrawlTask,
	run func(context.Context) crawler.CrawlResult,
) crawler.CrawlResult {
	ch := s.group.DoChan(key, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SharedTimeout)
		defer cancel()
		return run(shared), nil
	})
	select {
	case r := <-ch:
		if r.Shared {
			s.logger.Debug("collapsed concurrent crawl", zap.String("key", key))
		}
		return r.Val.(crawler.CrawlResult)
	case <-ctx.Done():
		s.logger.Info("caller left collapsed crawl", zap.String("key", key), zap.Error(ctx.Err()))
		return crawler.Failure(task.TargetURL, ctx.Err())
	}
}

// ClearCache removes one key, or every key when key is empty.
func (s *Service) ClearCache(ctx context.Context, key string) ClearResponse {
	if s.cache == nil {
		return ClearResponse{Success: true}
	}
	return ClearResponse{Success: s.cache.Clear(ctx, key)}
}
