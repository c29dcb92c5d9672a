// Package app builds and owns every long-lived handle of the exercise
// crawler: fetcher, cache, orchestrator, dispatcher, exercise store,
// publisher, telemetry and HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/exercise-crawler/internal/api"
	"github.com/JakeFAU/exercise-crawler/internal/cache"
	"github.com/JakeFAU/exercise-crawler/internal/clock/system"
	"github.com/JakeFAU/exercise-crawler/internal/config"
	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/dispatcher"
	"github.com/JakeFAU/exercise-crawler/internal/id/uuid"
	"github.com/JakeFAU/exercise-crawler/internal/logging"
	"github.com/JakeFAU/exercise-crawler/internal/parser"
	"github.com/JakeFAU/exercise-crawler/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/exercise-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/exercise-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/exercise-crawler/internal/storage/local"
	memcachedstore "github.com/JakeFAU/exercise-crawler/internal/storage/memcached"
	memorystorage "github.com/JakeFAU/exercise-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/exercise-crawler/internal/storage/postgres"
	redisstore "github.com/JakeFAU/exercise-crawler/internal/storage/redis"
	"github.com/JakeFAU/exercise-crawler/internal/store"
	"github.com/JakeFAU/exercise-crawler/internal/telemetry"
)

// App holds the assembled services.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	fetcher    crawler.Fetcher
	crawler    *crawler.Crawler
	cache      *cache.Manager
	dispatcher *dispatcher.Dispatcher
	service    *dispatcher.Service
	repo       store.Repository
	publisher  crawler.Publisher
	apiServer  *api.Server
	telemetry  *telemetry.Providers

	// closers run in reverse order on Close.
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func(context.Context) error
}

type options struct {
	fetcher    crawler.Fetcher
	repo       store.Repository
	publisher  crawler.Publisher
	registerer prometheus.Registerer
}

// Option overrides a dependency New would otherwise build from config.
type Option func(*options)

// WithFetcher replaces the configured fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithRepository replaces the Postgres exercise store.
func WithRepository(r store.Repository) Option {
	return func(o *options) { o.repo = r }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRegisterer sets where the OpenTelemetry metric bridge registers.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registerer = r }
}

// Build creates the logger from cfg and then the App.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return New(ctx, cfg, logger)
}

// New assembles every component. On error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger}

	if err := a.build(ctx, o); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	providers, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: a.cfg.Telemetry.ServiceName,
		ProjectID:   a.cfg.Telemetry.ProjectID,
		Registerer:  o.registerer,
	})
	if err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}
	a.telemetry = providers
	a.onClose("telemetry", providers.Shutdown)

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher, err = a.buildFetcher()
		if err != nil {
			return err
		}
	}
	a.fetcher = ratelimit.Wrap(fetcher, ratelimit.New(ratelimit.Config{
		RPS:   a.cfg.Crawler.RateLimitRPS,
		Burst: a.cfg.Crawler.RateLimitBurst,
	}))

	cacheStore, err := a.buildCacheStore(ctx)
	if err != nil {
		return err
	}
	a.cache = cache.New(cacheStore, cache.Config{TTL: a.cfg.CacheTTL()}, system.New(), a.logger.Named("cache"))

	if err := a.setupRepository(ctx, o.repo); err != nil {
		return err
	}
	if err := a.setupPublisher(ctx, o.publisher); err != nil {
		return err
	}

	p := parser.New(parser.Config{
		CategoryLinkPattern: a.cfg.Parser.CategoryLinkPattern,
		ExerciseLinkPattern: a.cfg.Parser.ExerciseLinkPattern,
	}, a.logger.Named("parser"))
	a.crawler = crawler.New(crawler.Config{
		BaseURL:       a.cfg.Crawler.BaseURL,
		CategoryLimit: a.cfg.Crawler.CategoryLimit,
	}, a.fetcher, p, a.logger.Named("crawler"))

	a.dispatcher = dispatcher.New(a.crawler,
		dispatcher.WithTracing(telemetry.Tracer()),
		dispatcher.WithLogging(a.logger.Named("dispatcher")),
		dispatcher.WithMetrics(),
	)
	if a.repo != nil {
		a.dispatcher.Use(dispatcher.WithPersistence(a.repo, a.crawler.BaseURL(), a.logger.Named("persistence")))
	}
	if a.publisher != nil {
		a.dispatcher.Use(dispatcher.WithPublisher(
			a.publisher,
			a.cfg.PubSub.TopicName,
			uuid.New(),
			system.New(),
			a.logger.Named("publisher"),
		))
	}

	a.service = dispatcher.NewService(a.dispatcher, a.cache, dispatcher.ServiceConfig{
		CollapseRequests: a.cfg.Cache.CollapseRequests,
		SharedTimeout:    a.cfg.RequestTimeout(),
	}, a.logger.Named("service"))
	a.apiServer = api.NewServer(a.service, a.repo, a.cfg, a.logger.Named("api"))

	a.logger.Info("application built",
		zap.String("base_url", a.crawler.BaseURL()),
		zap.String("fetcher", a.cfg.Fetcher.Mode),
		zap.String("cache_backend", a.cfg.Cache.Backend),
		zap.Bool("store", a.repo != nil),
		zap.Bool("publisher", a.publisher != nil),
	)
	return nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

func (a *App) onCloseIO(name string, c io.Closer) {
	a.onClose(name, func(context.Context) error { return c.Close() })
}

func (a *App) buildCacheStore(ctx context.Context) (cache.Store, error) {
	cfg := a.cfg
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		a.logger.Info("using in-memory cache backend")
		return memorystorage.New(), nil
	case config.CacheRedis:
		a.logger.Info("using redis cache backend", zap.String("addr", cfg.Redis.Addr))
		s, err := redisstore.New(ctx, redisstore.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Prefix:     cfg.Cache.Prefix,
			Expiration: backendExpiration(cfg.CacheTTL()),
		})
		if err != nil {
			return nil, fmt.Errorf("redis cache init failed: %w", err)
		}
		a.onCloseIO("redis", s)
		return s, nil
	case config.CacheMemcached:
		a.logger.Info("using memcached cache backend", zap.Strings("servers", cfg.Memcached.Servers))
		s, err := memcachedstore.New(memcachedstore.Config{
			Servers:    cfg.Memcached.Servers,
			Prefix:     cfg.Cache.Prefix,
			Expiration: backendExpiration(cfg.CacheTTL()),
			Timeout:    time.Duration(cfg.Memcached.TimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("memcached cache init failed: %w", err)
		}
		a.onCloseIO("memcached", s)
		return s, nil
	case config.CacheGCS:
		a.logger.Info("using GCS cache backend", zap.String("bucket", cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		s, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket, Prefix: "cache"})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs cache init failed: %w", err)
		}
		a.onCloseIO("gcs", s)
		return s, nil
	default:
		a.logger.Info("using file cache backend", zap.String("dir", cfg.Cache.Dir))
		s, err := localstorage.New(localstorage.Config{BaseDir: cfg.Cache.Dir})
		if err != nil {
			return nil, fmt.Errorf("file cache init failed: %w", err)
		}
		return s, nil
	}
}

// backendExpiration is how long self-expiring backends keep an entry. It
// outlives the cache TTL so the Manager, not the backend, decides freshness.
func backendExpiration(ttl time.Duration) time.Duration {
	return 2 * ttl
}

func (a *App) setupRepository(ctx context.Context, injected store.Repository) error {
	if injected != nil {
		a.repo = injected
		return nil
	}
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, exercise store disabled")
		return nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
		MinConns: a.cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("exercise store init failed: %w", err)
	}
	a.onClose("postgres", func(context.Context) error {
		pg.Close()
		return nil
	})
	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("exercise store schema failed: %w", err)
	}
	a.repo = pg
	return nil
}

func (a *App) setupPublisher(ctx context.Context, injected crawler.Publisher) error {
	if injected != nil {
		a.publisher = injected
		return nil
	}
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no pubsub project configured, crawl events disabled")
		return nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.onCloseIO("pubsub", pub)
	a.publisher = pub
	return nil
}

// Service returns the cache-aware crawl entrypoint.
func (a *App) Service() *dispatcher.Service {
	return a.service
}

// Dispatcher returns the task dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Cache returns the result cache.
func (a *App) Cache() *cache.Manager {
	return a.cache
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves the HTTP API until ctx is canceled or SIGINT/SIGTERM arrives,
// then shuts down gracefully and closes every handle.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	grace := time.Duration(a.cfg.Server.ShutdownGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close releases every handle in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// Crawl runs one cache-aware crawl request.
func (a *App) Crawl(ctx context.Context, req dispatcher.Request) dispatcher.Response {
	return a.service.Crawl(ctx, req)
}

// ClearCache removes key from the result cache, or everything when key is empty.
func (a *App) ClearCache(ctx context.Context, key string) dispatcher.ClearResponse {
	return a.service.ClearCache(ctx, key)
}
