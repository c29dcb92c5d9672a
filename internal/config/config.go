// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fetcher modes.
const (
	FetcherColly    = "colly"
	FetcherChromedp = "chromedp"
	// FetcherAuto fetches with colly and re-renders in Chrome when the
	// page looks script-rendered.
	FetcherAuto = "auto"
)

// Cache backends.
const (
	CacheFile      = "file"
	CacheMemory    = "memory"
	CacheRedis     = "redis"
	CacheMemcached = "memcached"
	CacheGCS       = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Parser    ParserConfig    `mapstructure:"parser"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Memcached MemcachedConfig `mapstructure:"memcached"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownGraceSeconds  int `mapstructure:"shutdown_grace_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the crawl pipeline.
type CrawlerConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	CategoryLimit  int     `mapstructure:"category_limit"`
	UserAgent      string  `mapstructure:"user_agent"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// FetcherConfig selects and tunes the page fetcher.
type FetcherConfig struct {
	Mode           string `mapstructure:"mode"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	CacheDir       string `mapstructure:"cache_dir"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int  `mapstructure:"settle_delay_ms"`
	NoSandbox     bool `mapstructure:"no_sandbox"`
	// PromoteBodyBytes is the body size below which a script-heavy page is
	// re-rendered in auto mode.
	PromoteBodyBytes int `mapstructure:"promote_body_bytes"`
}

// ParserConfig holds the link patterns used by the fallback extraction scheme.
type ParserConfig struct {
	CategoryLinkPattern string `mapstructure:"category_link_pattern"`
	ExerciseLinkPattern string `mapstructure:"exercise_link_pattern"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	Backend          string `mapstructure:"backend"`
	Dir              string `mapstructure:"dir"`
	TTLSeconds       int    `mapstructure:"ttl_seconds"`
	Prefix           string `mapstructure:"prefix"`
	CollapseRequests bool   `mapstructure:"collapse_requests"`
}

// RedisConfig locates the redis cache backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MemcachedConfig locates the memcached cache backend.
type MemcachedConfig struct {
	Servers   []string `mapstructure:"servers"`
	TimeoutMs int      `mapstructure:"timeout_ms"`
}

// StorageConfig sets the bucket for blob persistence.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig names the service for traces and selects the trace exporter.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 300)
	v.SetDefault("server.shutdown_grace_seconds", 10)
	v.SetDefault("crawler.base_url", "https://exercises.virtuagym.com")
	v.SetDefault("crawler.category_limit", 5)
	v.SetDefault("crawler.user_agent", "exercise-crawler/0.1")
	v.SetDefault("crawler.rate_limit_rps", 0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("fetcher.mode", FetcherColly)
	v.SetDefault("fetcher.timeout_seconds", 30)
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("headless.promote_body_bytes", 2048)
	v.SetDefault("parser.category_link_pattern", "/exercises/")
	v.SetDefault("parser.exercise_link_pattern", "/exercise/")
	v.SetDefault("cache.backend", CacheFile)
	v.SetDefault("cache.dir", "cache")
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("cache.prefix", "exercise-crawler:cache:")
	v.SetDefault("cache.collapse_requests", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("memcached.servers", []string{"localhost:11211"})
	v.SetDefault("memcached.timeout_ms", 500)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("pubsub.topic_name", "exercise-crawls")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "exercise-crawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if !strings.HasPrefix(c.Crawler.BaseURL, "http") {
		return fmt.Errorf("crawler.base_url must be an http(s) url")
	}
	if c.Crawler.CategoryLimit < 0 {
		return fmt.Errorf("crawler.category_limit must be >= 0")
	}
	if c.Crawler.RateLimitRPS < 0 {
		return fmt.Errorf("crawler.rate_limit_rps must be >= 0")
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	switch c.Fetcher.Mode {
	case FetcherColly:
	case FetcherChromedp, FetcherAuto:
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when fetcher.mode is %s", c.Fetcher.Mode)
		}
	default:
		return fmt.Errorf("fetcher.mode %q is not supported", c.Fetcher.Mode)
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be > 0")
	}
	switch c.Cache.Backend {
	case CacheFile:
		if c.Cache.Dir == "" {
			return fmt.Errorf("cache.dir must be set for the file backend")
		}
	case CacheMemory:
	case CacheRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set for the redis backend")
		}
	case CacheMemcached:
		if len(c.Memcached.Servers) == 0 {
			return fmt.Errorf("memcached.servers must be set for the memcached backend")
		}
	case CacheGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	return nil
}

// CacheTTL returns the cache lifetime as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// FetchTimeout returns the per-request fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetcher.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds a single API request, including any crawl it triggers.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
