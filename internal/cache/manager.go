// Package cache stores crawl results under hashed names with a single TTL per
// manager. Reads never fail: storage problems, corrupt documents and stale
// entries all surface as misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/exercise-crawler/internal/crawler"
	"github.com/JakeFAU/exercise-crawler/internal/hash/sha256"
	"github.com/JakeFAU/exercise-crawler/internal/metrics"
)

// DefaultTTL is used when Config.TTL is zero.
const DefaultTTL = time.Hour

const nameSuffix = ".json"

// Config controls Manager behavior.
type Config struct {
	TTL time.Duration
}

// Manager maps logical cache keys to timestamped crawl results.
type Manager struct {
	store  Store
	ttl    time.Duration
	clock  crawler.Clock
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New builds a Manager over store.
func New(store Store, cfg Config, clock crawler.Clock, logger *zap.Logger) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		ttl:    cfg.TTL,
		clock:  clock,
		hasher: sha256.New(),
		logger: logger,
	}
}

// TTL returns the freshness window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// StorageName derives the storage name for key.
func (m *Manager) StorageName(key string) string {
	return m.hasher.Sum(key) + nameSuffix
}

// Get returns the cached result for key if a fresh entry exists.
func (m *Manager) Get(ctx context.Context, key string) (crawler.CrawlResult, bool) {
	name := m.StorageName(key)
	data, err := m.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.ObserveCacheLookup("miss")
			return crawler.CrawlResult{}, false
		}
		m.logger.Error("read cache entry", zap.String("key", key), zap.String("name", name), zap.Error(err))
		metrics.ObserveCacheLookup("error")
		return crawler.CrawlResult{}, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		m.logger.Error("decode cache entry", zap.String("key", key), zap.String("name", name), zap.Error(err))
		metrics.ObserveCacheLookup("error")
		return crawler.CrawlResult{}, false
	}
	if entry.Key != "" && entry.Key != key {
		m.logger.Warn("cache name collision", zap.String("key", key), zap.String("stored_key", entry.Key))
		metrics.ObserveCacheLookup("miss")
		return crawler.CrawlResult{}, false
	}
	if entry.Expired(m.clock.Now(), m.ttl) {
		m.logger.Debug("cache expired", zap.String("key", key))
		metrics.ObserveCacheLookup("expired")
		return crawler.CrawlResult{}, false
	}

	m.logger.Debug("cache hit", zap.String("key", key))
	metrics.ObserveCacheLookup("hit")
	return entry.Data, true
}

// Set replaces the entry for key with result stamped at the current time.
// It reports whether the write succeeded.
func (m *Manager) Set(ctx context.Context, key string, result crawler.CrawlResult) bool {
	entry := Entry{
		Key:      key,
		StoredAt: EpochSeconds(m.clock.Now()),
		Data:     result,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		m.logger.Error("encode cache entry", zap.String("key", key), zap.Error(err))
		metrics.ObserveCacheWrite("failure")
		return false
	}
	if err := m.store.Put(ctx, m.StorageName(key), data); err != nil {
		m.logger.Error("write cache entry", zap.String("key", key), zap.Error(err))
		metrics.ObserveCacheWrite("failure")
		return false
	}
	m.logger.Debug("cached result", zap.String("key", key))
	metrics.ObserveCacheWrite("success")
	return true
}

// Clear removes the entry for key, or every entry when key is empty.
// Removing a key that is not cached succeeds.
func (m *Manager) Clear(ctx context.Context, key string) bool {
	if key == "" {
		return m.clearAll(ctx)
	}
	if err := m.store.Delete(ctx, m.StorageName(key)); err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Error("clear cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	m.logger.Debug("cleared cache", zap.String("key", key))
	return true
}

func (m *Manager) clearAll(ctx context.Context) bool {
	if f, ok := m.store.(Flusher); ok {
		n, err := f.Flush(ctx)
		if err != nil {
			m.logger.Error("flush cache", zap.Error(err))
			return false
		}
		m.logger.Info("cleared all cache", zap.Int("entries", n))
		return true
	}

	names, err := m.store.List(ctx)
	if err != nil {
		m.logger.Error("list cache entries", zap.Error(err))
		return false
	}
	removed := 0
	for _, name := range names {
		if !strings.HasSuffix(name, nameSuffix) {
			continue
		}
		if err := m.store.Delete(ctx, name); err != nil && !errors.Is(err, ErrNotFound) {
			m.logger.Error("clear cache entry", zap.String("name", name), zap.Error(err))
			return false
		}
		removed++
	}
	m.logger.Info("cleared all cache", zap.Int("entries", removed))
	return true
}
