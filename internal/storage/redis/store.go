// Package redisstore keeps cache entries in Redis under a key prefix.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/exercise-crawler/internal/cache"
)

// DefaultPrefix namespaces cache keys when Config.Prefix is empty.
const DefaultPrefix = "exercise-crawler:cache:"

const scanBatch = 100

// Config controls the Redis connection and key layout.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// Expiration is applied to every Put so stale entries leave Redis on
	// their own. Zero keeps entries until they are cleared.
	Expiration time.Duration
}

// Store implements cache.Store on top of a go-redis client.
type Store struct {
	client     *redis.Client
	prefix     string
	expiration time.Duration
}

var (
	_ cache.Store   = (*Store)(nil)
	_ cache.Flusher = (*Store)(nil)
)

// New dials Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client *redis.Client, cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		client:     client,
		prefix:     prefix,
		expiration: cfg.Expiration,
	}
}

// Get reads the named entry.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Put replaces the named entry in a single SET.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+name, data, s.expiration).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes the named entry.
func (s *Store) Delete(ctx context.Context, name string) error {
	n, err := s.client.Del(ctx, s.prefix+name).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", cache.ErrNotFound, name)
	}
	return nil
}

// List scans the prefix and returns entry names without it.
func (s *Store) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return names, nil
}

// Flush deletes every key under the prefix in batches.
func (s *Store) Flush(ctx context.Context) (int, error) {
	var (
		batch   []string
		removed int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
