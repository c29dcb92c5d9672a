// Package memcachedstore keeps cache entries in memcached. Memcached cannot
// enumerate keys, so entries live under a generation number and a full clear
// bumps the generation instead of deleting anything.
package memcachedstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/JakeFAU/exercise-crawler/internal/cache"
)

// DefaultPrefix namespaces keys when Config.Prefix is empty.
const DefaultPrefix = "exercise-crawler:"

// maxRelativeExpiration is the longest expiration memcached reads as an
// offset; larger values are taken as absolute Unix times.
const maxRelativeExpiration = 30 * 24 * time.Hour

// ErrListUnsupported is returned by List.
var ErrListUnsupported = errors.New("memcached store cannot list entries")

// Config controls the memcached client.
type Config struct {
	Servers    []string
	Prefix     string
	Expiration time.Duration
	Timeout    time.Duration
}

type client interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Add(item *memcache.Item) error
	Delete(key string) error
	Increment(key string, delta uint64) (uint64, error)
	Ping() error
	Close() error
}

// Store implements cache.Store over gomemcache.
type Store struct {
	client     client
	prefix     string
	expiration time.Duration
	now        func() time.Time
}

var (
	_ cache.Store   = (*Store)(nil)
	_ cache.Flusher = (*Store)(nil)
)

// New connects to the configured servers and pings them.
func New(cfg Config) (*Store, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("memcached.servers is required")
	}
	ss := new(memcache.ServerList)
	if err := ss.SetServers(cfg.Servers...); err != nil {
		return nil, fmt.Errorf("set memcached servers: %w", err)
	}
	mc := memcache.NewFromSelector(ss)
	if cfg.Timeout > 0 {
		mc.Timeout = cfg.Timeout
	}
	if err := mc.Ping(); err != nil {
		return nil, fmt.Errorf("ping memcached: %w", err)
	}
	return newWithClient(mc, cfg), nil
}

func newWithClient(c client, cfg Config) *Store {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		client:     c,
		prefix:     prefix,
		expiration: cfg.Expiration,
		now:        time.Now,
	}
}

// expiry converts the configured lifetime into memcached's Expiration field.
func (s *Store) expiry() int32 {
	if s.expiration <= 0 {
		return 0
	}
	if s.expiration <= maxRelativeExpiration {
		return int32(s.expiration / time.Second)
	}
	return int32(s.now().Add(s.expiration).Unix())
}

// Get reads the named entry in the current generation.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	key, err := s.key(ctx, name)
	if err != nil {
		return nil, err
	}
	item, err := s.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, fmt.Errorf("%w: %s", cache.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("memcached get: %w", err)
	}
	return item.Value, nil
}

// Put replaces the named entry.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	key, err := s.key(ctx, name)
	if err != nil {
		return err
	}
	if err := s.client.Set(&memcache.Item{Key: key, Value: data, Expiration: s.expiry()}); err != nil {
		return fmt.Errorf("memcached set: %w", err)
	}
	return nil
}

// Delete removes the named entry.
func (s *Store) Delete(ctx context.Context, name string) error {
	key, err := s.key(ctx, name)
	if err != nil {
		return err
	}
	err = s.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("%w: %s", cache.ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("memcached delete: %w", err)
	}
	return nil
}

// List always fails; use Flush for a full clear.
func (s *Store) List(context.Context) ([]string, error) {
	return nil, ErrListUnsupported
}

// Flush advances the generation, orphaning every current entry. Orphans
// expire on their own. The removed count is unknown and reported as zero.
func (s *Store) Flush(context.Context) (int, error) {
	if _, err := s.client.Increment(s.generationKey(), 1); err != nil {
		if !errors.Is(err, memcache.ErrCacheMiss) {
			return 0, fmt.Errorf("memcached incr generation: %w", err)
		}
		if err := s.client.Set(&memcache.Item{Key: s.generationKey(), Value: []byte("1")}); err != nil {
			return 0, fmt.Errorf("memcached set generation: %w", err)
		}
	}
	return 0, nil
}

// Ping checks connectivity.
func (s *Store) Ping(context.Context) error {
	if err := s.client.Ping(); err != nil {
		return fmt.Errorf("memcached ping: %w", err)
	}
	return nil
}

// Close releases idle connections.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close memcached: %w", err)
	}
	return nil
}

func (s *Store) generationKey() string {
	return s.prefix + "generation"
}

func (s *Store) generation() (uint64, error) {
	item, err := s.client.Get(s.generationKey())
	if errors.Is(err, memcache.ErrCacheMiss) {
		addErr := s.client.Add(&memcache.Item{Key: s.generationKey(), Value: []byte("0")})
		if addErr != nil && !errors.Is(addErr, memcache.ErrNotStored) {
			return 0, fmt.Errorf("memcached add generation: %w", addErr)
		}
		if errors.Is(addErr, memcache.ErrNotStored) {
			return s.generation()
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("memcached get generation: %w", err)
	}
	gen, err := strconv.ParseUint(string(item.Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse generation %q: %w", item.Value, err)
	}
	return gen, nil
}

func (s *Store) key(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("memcached: %w", err)
	}
	gen, err := s.generation()
	if err != nil {
		return "", err
	}
	return s.prefix + strconv.FormatUint(gen, 10) + ":" + name, nil
}
