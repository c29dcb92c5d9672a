package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/exercise-crawler/internal/cache"
)

func newTestStore(t *testing.T, cfg Config) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, cfg), mr
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr := newTestStore(t, Config{})

	require.NoError(t, store.Put(ctx, "abc.json", []byte(`{"v":1}`)))
	assert.True(t, mr.Exists(DefaultPrefix+"abc.json"))

	got, err := store.Get(ctx, "abc.json")
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(got))

	require.NoError(t, store.Delete(ctx, "abc.json"))
	_, err = store.Get(ctx, "abc.json")
	require.ErrorIs(t, err, cache.ErrNotFound)
	require.ErrorIs(t, store.Delete(ctx, "abc.json"), cache.ErrNotFound)
}

func TestStoreExpiration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr := newTestStore(t, Config{Prefix: "t:", Expiration: time.Minute})

	require.NoError(t, store.Put(ctx, "a.json", []byte("{}")))
	assert.Equal(t, time.Minute, mr.TTL("t:a.json"))

	mr.FastForward(2 * time.Minute)
	_, err := store.Get(ctx, "a.json")
	require.ErrorIs(t, err, cache.ErrNotFound)
}

func TestStoreListAndFlushStayInPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, mr := newTestStore(t, Config{Prefix: "ns:"})
	require.NoError(t, mr.Set("other:keep", "1"))

	for _, name := range []string{"a.json", "b.json", "c.json"} {
		require.NoError(t, store.Put(ctx, name, []byte("{}")))
	}

	names, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.json", "b.json", "c.json"}, names)

	n, err := store.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, mr.Exists("other:keep"))

	names, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestNewPings(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	store, err := New(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, store.Close())
}
