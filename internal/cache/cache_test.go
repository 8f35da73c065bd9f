package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedClient struct {
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
}

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache[cachedClient]()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "c1", cachedClient{ClientID: "c1"}, time.Minute))

	v, err := c.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", v.ClientID)
}

func TestMemoryCache_GetMiss(t *testing.T) {
	c := NewMemoryCache[int64]()

	_, err := c.Get(context.Background(), "non-existent")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Expiration(t *testing.T) {
	c := NewMemoryCache[int64]()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "expire-key", 100, 50*time.Millisecond))

	v, err := c.Get(ctx, "expire-key")
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)

	time.Sleep(100 * time.Millisecond)

	_, err = c.Get(ctx, "expire-key")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache[int64]()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", 1, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	require.NoError(t, c.Delete(ctx, "never-set"))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_GetWithFetch(t *testing.T) {
	c := NewMemoryCache[cachedClient]()
	ctx := context.Background()
	var calls atomic.Int32

	fetch := func(ctx context.Context, key string) (cachedClient, error) {
		calls.Add(1)
		return cachedClient{ClientID: key}, nil
	}

	for range 3 {
		v, err := c.GetWithFetch(ctx, "dwh.spa", time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, "dwh.spa", v.ClientID)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestMemoryCache_GetWithFetchErrorNotCached(t *testing.T) {
	c := NewMemoryCache[cachedClient]()
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := c.GetWithFetch(ctx, "k", time.Minute, func(context.Context, string) (cachedClient, error) {
		return cachedClient{}, boom
	})
	require.ErrorIs(t, err, boom)

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_SweepsExpiredOnSet(t *testing.T) {
	c := NewMemoryCache[int64]()
	ctx := context.Background()

	for i := range sweepThreshold {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), 1, time.Nanosecond))
	}
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "live", 1, time.Minute))

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Len(t, c.items, 1)
}

func newTestRueidisCache(t *testing.T) *RueidisCache[cachedClient] {
	t.Helper()
	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	if err != nil {
		t.Skipf("rueidis could not talk to miniredis: %v", err)
	}
	t.Cleanup(client.Close)

	return NewRueidisCacheWithClient[cachedClient](client, "test:")
}

func TestRueidisCache_RoundTrip(t *testing.T) {
	c := newTestRueidisCache(t)
	ctx := context.Background()

	want := cachedClient{ClientID: "adhoc-client", Scopes: []string{"openid", "apiApp"}}
	require.NoError(t, c.Set(ctx, "adhoc-client", want, time.Minute))

	got, err := c.Get(ctx, "adhoc-client")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, c.Delete(ctx, "adhoc-client"))
	_, err = c.Get(ctx, "adhoc-client")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, c.Health(ctx))
}
