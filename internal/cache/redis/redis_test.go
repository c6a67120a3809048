package redis

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("PREDIDX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PREDIDX_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, DB: 15})
	require.NoError(t, err)
	require.NoError(t, c.Underlying().FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestStreamMessagesSkipsForeignEntries(t *testing.T) {
	msgs := streamMessages([]goredis.XMessage{
		{ID: "1-0", Values: map[string]any{"payload": "a"}},
		{ID: "2-0", Values: map[string]any{"other": "b"}},
		{ID: "3-0", Values: map[string]any{"payload": []byte("c")}},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "1-0", msgs[0].ID)
	assert.Equal(t, []byte("c"), msgs[1].Payload)
}

func TestEntityCacheRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	cache := NewEntityCache(c, time.Minute)

	_, err := cache.GetMarket(ctx, "1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	m := domain.Market{ID: "1", MarketID: big.NewInt(1), TotalPool: big.NewInt(100), Status: domain.MarketStatusActive}
	require.NoError(t, cache.SetMarket(ctx, m))
	got, err := cache.GetMarket(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "100", got.TotalPool.String())

	require.NoError(t, cache.InvalidateMarket(ctx, "1"))
	_, err = cache.GetMarket(ctx, "1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, cache.SetStats(ctx, domain.GlobalStats{ID: domain.GlobalStatsID, TotalMarkets: 3}))
	s, err := cache.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.TotalMarkets)
}

func TestLockManager(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	lm := NewLockManager(c)

	unlock, err := lm.Acquire(ctx, "leader", time.Second)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "leader", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	unlock()
	unlock()

	release, lost, err := lm.Hold(ctx, "leader", 300*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(500 * time.Millisecond)
	select {
	case <-lost:
		t.Fatal("held lock reported lost")
	default:
	}
	_, err = lm.Acquire(ctx, "leader", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	release()

	unlock, err = lm.Acquire(ctx, "leader", time.Second)
	require.NoError(t, err)
	unlock()
}

func TestRateLimiterWindow(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	rl := NewRateLimiter(c)

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := rl.Allow(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBusStream(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	bus := NewSignalBus(c, 100)

	msgs, err := bus.StreamRead(ctx, domain.StreamRawEvents, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, domain.StreamRawEvents, []byte(`{"id":"1_1_0"}`)))
	msgs, err = bus.StreamRead(ctx, domain.StreamRawEvents, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"id":"1_1_0"}`, string(msgs[0].Payload))
}
