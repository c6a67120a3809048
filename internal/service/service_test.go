package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/indexer"
	"github.com/alanyoungcy/predictindexer/internal/store/kv"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// memCache is an EntityCache over maps that records invalidations.
type memCache struct {
	mu          sync.Mutex
	markets     map[string]domain.Market
	users       map[string]domain.User
	stats       *domain.GlobalStats
	invalidated []string
	readErr     error
}

func newMemCache() *memCache {
	return &memCache{markets: map[string]domain.Market{}, users: map[string]domain.User{}}
}

func (c *memCache) SetMarket(_ context.Context, m domain.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets[m.ID] = m
	return nil
}

func (c *memCache) GetMarket(_ context.Context, id string) (domain.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return domain.Market{}, c.readErr
	}
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memCache) InvalidateMarket(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.markets, id)
	c.invalidated = append(c.invalidated, "market:"+id)
	return nil
}

func (c *memCache) SetUser(_ context.Context, u domain.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = u
	return nil
}

func (c *memCache) GetUser(_ context.Context, id string) (domain.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (c *memCache) InvalidateUser(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, id)
	c.invalidated = append(c.invalidated, "user:"+id)
	return nil
}

func (c *memCache) SetStats(_ context.Context, s domain.GlobalStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = &s
	return nil
}

func (c *memCache) GetStats(context.Context) (domain.GlobalStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stats == nil {
		return domain.GlobalStats{}, domain.ErrNotFound
	}
	return *c.stats, nil
}

func (c *memCache) InvalidateStats(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = nil
	c.invalidated = append(c.invalidated, "stats")
	return nil
}

type published struct {
	channel string
	payload []byte
}

type memBus struct {
	mu      sync.Mutex
	pubs    []published
	streams map[string][][]byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, published{channel, payload})
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams == nil {
		b.streams = map[string][][]byte{}
	}
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, p := range b.pubs {
		out = append(out, p.channel)
	}
	return out
}

type memNotifier struct{ resolved []string }

func (n *memNotifier) MarketResolved(_ context.Context, m domain.Market) error {
	n.resolved = append(n.resolved, m.ID)
	return nil
}

type env struct {
	store    *kv.Store
	cache    *memCache
	bus      *memBus
	notifier *memNotifier
	d        *indexer.Dispatcher
	q        *QueryService
	block    uint64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := kv.NewMemory()
	t.Cleanup(func() { _ = s.Close() })
	e := &env{store: s, cache: newMemCache(), bus: &memBus{}, notifier: &memNotifier{}}
	pub := NewUpdatePublisher(PublisherDeps{Cache: e.cache, Bus: e.bus, Notifier: e.notifier}, quiet())
	reg := indexer.PredictionMarketRegistry(indexer.NewHandlers(indexer.DefaultOptions(), quiet()))
	e.d = indexer.NewDispatcher(s, reg, indexer.DispatcherConfig{ConflictRetries: 2}, nil, quiet(), pub)
	e.q = NewQueryService(s, e.cache, quiet())
	require.NoError(t, indexer.EnsureGlobalStats(context.Background(), s.Stats()))
	return e
}

func (e *env) meta() domain.EventMeta {
	e.block++
	return domain.EventMeta{
		ChainID: 1, Contract: domain.ContractPredictionMarket,
		BlockNumber: e.block, BlockTimestamp: 1700000000 + int64(e.block),
	}
}

func (e *env) run(t *testing.T, ev domain.Event) {
	t.Helper()
	require.NoError(t, e.d.Dispatch(context.Background(), ev))
}

func (e *env) seed(t *testing.T) {
	e.run(t, domain.MarketCreated{
		Meta: e.meta(), MarketID: big.NewInt(1), Creator: "0xAAA", Question: "Q?",
		Category: "sports", EndTime: big.NewInt(2000000000),
	})
	e.run(t, domain.PredictionMade{
		Meta: e.meta(), MarketID: big.NewInt(1), User: "0xBBB",
		Side: 1, OutcomeIndex: big.NewInt(0), Amount: big.NewInt(100),
	})
}

func TestQueryServiceReadThroughCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seed(t)

	m, err := e.q.GetMarket(ctx, "01")
	require.NoError(t, err)
	assert.Equal(t, "1", m.ID)
	assert.Contains(t, e.cache.markets, "1")

	// A cached copy is served even if it differs from the store.
	stale := m
	stale.Question = "cached"
	require.NoError(t, e.cache.SetMarket(ctx, stale))
	m, err = e.q.GetMarket(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "cached", m.Question)

	u, err := e.q.GetUser(ctx, "0xBBB")
	require.NoError(t, err)
	assert.Equal(t, "100", u.TotalStaked.String())

	g, err := e.q.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), g.TotalPredictions)
}

func TestQueryServiceCacheErrorFallsBackToStore(t *testing.T) {
	e := newEnv(t)
	e.seed(t)
	e.cache.readErr = errors.New("redis down")

	m, err := e.q.GetMarket(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "Q?", m.Question)
}

func TestQueryServiceErrors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.q.GetMarket(ctx, "abc")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = e.q.GetMarket(ctx, "9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = e.q.Leaderboard(ctx, "volume", domain.ListOpts{})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestQueryServiceListings(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seed(t)

	preds, err := e.q.MarketPredictions(ctx, "1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, preds, 1)

	p, err := e.q.GetPrediction(ctx, preds[0].ID)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), p.Side)

	preds, err = e.q.UserPredictions(ctx, "0xbbb", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, preds, 1)

	evs, err := e.q.ListEvents(ctx, "MarketCreated", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	ev, err := e.q.GetEvent(ctx, evs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "PredictionMarket_MarketCreated", ev.Name)

	board, err := e.q.Leaderboard(ctx, "", domain.ListOpts{Limit: 5})
	require.NoError(t, err)
	assert.Len(t, board, 1)
}

func TestUpdatePublisherAfterCommit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.seed(t)

	// Warm the cache so invalidation is observable.
	_, err := e.q.GetMarket(ctx, "1")
	require.NoError(t, err)

	e.run(t, domain.MarketResolved{
		Meta: e.meta(), MarketID: big.NewInt(1), WinningOutcome: big.NewInt(1),
		WinningOutcomeIndex: big.NewInt(0), TotalPayout: big.NewInt(100),
	})

	assert.NotContains(t, e.cache.markets, "1")
	assert.Contains(t, e.cache.invalidated, "stats")
	assert.Equal(t, []string{"1"}, e.notifier.resolved)
	assert.Contains(t, e.bus.channels(), domain.ChannelMarket)
	assert.Contains(t, e.bus.channels(), domain.ChannelEvent)
	assert.Len(t, e.bus.streams[domain.StreamRawEvents], 3)

	var upd Update
	for _, p := range e.bus.pubs {
		if p.channel == domain.ChannelMarket {
			require.NoError(t, json.Unmarshal(p.payload, &upd))
		}
	}
	assert.Equal(t, Update{Kind: "market", ID: "1", Event: domain.EventMarketResolved, Block: 3}, upd)
}

type memBroadcaster struct{ channels []string }

func (b *memBroadcaster) Broadcast(channel string, _ []byte) { b.channels = append(b.channels, channel) }

func TestUpdatePublisherLocalBroadcastWithoutBus(t *testing.T) {
	local := &memBroadcaster{}
	pub := NewUpdatePublisher(PublisherDeps{Local: local}, quiet())
	raw := domain.RawEvent{ID: "1_1_0"}
	pub.Committed(context.Background(), domain.UsernameSet{Meta: domain.EventMeta{BlockNumber: 1}}, indexer.Changes{
		Users: []string{"0xaaa"},
		Raw:   &raw,
	})
	assert.Equal(t, []string{domain.ChannelUser, domain.ChannelEvent}, local.channels)
}

func TestMirrorFor(t *testing.T) {
	assert.Equal(t, "PredictionMarket_UsernameSet", MirrorFor("UsernameSet"))
	assert.Equal(t, "Other_X", MirrorFor("Other_X"))
}
