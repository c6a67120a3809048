package postgres

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// openTestStore connects to PREDIDX_TEST_POSTGRES_DSN and truncates every
// entity table. Tests are skipped when the variable is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("PREDIDX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PREDIDX_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, client.RunMigrations(ctx))
	_, err = client.Pool().Exec(ctx,
		"TRUNCATE markets, predictions, users, global_stats, raw_events, checkpoints")
	require.NoError(t, err)

	s := NewStore(client)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/idx?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "idx", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMarketRoundTripAndConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := domain.Market{
		ID: "7", MarketID: big.NewInt(7), Creator: "0xaaa", Question: "q?", Category: "sports",
		MarketType: domain.MarketTypeCrowdWisdom, EndTime: big.NewInt(2000), Status: domain.MarketStatusActive,
		YesPool: big.NewInt(0), NoPool: big.NewInt(0), TotalPool: big.NewInt(0), CreatedAt: 1000,
	}
	require.NoError(t, s.Markets().Save(ctx, &m))

	stale := m
	stale.Version = 0
	assert.ErrorIs(t, s.Markets().Save(ctx, &stale), domain.ErrConflict)

	huge, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	m.TotalPool = huge
	m.WinningOutcome = big.NewInt(1)
	require.NoError(t, s.Markets().Save(ctx, &m))

	got, err := s.Markets().Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, 0, huge.Cmp(got.TotalPool))
	assert.Equal(t, domain.MarketTypeCrowdWisdom, got.MarketType)
	assert.Equal(t, int64(1), got.WinningOutcome.Int64())
	assert.Nil(t, got.TotalPayout)
	assert.Equal(t, int64(2), got.Version)

	_, err = s.Markets().Get(ctx, "8")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunInTxRollback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		u := domain.User{ID: "0xbbb", Address: "0xbbb"}
		require.NoError(t, tx.Users().Save(ctx, &u))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = s.Users().Get(ctx, "0xbbb")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatsIncrement(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Stats().Ensure(ctx))
	require.NoError(t, s.Stats().Increment(ctx, domain.StatsDelta{Markets: 1, Volume: big.NewInt(40)}))
	require.NoError(t, s.Stats().Increment(ctx, domain.StatsDelta{Predictions: 2, Volume: big.NewInt(2)}))

	g, err := s.Stats().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), g.TotalMarkets)
	assert.Equal(t, int64(2), g.TotalPredictions)
	assert.Equal(t, "42", g.TotalVolume.String())
}

func TestRawEventsAndCheckpoints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := domain.RawEvent{
		ID:     domain.RawEventID(1, 10, 0),
		Name:   "PredictionMarket_UsernameSet",
		Meta:   domain.EventMeta{ChainID: 1, Contract: "PredictionMarket", BlockNumber: 10, BlockTimestamp: 100},
		Params: map[string]string{"user": "0xaaa", "username": "alice"},
	}
	inserted, err := s.RawEvents().Append(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)
	inserted, err = s.RawEvents().Append(ctx, ev)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.RawEvents().Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	old, err := s.RawEvents().ListBefore(ctx, time.Unix(101, 0), 0)
	require.NoError(t, err)
	assert.Len(t, old, 1)

	require.NoError(t, s.Checkpoints().SaveCheckpoint(ctx, domain.Checkpoint{ChainID: 1, Source: "pm", LastBlock: 25}))
	cp, err := s.Checkpoints().GetCheckpoint(ctx, 1, "pm")
	require.NoError(t, err)
	assert.Equal(t, uint64(25), cp.LastBlock)
}
