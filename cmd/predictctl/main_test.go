package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictindexer/internal/app"
	"github.com/alanyoungcy/predictindexer/internal/config"
	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/indexer"
)

func seeded(t *testing.T) (*config.Config, *app.Dependencies) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Store.Backend = "memory"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, cleanup, err := app.Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)

	reg := indexer.PredictionMarketRegistry(indexer.NewHandlers(indexer.DefaultOptions(), logger))
	d := indexer.NewDispatcher(deps.Store, reg, indexer.DispatcherConfig{}, nil, logger)
	meta := domain.EventMeta{ChainID: 1, Contract: domain.ContractPredictionMarket, BlockNumber: 7, BlockTimestamp: 70}
	require.NoError(t, d.Dispatch(context.Background(), domain.MarketCreated{
		Meta: meta, MarketID: big.NewInt(9), Creator: "0xC", Question: "snow?", Category: "weather", EndTime: big.NewInt(1),
	}))
	return &cfg, deps
}

func exec(t *testing.T, cfg *config.Config, deps *app.Dependencies, args ...string) (string, error) {
	var out bytes.Buffer
	err := runCommand(context.Background(), cfg, deps, args, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return out.String(), err
}

func TestMarketCommands(t *testing.T) {
	cfg, deps := seeded(t)

	out, err := exec(t, cfg, deps, "market", "9")
	require.NoError(t, err)
	var m domain.Market
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, "snow?", m.Question)

	out, err = exec(t, cfg, deps, "markets", "-category", "weather")
	require.NoError(t, err)
	var ms []domain.Market
	require.NoError(t, json.Unmarshal([]byte(out), &ms))
	assert.Len(t, ms, 1)

	out, err = exec(t, cfg, deps, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"totalMarkets": 1`)

	out, err = exec(t, cfg, deps, "events", "MarketCreated")
	require.NoError(t, err)
	assert.Contains(t, out, "1_7_0")
}

func TestCommandErrors(t *testing.T) {
	cfg, deps := seeded(t)

	_, err := exec(t, cfg, deps, "market", "10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = exec(t, cfg, deps, "market")
	require.Error(t, err)

	_, err = exec(t, cfg, deps, "bogus")
	require.Error(t, err)

	_, err = exec(t, cfg, deps, "replay")
	require.Error(t, err)
}
