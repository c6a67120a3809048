package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/predictindexer/internal/blob/s3"
	"github.com/alanyoungcy/predictindexer/internal/config"
	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/indexer"
	"github.com/alanyoungcy/predictindexer/internal/store/kv"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memBlobs struct {
	mu   sync.Mutex
	objs map[string][]byte
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[path] = b
	return nil
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objs[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Store.Backend = "memory"
	return &cfg
}

func TestWireMemoryBackend(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), quiet())
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, deps.Store)
	require.NotNil(t, deps.Metrics)
	require.NotNil(t, deps.Notifier)
	assert.Nil(t, deps.Cache)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.BlobReader)
	assert.False(t, deps.Notifier.Enabled("market_resolved"))

	stats, err := deps.Store.Stats().Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.GlobalStatsID, stats.ID)
}

func TestWireLevelDBBackend(t *testing.T) {
	cfg := config.Defaults()
	cfg.Store.LevelDBPath = filepath.Join(t.TempDir(), "db")
	cfg.Notify.DiscordWebhookURL = "http://127.0.0.1:1/hook"

	deps, cleanup, err := Wire(context.Background(), &cfg, quiet())
	require.NoError(t, err)
	defer cleanup()
	assert.True(t, deps.Notifier.Enabled("indexer_error"))
}

func TestWireUnknownBackend(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Backend = "cassandra"
	_, _, err := Wire(context.Background(), cfg, quiet())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestReplayModeRebuildsArchivedState(t *testing.T) {
	ctx := context.Background()

	// Index into a source store, archive it, then replay into a fresh one.
	source := kv.NewMemory()
	defer source.Close()
	reg := indexer.PredictionMarketRegistry(indexer.NewHandlers(indexer.DefaultOptions(), quiet()))
	d := indexer.NewDispatcher(source, reg, indexer.DispatcherConfig{}, nil, quiet())
	meta := func(block uint64) domain.EventMeta {
		return domain.EventMeta{
			ChainID:        1,
			Contract:       domain.ContractPredictionMarket,
			BlockNumber:    block,
			BlockTimestamp: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC).Unix() + int64(block),
		}
	}
	for _, ev := range []domain.Event{
		domain.MarketCreated{Meta: meta(1), MarketID: big.NewInt(1), Creator: "0xC", Question: "rain?", EndTime: big.NewInt(100)},
		domain.PredictionMade{Meta: meta(2), MarketID: big.NewInt(1), User: "0xU", Side: 1, OutcomeIndex: big.NewInt(0), Amount: big.NewInt(40)},
		domain.MarketResolved{Meta: meta(3), MarketID: big.NewInt(1), WinningOutcome: big.NewInt(1), WinningOutcomeIndex: big.NewInt(0), TotalPayout: big.NewInt(40)},
	} {
		require.NoError(t, d.Dispatch(ctx, ev))
	}

	blobs := &memBlobs{objs: make(map[string][]byte)}
	n, err := s3blob.NewArchiver(blobs, source.RawEvents(), quiet()).ArchiveRawEvents(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	deps, cleanup, err := Wire(ctx, memoryConfig(), quiet())
	require.NoError(t, err)
	defer cleanup()
	deps.BlobReader = blobs

	a := New(memoryConfig(), quiet())
	res, err := a.ReplayMode(ctx, deps)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Applied)

	m, err := deps.Store.Markets().Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, m.Resolved)
	assert.Equal(t, "40", m.TotalPool.String())

	stats, err := deps.Store.Stats().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalMarkets)
	assert.Equal(t, int64(1), stats.TotalResolved)

	// A second replay is absorbed by the duplicate check.
	_, err = a.ReplayMode(ctx, deps)
	require.NoError(t, err)
	stats, err = deps.Store.Stats().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalMarkets)
}

func TestReplayModeRequiresObjectStorage(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), quiet())
	require.NoError(t, err)
	defer cleanup()

	_, err = New(memoryConfig(), quiet()).ReplayMode(context.Background(), deps)
	require.Error(t, err)
}

func TestRunRejectsUnknownMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "trade"
	a := New(cfg, quiet())
	defer a.Close()
	require.Error(t, a.Run(context.Background()))
}
