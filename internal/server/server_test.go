package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/indexer"
	"github.com/alanyoungcy/predictindexer/internal/metrics"
	"github.com/alanyoungcy/predictindexer/internal/server/handler"
	"github.com/alanyoungcy/predictindexer/internal/server/middleware"
	"github.com/alanyoungcy/predictindexer/internal/server/ws"
	"github.com/alanyoungcy/predictindexer/internal/service"
	"github.com/alanyoungcy/predictindexer/internal/store/kv"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	srv   *httptest.Server
	hub   *ws.Hub
	m     *metrics.Metrics
	store *kv.Store
}

func newFixture(t *testing.T, cfg Config, limiter domain.RateLimiter) *fixture {
	t.Helper()
	ctx := context.Background()
	store := kv.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, indexer.EnsureGlobalStats(ctx, store.Stats()))

	m := metrics.New()
	reg := indexer.PredictionMarketRegistry(indexer.NewHandlers(indexer.DefaultOptions(), quiet()))
	d := indexer.NewDispatcher(store, reg, indexer.DispatcherConfig{}, m, quiet())

	meta := func(block uint64) domain.EventMeta {
		return domain.EventMeta{ChainID: 1, Contract: domain.ContractPredictionMarket, BlockNumber: block, BlockTimestamp: int64(block) * 10}
	}
	for _, ev := range []domain.Event{
		domain.MarketCreated{Meta: meta(1), MarketID: big.NewInt(5), Creator: "0xAAA", Question: "Q", Category: "c", EndTime: big.NewInt(99)},
		domain.PredictionMade{Meta: meta(2), MarketID: big.NewInt(5), User: "0xBBB", Side: 0, OutcomeIndex: big.NewInt(0), Amount: big.NewInt(70)},
		domain.ReputationUpdated{Meta: meta(3), User: "0xBBB", NewScore: big.NewInt(12), Streak: big.NewInt(2)},
	} {
		require.NoError(t, d.Dispatch(ctx, ev))
	}
	require.NoError(t, store.Checkpoints().SaveCheckpoint(ctx, domain.Checkpoint{ChainID: 1, Source: "pm", LastBlock: 3}))

	q := service.NewQueryService(store, nil, quiet())
	hub := ws.NewHub(nil, "full", quiet())
	hubCtx, cancel := context.WithCancel(ctx)
	t.Cleanup(cancel)
	go func() { _ = hub.Run(hubCtx) }()

	h := Handlers{
		Health:  handler.NewHealthHandler(q, 1, "pm", "full", quiet()),
		Markets: handler.NewMarketHandler(q, quiet()),
		Users:   handler.NewUserHandler(q, quiet()),
	}
	srv := httptest.NewServer(Routes(cfg, h, hub, limiter, m, quiet()))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, hub: hub, m: m, store: store}
}

func (f *fixture) get(t *testing.T, path string, header ...string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+path, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestReadEndpoints(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	resp, body := f.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), body["last_block"])

	_, body = f.get(t, "/api/stats")
	assert.Equal(t, float64(1), body["totalMarkets"])
	assert.Equal(t, float64(70), body["totalVolume"])

	_, body = f.get(t, "/api/markets?status=Active")
	assert.Len(t, body["items"], 1)

	resp, body = f.get(t, "/api/markets/5")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Q", body["question"])

	_, body = f.get(t, "/api/markets/5/predictions")
	assert.Len(t, body["items"], 1)

	resp, body = f.get(t, "/api/users/0xBBB")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0xbbb", body["address"])

	_, body = f.get(t, "/api/users/0xbbb/predictions")
	assert.Len(t, body["items"], 1)

	_, body = f.get(t, "/api/leaderboard?by=winnings&limit=1")
	assert.Len(t, body["items"], 1)
	assert.Equal(t, float64(1), body["limit"])

	_, body = f.get(t, "/api/events/ReputationUpdated")
	items := body["items"].([]any)
	require.Len(t, items, 1)
	id := items[0].(map[string]any)["id"].(string)

	resp, _ = f.get(t, "/api/events/ReputationUpdated/"+id)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.get(t, "/api/predictions/5-0xbbb")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorStatuses(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	resp, _ := f.get(t, "/api/markets/404")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.get(t, "/api/markets/not-a-number")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.get(t, "/api/markets?status=Open")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.get(t, "/api/leaderboard?by=volume")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.get(t, "/api/users/0xnobody")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthAndMetrics(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret"}, nil)

	resp, _ := f.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.get(t, "/api/stats")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.get(t, "/api/stats", "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = f.get(t, "/api/stats", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(text), "predidx_events_total")
	assert.Contains(t, string(text), "predidx_http_requests_total")
}

func TestRateLimitAndCORS(t *testing.T) {
	f := newFixture(t, Config{RateLimitPerMin: 2, CORSOrigins: []string{"https://app.example"}}, middleware.NewLocalLimiter())

	for i := 0; i < 2; i++ {
		resp, _ := f.get(t, "/api/stats")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, _ := f.get(t, "/api/stats")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/stats", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocketReceivesBroadcast(t *testing.T) {
	f := newFixture(t, Config{}, nil)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "status", frame.Channel)

	require.Eventually(t, func() bool { return f.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	f.hub.Broadcast(domain.ChannelMarket, []byte(`{"kind":"market","id":"5"}`))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, domain.ChannelMarket, frame.Channel)
	assert.JSONEq(t, `{"kind":"market","id":"5"}`, string(frame.Data))
}
