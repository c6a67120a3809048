package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// MarketHandler serves markets, predictions and global stats.
type MarketHandler struct {
	queries Queries
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(queries Queries, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{queries: queries, logger: logger}
}

// ListMarkets returns markets newest first.
// GET /api/markets?status=Active&category=sports&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()
	status := domain.MarketStatus(q.Get("status"))
	switch status {
	case "", domain.MarketStatusActive, domain.MarketStatusResolved, domain.MarketStatusCancelled:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	markets, err := h.queries.ListMarkets(r.Context(), domain.MarketFilter{
		Status:   status,
		Category: q.Get("category"),
		ListOpts: opts,
	})
	if err != nil {
		writeLookupError(w, r, h.logger, "markets", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(markets, opts))
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := h.queries.GetMarket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, r, h.logger, "market", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// MarketPredictions lists the predictions on one market.
// GET /api/markets/{id}/predictions
func (h *MarketHandler) MarketPredictions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	preds, err := h.queries.MarketPredictions(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		writeLookupError(w, r, h.logger, "predictions", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(preds, opts))
}

// GetPrediction returns one prediction.
// GET /api/predictions/{id}
func (h *MarketHandler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	p, err := h.queries.GetPrediction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, r, h.logger, "prediction", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Stats returns the global counters.
// GET /api/stats
func (h *MarketHandler) Stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.queries.GetStats(r.Context())
	if err != nil {
		writeLookupError(w, r, h.logger, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}
