// Package handler implements the read-only HTTP API over the indexed
// entities.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/service"
)

// Queries is the read surface the handlers need.
type Queries interface {
	GetMarket(ctx context.Context, id string) (domain.Market, error)
	GetUser(ctx context.Context, address string) (domain.User, error)
	GetStats(ctx context.Context) (domain.GlobalStats, error)
	GetPrediction(ctx context.Context, id string) (domain.Prediction, error)
	ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error)
	MarketPredictions(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Prediction, error)
	UserPredictions(ctx context.Context, address string, opts domain.ListOpts) ([]domain.Prediction, error)
	Leaderboard(ctx context.Context, order domain.LeaderboardOrder, opts domain.ListOpts) ([]domain.User, error)
	ListEvents(ctx context.Context, name string, opts domain.ListOpts) ([]domain.RawEvent, error)
	GetEvent(ctx context.Context, id string) (domain.RawEvent, error)
}

var _ Queries = (*service.QueryService)(nil)

// page wraps list responses.
type page[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newPage[T any](items []T, opts domain.ListOpts) page[T] {
	if items == nil {
		items = []T{}
	}
	return page[T]{Items: items, Limit: opts.Limit, Offset: opts.Offset}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeLookupError maps service errors onto HTTP statuses.
func writeLookupError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, what string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, service.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logger.ErrorContext(r.Context(), "lookup failed", slog.String("what", what), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load "+what)
	}
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}
