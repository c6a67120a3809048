package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// UserHandler serves profiles, the leaderboard and raw events.
type UserHandler struct {
	queries Queries
	logger  *slog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(queries Queries, logger *slog.Logger) *UserHandler {
	return &UserHandler{queries: queries, logger: logger}
}

// GetUser returns one profile.
// GET /api/users/{address}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.queries.GetUser(r.Context(), r.PathValue("address"))
	if err != nil {
		writeLookupError(w, r, h.logger, "user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// UserPredictions lists one address's predictions.
// GET /api/users/{address}/predictions
func (h *UserHandler) UserPredictions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	preds, err := h.queries.UserPredictions(r.Context(), r.PathValue("address"), opts)
	if err != nil {
		writeLookupError(w, r, h.logger, "predictions", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(preds, opts))
}

// Leaderboard ranks users.
// GET /api/leaderboard?by=reputation|winnings
func (h *UserHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	users, err := h.queries.Leaderboard(r.Context(), domain.LeaderboardOrder(r.URL.Query().Get("by")), opts)
	if err != nil {
		writeLookupError(w, r, h.logger, "leaderboard", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(users, opts))
}

// ListEvents returns one raw mirror in chain order.
// GET /api/events/{name}
func (h *UserHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	evs, err := h.queries.ListEvents(r.Context(), r.PathValue("name"), opts)
	if err != nil {
		writeLookupError(w, r, h.logger, "events", err)
		return
	}
	writeJSON(w, http.StatusOK, newPage(evs, opts))
}

// GetEvent returns one raw event.
// GET /api/events/{name}/{id}
func (h *UserHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.queries.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeLookupError(w, r, h.logger, "event", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
