package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// CheckpointReader reports indexing progress.
type CheckpointReader interface {
	Checkpoint(ctx context.Context, chainID uint64, source string) (domain.Checkpoint, error)
}

// HealthHandler serves liveness plus the log source checkpoint.
type HealthHandler struct {
	checkpoints CheckpointReader
	chainID     uint64
	source      string
	mode        string
	startedAt   time.Time
	logger      *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(checkpoints CheckpointReader, chainID uint64, source, mode string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checkpoints: checkpoints,
		chainID:     chainID,
		source:      source,
		mode:        mode,
		startedAt:   time.Now().UTC(),
		logger:      logger,
	}
}

// HealthCheck reports status and the last indexed block when known.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.checkpoints != nil {
		cp, err := h.checkpoints.Checkpoint(r.Context(), h.chainID, h.source)
		if err == nil {
			body["last_block"] = cp.LastBlock
			body["checkpoint_updated_at"] = cp.UpdatedAt
		}
	}
	writeJSON(w, http.StatusOK, body)
}
