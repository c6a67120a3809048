package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// Dispatcher applies one decoded event.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.Event) error
}

// LoadFunc returns archived raw events in chain order.
type LoadFunc func(ctx context.Context, reader domain.BlobReader, prefix string) ([]domain.RawEvent, error)

// ReplayResult summarises a replay run.
type ReplayResult struct {
	Total   int `json:"total"`
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// Replayer re-dispatches archived raw events. Events already mirrored in
// the target store are skipped by the dispatcher, so replaying an archive
// twice is harmless.
type Replayer struct {
	reader     domain.BlobReader
	load       LoadFunc
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewReplayer creates a Replayer.
func NewReplayer(reader domain.BlobReader, load LoadFunc, dispatcher Dispatcher, logger *slog.Logger) *Replayer {
	return &Replayer{reader: reader, load: load, dispatcher: dispatcher, logger: logger}
}

// Replay loads every archive under prefix and dispatches it in order.
// Records that no longer decode or validate are logged and skipped; any
// other dispatch failure stops the run.
func (r *Replayer) Replay(ctx context.Context, prefix string) (ReplayResult, error) {
	raws, err := r.load(ctx, r.reader, prefix)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay: load %s: %w", prefix, err)
	}
	r.logger.Info("replay starting", slog.String("prefix", prefix), slog.Int("events", len(raws)))

	res := ReplayResult{Total: len(raws)}
	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ev, err := domain.EventFromRaw(raw)
		if err == nil {
			err = r.dispatcher.Dispatch(ctx, ev)
		}
		switch {
		case err == nil:
			res.Applied++
		case errors.Is(err, domain.ErrInvalidEvent), errors.Is(err, domain.ErrUnknownEvent):
			res.Skipped++
			r.logger.Warn("replay skipped event",
				slog.String("id", raw.ID),
				slog.String("name", raw.Name),
				slog.String("error", err.Error()),
			)
		default:
			return res, fmt.Errorf("replay %s: %w", raw.ID, err)
		}
	}

	r.logger.Info("replay complete",
		slog.Int("applied", res.Applied),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}
