// Package indexer turns decoded contract events into derived entities.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// Options tunes handler semantics.
type Options struct {
	// SkipDuplicates aborts a handler when its raw mirror already exists.
	SkipDuplicates bool
	// TrackFirstSeen counts each user in GlobalStats.TotalUsers exactly once,
	// the first time any event creates the record. When false, UsernameSet
	// counts users whose TotalPredictions is zero.
	TrackFirstSeen bool
	// SourceMarketType stores the on-chain market type instead of Binary.
	SourceMarketType bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{SkipDuplicates: true, TrackFirstSeen: true}
}

// Handlers implements one method per contract event. Each method runs inside
// a store transaction and records what it touched in ch.
type Handlers struct {
	opts   Options
	logger *slog.Logger
}

func NewHandlers(opts Options, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{opts: opts, logger: logger}
}

// appendRaw writes the raw mirror for ev. It returns ErrDuplicateEvent when
// the mirror already exists and duplicates are skipped.
func (h *Handlers) appendRaw(ctx context.Context, tx domain.Tx, ev domain.Event, ch *Changes) error {
	raw := domain.NewRawEvent(ev)
	inserted, err := tx.RawEvents().Append(ctx, raw)
	if err != nil {
		return fmt.Errorf("append raw %s: %w", raw.ID, err)
	}
	if !inserted && h.opts.SkipDuplicates {
		return fmt.Errorf("%s %s: %w", raw.Name, raw.ID, domain.ErrDuplicateEvent)
	}
	ch.Raw = &raw
	return nil
}

func (h *Handlers) MarketCreated(ctx context.Context, tx domain.Tx, ev domain.MarketCreated, ch *Changes) error {
	if err := h.appendRaw(ctx, tx, ev, ch); err != nil {
		return err
	}

	id := domain.MarketEntityID(ev.MarketID)
	var version int64
	existing, err := tx.Markets().Get(ctx, id)
	switch {
	case err == nil:
		version = existing.Version
		h.logger.Warn("market created twice, overwriting",
			slog.String("market_id", id),
			slog.Uint64("block", ev.Meta.BlockNumber),
		)
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	marketType := domain.MarketTypeBinary
	if h.opts.SourceMarketType {
		marketType = domain.MarketType(ev.MarketType)
	}
	m := domain.Market{
		ID:              id,
		MarketID:        domain.CopyBig(ev.MarketID),
		Creator:         domain.NormalizeAddress(ev.Creator),
		Question:        ev.Question,
		Category:        ev.Category,
		MarketType:      marketType,
		EndTime:         domain.CopyBig(ev.EndTime),
		Status:          domain.MarketStatusActive,
		YesPool:         domain.Zero(),
		NoPool:          domain.Zero(),
		TotalPool:       domain.Zero(),
		CreatedAt:       ev.Meta.BlockTimestamp,
		PredictionCount: 0,
		Version:         version,
	}
	if err := tx.Markets().Save(ctx, &m); err != nil {
		return err
	}
	ch.touchMarket(id)

	return ch.increment(ctx, tx, domain.StatsDelta{Markets: 1})
}

func (h *Handlers) PredictionMade(ctx context.Context, tx domain.Tx, ev domain.PredictionMade, ch *Changes) error {
	if err := h.appendRaw(ctx, tx, ev, ch); err != nil {
		return err
	}

	marketID := domain.MarketEntityID(ev.MarketID)
	userID := domain.UserEntityID(ev.User)
	predID := domain.PredictionEntityID(marketID, userID)

	pred, err := tx.Predictions().Get(ctx, predID)
	firstStake := errors.Is(err, domain.ErrNotFound)
	switch {
	case firstStake:
		pred = domain.Prediction{
			ID:           predID,
			MarketID:     marketID,
			User:         userID,
			Side:         ev.Side,
			OutcomeIndex: domain.CopyBig(ev.OutcomeIndex),
			Amount:       domain.CopyBig(ev.Amount),
			Timestamp:    ev.Meta.BlockTimestamp,
		}
	case err != nil:
		return err
	default:
		pred.Amount = domain.AddBig(pred.Amount, ev.Amount)
	}
	if err := tx.Predictions().Save(ctx, &pred); err != nil {
		return err
	}
	ch.touchPrediction(predID)

	market, err := tx.Markets().Get(ctx, marketID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.logger.Debug("prediction for unknown market, pool update skipped",
			slog.String("market_id", marketID),
			slog.String("user", userID),
		)
	case err != nil:
		return err
	default:
		if firstStake {
			market.PredictionCount++
		}
		if ev.Side == 0 {
			market.YesPool = domain.AddBig(market.YesPool, ev.Amount)
		} else {
			market.NoPool = domain.AddBig(market.NoPool, ev.Amount)
		}
		market.TotalPool = domain.AddBig(market.TotalPool, ev.Amount)
		if err := tx.Markets().Save(ctx, &market); err != nil {
			return err
		}
		ch.touchMarket(marketID)
	}

	user, _, err := h.loadUser(ctx, tx, userID, ev.Meta.BlockTimestamp)
	if err != nil {
		return err
	}
	user.TotalPredictions++
	user.TotalStaked = domain.AddBig(user.TotalStaked, ev.Amount)
	if firstStake {
		user.MarketsParticipated++
	}
	newUsers := h.countFirstSeen(&user)
	if err := tx.Users().Save(ctx, &user); err != nil {
		return err
	}
	ch.touchUser(userID)

	return ch.increment(ctx, tx, domain.StatsDelta{
		Predictions: 1,
		Volume:      ev.Amount,
		Users:       newUsers,
	})
}

func (h *Handlers) MarketResolved(ctx context.Context, tx domain.Tx, ev domain.MarketResolved, ch *Changes) error {
	if err := h.appendRaw(ctx, tx, ev, ch); err != nil {
		return err
	}

	id := domain.MarketEntityID(ev.MarketID)
	market, err := tx.Markets().Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.logger.Debug("resolution for unknown market", slog.String("market_id", id))
	case err != nil:
		return err
	default:
		if market.Resolved {
			h.logger.Warn("market resolved again, overwriting outcome",
				slog.String("market_id", id),
				slog.Uint64("block", ev.Meta.BlockNumber),
			)
		}
		market.Status = domain.MarketStatusResolved
		market.Resolved = true
		market.WinningOutcome = domain.CopyBig(ev.WinningOutcome)
		market.WinningOutcomeIndex = domain.CopyBig(ev.WinningOutcomeIndex)
		market.TotalPayout = domain.CopyBig(ev.TotalPayout)
		market.ResolvedAt = ev.Meta.BlockTimestamp
		if err := tx.Markets().Save(ctx, &market); err != nil {
			return err
		}
		ch.touchMarket(id)
		ch.Resolved = append(ch.Resolved, market)
	}

	return ch.increment(ctx, tx, domain.StatsDelta{Resolved: 1})
}

func (h *Handlers) PayoutClaimed(ctx context.Context, tx domain.Tx, ev domain.PayoutClaimed, ch *Changes) error {
	if err := h.appendRaw(ctx, tx, ev, ch); err != nil {
		return err
	}

	marketID := domain.MarketEntityID(ev.MarketID)
	userID := domain.UserEntityID(ev.User)
	predID := domain.PredictionEntityID(marketID, userID)

	firstClaim := false
	pred, err := tx.Predictions().Get(ctx, predID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return err
	default:
		firstClaim = !pred.Claimed
		pred.Claimed = true
		if firstClaim {
			pred.ClaimedAt = ev.Meta.BlockTimestamp
		}
		if err := tx.Predictions().Save(ctx, &pred); err != nil {
			return err
		}
		ch.touchPrediction(predID)
	}

	user, err := tx.Users().Get(ctx, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	user.TotalWinnings = domain.AddBig(user.TotalWinnings, ev.Amount)
	if firstClaim {
		user.CorrectPredictions++
	}
	if err := tx.Users().Save(ctx, &user); err != nil {
		return err
	}
	ch.touchUser(userID)
	return nil
}

func (h *Handlers) ReputationUpdated(ctx context.Context, tx domain.Tx, ev domain.ReputationUpdated, ch *Changes) error {
	if err := h.appendRaw(ctx, tx, ev, ch); err != nil {
		return err
	}

	userID := domain.UserEntityID(ev.User)
	user, _, err := h.loadUser(ctx, tx, userID, ev.Meta.BlockTimestamp)
	if err != nil {
		return err
	}
	user.ReputationScore = domain.CopyBig(ev.NewScore)
	user.CurrentStreak = domain.CopyBig(ev.Streak)
	user.BestStreak = domain.MaxBig(user.BestStreak, ev.Streak)
	newUsers := h.countFirstSeen(&user)
	if err := tx.Users().Save(ctx, &user); err != nil {
		return err
	}
	ch.touchUser(userID)

	return ch.increment(ctx, tx, domain.StatsDelta{Users: newUsers})
}

func (h *Handlers) UsernameSet(ctx context.Context, tx domain.Tx, ev domain.UsernameSet, ch *Changes) error {
	if err := h.appendRaw(ctx, tx, ev, ch); err != nil {
		return err
	}

	userID := domain.UserEntityID(ev.User)
	user, _, err := h.loadUser(ctx, tx, userID, ev.Meta.BlockTimestamp)
	if err != nil {
		return err
	}
	user.Username = ev.Username

	var newUsers int64
	if h.opts.TrackFirstSeen {
		newUsers = h.countFirstSeen(&user)
	} else if user.TotalPredictions == 0 {
		newUsers = 1
	}
	if err := tx.Users().Save(ctx, &user); err != nil {
		return err
	}
	ch.touchUser(userID)

	return ch.increment(ctx, tx, domain.StatsDelta{Users: newUsers})
}

func (h *Handlers) OwnershipTransferred(ctx context.Context, tx domain.Tx, ev domain.OwnershipTransferred, ch *Changes) error {
	if err := h.appendRaw(ctx, tx, ev, ch); err != nil {
		return err
	}
	h.logger.Info("contract ownership transferred",
		slog.String("contract", ev.Meta.Contract),
		slog.String("previous_owner", domain.NormalizeAddress(ev.PreviousOwner)),
		slog.String("new_owner", domain.NormalizeAddress(ev.NewOwner)),
	)
	return nil
}

// loadUser returns the stored user or a zeroed one first seen at ts.
func (h *Handlers) loadUser(ctx context.Context, tx domain.Tx, id string, ts int64) (domain.User, bool, error) {
	u, err := tx.Users().Get(ctx, id)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, false, err
	}
	return domain.User{
		ID:              id,
		Address:         id,
		TotalStaked:     domain.Zero(),
		TotalWinnings:   domain.Zero(),
		ReputationScore: domain.Zero(),
		CurrentStreak:   domain.Zero(),
		BestStreak:      domain.Zero(),
		FirstSeenAt:     ts,
	}, true, nil
}

// countFirstSeen marks u as counted and returns the TotalUsers delta.
func (h *Handlers) countFirstSeen(u *domain.User) int64 {
	if !h.opts.TrackFirstSeen || u.Counted {
		return 0
	}
	u.Counted = true
	return 1
}
