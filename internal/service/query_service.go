// Package service holds the read-side query API and the post-commit update
// publisher.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// Reader is the read surface of an entity store.
type Reader interface {
	domain.Tx
	Checkpoints() domain.CheckpointStore
}

// QueryService serves entity lookups, going to the cache first when one is
// configured.
type QueryService struct {
	store  Reader
	cache  domain.EntityCache
	logger *slog.Logger
}

// NewQueryService creates a QueryService. cache may be nil.
func NewQueryService(store Reader, cache domain.EntityCache, logger *slog.Logger) *QueryService {
	return &QueryService{store: store, cache: cache, logger: logger}
}

// GetMarket returns one market by its decimal id.
func (s *QueryService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	id, err := canonicalMarketID(id)
	if err != nil {
		return domain.Market{}, err
	}
	return cached(ctx, s, "market", id,
		func() (domain.Market, error) { return s.cache.GetMarket(ctx, id) },
		func() (domain.Market, error) { return s.store.Markets().Get(ctx, id) },
		func(m domain.Market) error { return s.cache.SetMarket(ctx, m) },
	)
}

// GetUser returns a profile by address.
func (s *QueryService) GetUser(ctx context.Context, address string) (domain.User, error) {
	id := domain.UserEntityID(address)
	return cached(ctx, s, "user", id,
		func() (domain.User, error) { return s.cache.GetUser(ctx, id) },
		func() (domain.User, error) { return s.store.Users().Get(ctx, id) },
		func(u domain.User) error { return s.cache.SetUser(ctx, u) },
	)
}

// GetStats returns the global counters.
func (s *QueryService) GetStats(ctx context.Context) (domain.GlobalStats, error) {
	return cached(ctx, s, "stats", domain.GlobalStatsID,
		func() (domain.GlobalStats, error) { return s.cache.GetStats(ctx) },
		func() (domain.GlobalStats, error) { return s.store.Stats().Get(ctx) },
		func(g domain.GlobalStats) error { return s.cache.SetStats(ctx, g) },
	)
}

// GetPrediction returns one prediction by entity id ({marketId}-{user}).
func (s *QueryService) GetPrediction(ctx context.Context, id string) (domain.Prediction, error) {
	p, err := s.store.Predictions().Get(ctx, strings.ToLower(id))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("query: prediction %s: %w", id, err)
	}
	return p, nil
}

// ListMarkets returns markets matching filter.
func (s *QueryService) ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	out, err := s.store.Markets().List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query: list markets: %w", err)
	}
	return out, nil
}

// MarketPredictions lists predictions placed on a market.
func (s *QueryService) MarketPredictions(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	id, err := canonicalMarketID(marketID)
	if err != nil {
		return nil, err
	}
	out, err := s.store.Predictions().ListByMarket(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("query: predictions of market %s: %w", id, err)
	}
	return out, nil
}

// UserPredictions lists predictions placed by an address.
func (s *QueryService) UserPredictions(ctx context.Context, address string, opts domain.ListOpts) ([]domain.Prediction, error) {
	out, err := s.store.Predictions().ListByUser(ctx, address, opts)
	if err != nil {
		return nil, fmt.Errorf("query: predictions of user %s: %w", address, err)
	}
	return out, nil
}

// Leaderboard ranks users.
func (s *QueryService) Leaderboard(ctx context.Context, order domain.LeaderboardOrder, opts domain.ListOpts) ([]domain.User, error) {
	switch order {
	case "":
		order = domain.LeaderboardByReputation
	case domain.LeaderboardByReputation, domain.LeaderboardByWinnings:
	default:
		return nil, fmt.Errorf("%w: leaderboard order %q", ErrInvalidArgument, order)
	}
	out, err := s.store.Users().Leaderboard(ctx, order, opts)
	if err != nil {
		return nil, fmt.Errorf("query: leaderboard: %w", err)
	}
	return out, nil
}

// ListEvents returns one raw mirror. name may be the bare event name
// ("MarketCreated") or the full mirror name.
func (s *QueryService) ListEvents(ctx context.Context, name string, opts domain.ListOpts) ([]domain.RawEvent, error) {
	out, err := s.store.RawEvents().ListByName(ctx, MirrorFor(name), opts)
	if err != nil {
		return nil, fmt.Errorf("query: events %s: %w", name, err)
	}
	return out, nil
}

// GetEvent returns one raw event by {chainId}_{block}_{logIndex}.
func (s *QueryService) GetEvent(ctx context.Context, id string) (domain.RawEvent, error) {
	ev, err := s.store.RawEvents().Get(ctx, id)
	if err != nil {
		return domain.RawEvent{}, fmt.Errorf("query: event %s: %w", id, err)
	}
	return ev, nil
}

// Checkpoint returns the indexing progress of one source.
func (s *QueryService) Checkpoint(ctx context.Context, chainID uint64, source string) (domain.Checkpoint, error) {
	return s.store.Checkpoints().GetCheckpoint(ctx, chainID, source)
}

// MirrorFor maps a bare event name onto the PredictionMarket mirror.
func MirrorFor(name string) string {
	if strings.Contains(name, "_") {
		return name
	}
	return domain.MirrorName(domain.ContractPredictionMarket, name)
}

// ErrInvalidArgument reports a malformed id or query parameter.
var ErrInvalidArgument = errors.New("service: invalid argument")

func canonicalMarketID(id string) (string, error) {
	v, err := domain.ParseBig(strings.TrimSpace(id))
	if err != nil || v.Sign() < 0 {
		return "", fmt.Errorf("%w: market id %q", ErrInvalidArgument, id)
	}
	return domain.MarketEntityID(v), nil
}

// cached implements read-through caching. Cache failures other than a miss
// are logged and never fail the read.
func cached[T any](
	ctx context.Context, s *QueryService, kind, id string,
	fromCache, fromStore func() (T, error),
	fill func(T) error,
) (T, error) {
	if s.cache != nil {
		v, err := fromCache()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "cache read failed",
				slog.String("kind", kind), slog.String("id", id), slog.String("error", err.Error()))
		}
	}

	v, err := fromStore()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("query: %s %s: %w", kind, id, err)
	}
	if s.cache != nil {
		if err := fill(v); err != nil {
			s.logger.WarnContext(ctx, "cache fill failed",
				slog.String("kind", kind), slog.String("id", id), slog.String("error", err.Error()))
		}
	}
	return v, nil
}
