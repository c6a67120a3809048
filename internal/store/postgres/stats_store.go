package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// StatsStore implements domain.StatsStore using PostgreSQL.
type StatsStore struct {
	q querier
}

// Get returns the global stats singleton.
func (s *StatsStore) Get(ctx context.Context) (domain.GlobalStats, error) {
	var g domain.GlobalStats
	var volume string
	err := s.q.QueryRow(ctx, `
		SELECT id, total_markets, total_predictions, total_volume::text, total_users, total_resolved
		FROM global_stats WHERE id = $1`, domain.GlobalStatsID,
	).Scan(&g.ID, &g.TotalMarkets, &g.TotalPredictions, &volume, &g.TotalUsers, &g.TotalResolved)
	if err != nil {
		return domain.GlobalStats{}, fmt.Errorf("postgres: get stats: %w", notFound(err))
	}
	var d bigDecoder
	g.TotalVolume = d.num(volume)
	if d.err != nil {
		return domain.GlobalStats{}, fmt.Errorf("postgres: decode stats: %w", d.err)
	}
	return g, nil
}

// Ensure creates the zeroed singleton when it is absent.
func (s *StatsStore) Ensure(ctx context.Context) error {
	_, err := s.q.Exec(ctx,
		"INSERT INTO global_stats (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", domain.GlobalStatsID)
	if err != nil {
		return fmt.Errorf("postgres: ensure stats: %w", err)
	}
	return nil
}

// Increment adds delta to the singleton in one statement, creating the row
// when it is absent.
func (s *StatsStore) Increment(ctx context.Context, delta domain.StatsDelta) error {
	if delta.IsZero() {
		return nil
	}
	_, err := s.q.Exec(ctx, `
		INSERT INTO global_stats (id, total_markets, total_predictions, total_volume, total_users, total_resolved)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			total_markets     = global_stats.total_markets + EXCLUDED.total_markets,
			total_predictions = global_stats.total_predictions + EXCLUDED.total_predictions,
			total_volume      = global_stats.total_volume + EXCLUDED.total_volume,
			total_users       = global_stats.total_users + EXCLUDED.total_users,
			total_resolved    = global_stats.total_resolved + EXCLUDED.total_resolved`,
		domain.GlobalStatsID, delta.Markets, delta.Predictions, numeric(delta.Volume), delta.Users, delta.Resolved,
	)
	if err != nil {
		return fmt.Errorf("postgres: increment stats: %w", err)
	}
	return nil
}
