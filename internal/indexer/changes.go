package indexer

import (
	"context"
	"slices"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// Changes records the entities a committed event touched.
type Changes struct {
	Markets     []string
	Predictions []string
	Users       []string
	Stats       bool
	Resolved    []domain.Market
	Raw         *domain.RawEvent
}

func (c *Changes) touchMarket(id string) {
	if !slices.Contains(c.Markets, id) {
		c.Markets = append(c.Markets, id)
	}
}

func (c *Changes) touchPrediction(id string) {
	if !slices.Contains(c.Predictions, id) {
		c.Predictions = append(c.Predictions, id)
	}
}

func (c *Changes) touchUser(id string) {
	if !slices.Contains(c.Users, id) {
		c.Users = append(c.Users, id)
	}
}

func (c *Changes) increment(ctx context.Context, tx domain.Tx, d domain.StatsDelta) error {
	if d.IsZero() {
		return nil
	}
	if err := tx.Stats().Increment(ctx, d); err != nil {
		return err
	}
	c.Stats = true
	return nil
}

// EnsureGlobalStats creates the zeroed GlobalStats record if it is missing.
// Calling it again is a no-op.
func EnsureGlobalStats(ctx context.Context, stats domain.StatsStore) error {
	return stats.Ensure(ctx)
}
