package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	q querier
}

// GetCheckpoint returns the progress of one log source.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context, chainID uint64, source string) (domain.Checkpoint, error) {
	var lastBlock int64
	cp := domain.Checkpoint{ChainID: chainID, Source: source}
	err := s.q.QueryRow(ctx,
		"SELECT last_block, updated_at FROM checkpoints WHERE chain_id = $1 AND source = $2",
		int64(chainID), source,
	).Scan(&lastBlock, &cp.UpdatedAt)
	if err != nil {
		return domain.Checkpoint{}, fmt.Errorf("postgres: get checkpoint %d/%s: %w", chainID, source, notFound(err))
	}
	cp.LastBlock = uint64(lastBlock)
	return cp, nil
}

// SaveCheckpoint upserts the progress of one log source.
func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO checkpoints (chain_id, source, last_block, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chain_id, source) DO UPDATE SET
			last_block = EXCLUDED.last_block,
			updated_at = EXCLUDED.updated_at`,
		int64(cp.ChainID), cp.Source, int64(cp.LastBlock), cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save checkpoint %d/%s: %w", cp.ChainID, cp.Source, err)
	}
	return nil
}
