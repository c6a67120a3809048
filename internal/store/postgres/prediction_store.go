package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/jackc/pgx/v5"
)

// PredictionStore implements domain.PredictionStore using PostgreSQL.
type PredictionStore struct {
	q querier
}

const predictionCols = `id, market_id, user_address, side, outcome_index::text, amount::text,
	timestamp, claimed, claimed_at, version`

func scanPrediction(row pgx.Row) (domain.Prediction, error) {
	var p domain.Prediction
	var side int16
	var outcomeIndex, amount string
	err := row.Scan(
		&p.ID, &p.MarketID, &p.User, &side, &outcomeIndex, &amount,
		&p.Timestamp, &p.Claimed, &p.ClaimedAt, &p.Version,
	)
	if err != nil {
		return domain.Prediction{}, err
	}
	p.Side = uint8(side)

	var d bigDecoder
	p.OutcomeIndex = d.num(outcomeIndex)
	p.Amount = d.num(amount)
	if d.err != nil {
		return domain.Prediction{}, fmt.Errorf("decode prediction %s: %w", p.ID, d.err)
	}
	return p, nil
}

// Get retrieves a prediction by entity id.
func (s *PredictionStore) Get(ctx context.Context, id string) (domain.Prediction, error) {
	row := s.q.QueryRow(ctx, "SELECT "+predictionCols+" FROM predictions WHERE id = $1", id)
	p, err := scanPrediction(row)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("postgres: get prediction %s: %w", id, notFound(err))
	}
	return p, nil
}

// Save inserts or compare-and-swap updates a prediction.
func (s *PredictionStore) Save(ctx context.Context, p *domain.Prediction) error {
	args := []any{
		p.ID, p.MarketID, p.User, int16(p.Side), numeric(p.OutcomeIndex), numeric(p.Amount),
		p.Timestamp, p.Claimed, p.ClaimedAt, p.Version,
	}

	var query string
	if p.Version == 0 {
		query = `
			INSERT INTO predictions (id, market_id, user_address, side, outcome_index, amount,
				timestamp, claimed, claimed_at, version)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10 + 1)
			ON CONFLICT (id) DO NOTHING`
	} else {
		query = `
			UPDATE predictions SET
				market_id = $2, user_address = $3, side = $4, outcome_index = $5::numeric,
				amount = $6::numeric, timestamp = $7, claimed = $8, claimed_at = $9,
				version = version + 1
			WHERE id = $1 AND version = $10`
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: save prediction %s: %w", p.ID, err)
	}
	if err := casResult(tag, "prediction", p.ID); err != nil {
		return err
	}
	p.Version++
	return nil
}

// ListByMarket returns the predictions placed on one market.
func (s *PredictionStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	return s.list(ctx, "market_id", marketID, opts)
}

// ListByUser returns the predictions placed by one address.
func (s *PredictionStore) ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Prediction, error) {
	return s.list(ctx, "user_address", domain.NormalizeAddress(user), opts)
}

func (s *PredictionStore) list(ctx context.Context, col, value string, opts domain.ListOpts) ([]domain.Prediction, error) {
	limit, offset := limitOffset(opts)
	query := fmt.Sprintf(
		"SELECT %s FROM predictions WHERE %s = $1 ORDER BY id ASC LIMIT $2 OFFSET $3",
		predictionCols, col,
	)
	rows, err := s.q.Query(ctx, query, value, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list predictions by %s: %w", col, err)
	}
	defer rows.Close()

	var out []domain.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
