package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/jackc/pgx/v5"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	q querier
}

const marketCols = `id, market_id::text, creator, question, category, market_type, end_time::text,
	status, resolved, winning_outcome::text, winning_outcome_index::text, total_payout::text,
	yes_pool::text, no_pool::text, total_pool::text, created_at, resolved_at, prediction_count, version`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var marketID, endTime, yes, no, total, status string
	var winning, winningIndex, payout *string
	var marketType int16
	err := row.Scan(
		&m.ID, &marketID, &m.Creator, &m.Question, &m.Category, &marketType, &endTime,
		&status, &m.Resolved, &winning, &winningIndex, &payout,
		&yes, &no, &total, &m.CreatedAt, &m.ResolvedAt, &m.PredictionCount, &m.Version,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	m.MarketType = domain.MarketType(marketType)

	var d bigDecoder
	m.MarketID = d.num(marketID)
	m.EndTime = d.num(endTime)
	m.WinningOutcome = d.null(winning)
	m.WinningOutcomeIndex = d.null(winningIndex)
	m.TotalPayout = d.null(payout)
	m.YesPool = d.num(yes)
	m.NoPool = d.num(no)
	m.TotalPool = d.num(total)
	if d.err != nil {
		return domain.Market{}, fmt.Errorf("decode market %s: %w", m.ID, d.err)
	}
	return m, nil
}

// Get retrieves a market by entity id.
func (s *MarketStore) Get(ctx context.Context, id string) (domain.Market, error) {
	row := s.q.QueryRow(ctx, "SELECT "+marketCols+" FROM markets WHERE id = $1", id)
	m, err := scanMarket(row)
	if err != nil {
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, notFound(err))
	}
	return m, nil
}

// Save inserts the market when its Version is zero and otherwise updates it
// only if the stored version still matches.
func (s *MarketStore) Save(ctx context.Context, m *domain.Market) error {
	args := []any{
		m.ID, numeric(m.MarketID), m.Creator, m.Question, m.Category, int16(m.MarketType), numeric(m.EndTime),
		string(m.Status), m.Resolved, nullNumeric(m.WinningOutcome), nullNumeric(m.WinningOutcomeIndex),
		nullNumeric(m.TotalPayout), numeric(m.YesPool), numeric(m.NoPool), numeric(m.TotalPool),
		m.CreatedAt, m.ResolvedAt, m.PredictionCount, m.Version,
	}

	var query string
	if m.Version == 0 {
		query = `
			INSERT INTO markets (id, market_id, creator, question, category, market_type, end_time,
				status, resolved, winning_outcome, winning_outcome_index, total_payout,
				yes_pool, no_pool, total_pool, created_at, resolved_at, prediction_count, version)
			VALUES ($1, $2::numeric, $3, $4, $5, $6, $7::numeric, $8, $9, $10::numeric, $11::numeric,
				$12::numeric, $13::numeric, $14::numeric, $15::numeric, $16, $17, $18, $19 + 1)
			ON CONFLICT (id) DO NOTHING`
	} else {
		query = `
			UPDATE markets SET
				market_id = $2::numeric, creator = $3, question = $4, category = $5, market_type = $6,
				end_time = $7::numeric, status = $8, resolved = $9, winning_outcome = $10::numeric,
				winning_outcome_index = $11::numeric, total_payout = $12::numeric,
				yes_pool = $13::numeric, no_pool = $14::numeric, total_pool = $15::numeric,
				created_at = $16, resolved_at = $17, prediction_count = $18, version = version + 1
			WHERE id = $1 AND version = $19`
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: save market %s: %w", m.ID, err)
	}
	if err := casResult(tag, "market", m.ID); err != nil {
		return err
	}
	m.Version++
	return nil
}

// List returns markets newest first, optionally filtered by status and
// category.
func (s *MarketStore) List(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}

	query := "SELECT " + marketCols + " FROM markets"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit, offset := limitOffset(filter.ListOpts)
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
