package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/jackc/pgx/v5"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	q querier
}

const userCols = `id, address, username, total_predictions, markets_participated, correct_predictions,
	total_staked::text, total_winnings::text, reputation_score::text, current_streak::text,
	best_streak::text, first_seen_at, counted, version`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	var staked, winnings, score, streak, best string
	err := row.Scan(
		&u.ID, &u.Address, &u.Username, &u.TotalPredictions, &u.MarketsParticipated, &u.CorrectPredictions,
		&staked, &winnings, &score, &streak, &best, &u.FirstSeenAt, &u.Counted, &u.Version,
	)
	if err != nil {
		return domain.User{}, err
	}

	var d bigDecoder
	u.TotalStaked = d.num(staked)
	u.TotalWinnings = d.num(winnings)
	u.ReputationScore = d.num(score)
	u.CurrentStreak = d.num(streak)
	u.BestStreak = d.num(best)
	if d.err != nil {
		return domain.User{}, fmt.Errorf("decode user %s: %w", u.ID, d.err)
	}
	return u, nil
}

// Get retrieves a user by entity id.
func (s *UserStore) Get(ctx context.Context, id string) (domain.User, error) {
	row := s.q.QueryRow(ctx, "SELECT "+userCols+" FROM users WHERE id = $1", id)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, notFound(err))
	}
	return u, nil
}

// Save inserts or compare-and-swap updates a user.
func (s *UserStore) Save(ctx context.Context, u *domain.User) error {
	args := []any{
		u.ID, u.Address, u.Username, u.TotalPredictions, u.MarketsParticipated, u.CorrectPredictions,
		numeric(u.TotalStaked), numeric(u.TotalWinnings), numeric(u.ReputationScore),
		numeric(u.CurrentStreak), numeric(u.BestStreak), u.FirstSeenAt, u.Counted, u.Version,
	}

	var query string
	if u.Version == 0 {
		query = `
			INSERT INTO users (id, address, username, total_predictions, markets_participated,
				correct_predictions, total_staked, total_winnings, reputation_score,
				current_streak, best_streak, first_seen_at, counted, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric,
				$10::numeric, $11::numeric, $12, $13, $14 + 1)
			ON CONFLICT (id) DO NOTHING`
	} else {
		query = `
			UPDATE users SET
				address = $2, username = $3, total_predictions = $4, markets_participated = $5,
				correct_predictions = $6, total_staked = $7::numeric, total_winnings = $8::numeric,
				reputation_score = $9::numeric, current_streak = $10::numeric,
				best_streak = $11::numeric, first_seen_at = $12, counted = $13,
				version = version + 1
			WHERE id = $1 AND version = $14`
	}

	tag, err := s.q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: save user %s: %w", u.ID, err)
	}
	if err := casResult(tag, "user", u.ID); err != nil {
		return err
	}
	u.Version++
	return nil
}

// Leaderboard ranks users by reputation score or total winnings, ties
// broken by id.
func (s *UserStore) Leaderboard(ctx context.Context, order domain.LeaderboardOrder, opts domain.ListOpts) ([]domain.User, error) {
	col := "reputation_score"
	if order == domain.LeaderboardByWinnings {
		col = "total_winnings"
	}
	limit, offset := limitOffset(opts)
	query := fmt.Sprintf("SELECT %s FROM users ORDER BY %s DESC, id ASC LIMIT $1 OFFSET $2", userCols, col)

	rows, err := s.q.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: leaderboard: %w", err)
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
