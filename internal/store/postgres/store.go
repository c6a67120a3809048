package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements domain.EntityStore on PostgreSQL.
type Store struct {
	client *Client
}

var _ domain.EntityStore = (*Store)(nil)

// NewStore returns an entity store backed by client.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

func (s *Store) Markets() domain.MarketStore         { return &MarketStore{q: s.client.pool} }
func (s *Store) Predictions() domain.PredictionStore { return &PredictionStore{q: s.client.pool} }
func (s *Store) Users() domain.UserStore             { return &UserStore{q: s.client.pool} }
func (s *Store) Stats() domain.StatsStore            { return &StatsStore{q: s.client.pool} }
func (s *Store) RawEvents() domain.RawEventStore     { return &RawEventStore{q: s.client.pool} }
func (s *Store) Checkpoints() domain.CheckpointStore { return &CheckpointStore{q: s.client.pool} }

// RunInTx runs fn inside a single database transaction. A returned error or
// a failed commit rolls back every write.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return pgx.BeginFunc(ctx, s.client.pool, func(tx pgx.Tx) error {
		return fn(ctx, txView{q: tx})
	})
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

type txView struct {
	q querier
}

func (t txView) Markets() domain.MarketStore         { return &MarketStore{q: t.q} }
func (t txView) Predictions() domain.PredictionStore { return &PredictionStore{q: t.q} }
func (t txView) Users() domain.UserStore             { return &UserStore{q: t.q} }
func (t txView) Stats() domain.StatsStore            { return &StatsStore{q: t.q} }
func (t txView) RawEvents() domain.RawEventStore     { return &RawEventStore{q: t.q} }

// limitOffset applies the default page size.
func limitOffset(opts domain.ListOpts) (int, int) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// casResult maps the rows affected by a versioned write onto ErrConflict.
func casResult(tag pgconn.CommandTag, kind, id string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: save %s %s: %w", kind, id, domain.ErrConflict)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// numeric renders v for a ::numeric parameter.
func numeric(v *big.Int) string {
	return domain.BigString(v)
}

// nullNumeric renders v for a nullable ::numeric parameter.
func nullNumeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// bigDecoder parses textual numerics, keeping the first error.
type bigDecoder struct {
	err error
}

func (d *bigDecoder) num(s string) *big.Int {
	if d.err != nil {
		return nil
	}
	v, err := domain.ParseBig(s)
	if err != nil {
		d.err = err
		return nil
	}
	return v
}

func (d *bigDecoder) null(s *string) *big.Int {
	if s == nil {
		return nil
	}
	return d.num(*s)
}
