package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/jackc/pgx/v5"
)

// RawEventStore implements domain.RawEventStore on the raw_events table.
type RawEventStore struct {
	q querier
}

const rawEventCols = `id, name, chain_id, contract, address, block_number, block_timestamp,
	log_index, tx_hash, params`

func scanRawEvent(row pgx.Row) (domain.RawEvent, error) {
	var ev domain.RawEvent
	var chainID, blockNumber int64
	var logIndex int32
	var params []byte
	err := row.Scan(
		&ev.ID, &ev.Name, &chainID, &ev.Meta.Contract, &ev.Meta.Address, &blockNumber,
		&ev.Meta.BlockTimestamp, &logIndex, &ev.Meta.TxHash, &params,
	)
	if err != nil {
		return domain.RawEvent{}, err
	}
	ev.Meta.ChainID = uint64(chainID)
	ev.Meta.BlockNumber = uint64(blockNumber)
	ev.Meta.LogIndex = uint(logIndex)
	if err := json.Unmarshal(params, &ev.Params); err != nil {
		return domain.RawEvent{}, fmt.Errorf("decode params of %s: %w", ev.ID, err)
	}
	return ev, nil
}

// Append inserts ev unless its id already exists.
func (s *RawEventStore) Append(ctx context.Context, ev domain.RawEvent) (bool, error) {
	params, err := json.Marshal(ev.Params)
	if err != nil {
		return false, fmt.Errorf("postgres: encode raw event %s: %w", ev.ID, err)
	}
	tag, err := s.q.Exec(ctx, `
		INSERT INTO raw_events (id, name, chain_id, contract, address, block_number,
			block_timestamp, log_index, tx_hash, params)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.Name, int64(ev.Meta.ChainID), ev.Meta.Contract, ev.Meta.Address,
		int64(ev.Meta.BlockNumber), ev.Meta.BlockTimestamp, int32(ev.Meta.LogIndex),
		ev.Meta.TxHash, string(params),
	)
	if err != nil {
		return false, fmt.Errorf("postgres: append raw event %s: %w", ev.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves a raw event by id.
func (s *RawEventStore) Get(ctx context.Context, id string) (domain.RawEvent, error) {
	row := s.q.QueryRow(ctx, "SELECT "+rawEventCols+" FROM raw_events WHERE id = $1", id)
	ev, err := scanRawEvent(row)
	if err != nil {
		return domain.RawEvent{}, fmt.Errorf("postgres: get raw event %s: %w", id, notFound(err))
	}
	return ev, nil
}

// ListByName returns one mirror in chain order.
func (s *RawEventStore) ListByName(ctx context.Context, name string, opts domain.ListOpts) ([]domain.RawEvent, error) {
	limit, offset := limitOffset(opts)
	rows, err := s.q.Query(ctx, `
		SELECT `+rawEventCols+` FROM raw_events WHERE name = $1
		ORDER BY block_number ASC, log_index ASC LIMIT $2 OFFSET $3`, name, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list raw events %s: %w", name, err)
	}
	return collectRawEvents(rows)
}

// ListBefore returns up to limit events whose block timestamp is older than
// before, oldest first. A non-positive limit returns every match.
func (s *RawEventStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.RawEvent, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.q.Query(ctx, `
		SELECT `+rawEventCols+` FROM raw_events WHERE block_timestamp < $1
		ORDER BY block_number ASC, log_index ASC LIMIT $2`, before.Unix(), lim)
	if err != nil {
		return nil, fmt.Errorf("postgres: list raw events before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectRawEvents(rows)
}

func collectRawEvents(rows pgx.Rows) ([]domain.RawEvent, error) {
	defer rows.Close()
	var out []domain.RawEvent
	for rows.Next() {
		ev, err := scanRawEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan raw event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
