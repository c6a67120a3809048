// Package kv implements domain.EntityStore on an ordered key-value Database.
// Transactions are serialized by a store-wide mutex and buffer their writes
// until commit.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// Store is a domain.EntityStore backed by a Database.
type Store struct {
	db Database
	mu sync.Mutex
}

// New wraps db. The Store takes ownership and closes db on Close.
func New(db Database) *Store {
	return &Store{db: db}
}

// NewMemory returns a Store over a fresh MemDB.
func NewMemory() *Store {
	return New(NewMemDB())
}

// OpenLevelDB returns a Store over a LevelDB directory.
func OpenLevelDB(path string) (*Store, error) {
	db, err := NewLevelDB(path)
	if err != nil {
		return nil, fmt.Errorf("kv: open leveldb %s: %w", path, err)
	}
	return New(db), nil
}

func (s *Store) auto() *txn { return &txn{s: s} }

func (s *Store) Markets() domain.MarketStore         { return marketRepo{s.auto()} }
func (s *Store) Predictions() domain.PredictionStore { return predictionRepo{s.auto()} }
func (s *Store) Users() domain.UserStore             { return userRepo{s.auto()} }
func (s *Store) Stats() domain.StatsStore            { return statsRepo{s.auto()} }
func (s *Store) RawEvents() domain.RawEventStore     { return rawRepo{s.auto()} }
func (s *Store) Checkpoints() domain.CheckpointStore { return checkpointRepo{s.auto()} }

// RunInTx runs fn with exclusive write access. Writes become visible only if
// fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.begin()
	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) begin() *txn {
	return &txn{s: s, writes: make(map[string][]byte)}
}

// txn is either a buffered transaction (writes != nil) or an autocommit view
// whose write paths open a short transaction of their own.
type txn struct {
	s      *Store
	writes map[string][]byte
}

func (t *txn) Markets() domain.MarketStore         { return marketRepo{t} }
func (t *txn) Predictions() domain.PredictionStore { return predictionRepo{t} }
func (t *txn) Users() domain.UserStore             { return userRepo{t} }
func (t *txn) Stats() domain.StatsStore            { return statsRepo{t} }
func (t *txn) RawEvents() domain.RawEventStore     { return rawRepo{t} }

func (t *txn) update(fn func(w *txn) error) error {
	if t.writes != nil {
		return fn(t)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	w := t.s.begin()
	if err := fn(w); err != nil {
		return err
	}
	return w.commit()
}

func (t *txn) commit() error {
	if len(t.writes) == 0 {
		return nil
	}
	return t.s.db.Write(t.writes)
}

func (t *txn) get(key string) ([]byte, error) {
	if t.writes != nil {
		if v, ok := t.writes[key]; ok {
			return v, nil
		}
	}
	return t.s.db.Get([]byte(key))
}

func (t *txn) put(key string, value []byte) {
	t.writes[key] = value
}

// getJSON decodes key into v and reports whether it existed.
func (t *txn) getJSON(key string, v any) (bool, error) {
	raw, err := t.get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return true, nil
}

func (t *txn) putJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	t.put(key, raw)
	return nil
}

// scanJSON decodes every value under prefix. Pending transaction writes are
// not visible to scans.
func scanJSON[T any](t *txn, prefix string, keep func(T) bool) ([]T, error) {
	var out []T
	err := t.s.db.Iterate([]byte(prefix), func(key, value []byte) error {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("kv: decode %s: %w", key, err)
		}
		if keep == nil || keep(v) {
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func checkVersion(found bool, stored, expected int64) error {
	if !found && expected != 0 {
		return domain.ErrConflict
	}
	if found && stored != expected {
		return domain.ErrConflict
	}
	return nil
}

const defaultLimit = 50

func page[T any](items []T, opts domain.ListOpts) []T {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if opts.Offset >= len(items) {
		return []T{}
	}
	items = items[max(opts.Offset, 0):]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
