package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketFilter narrows market listings.
type MarketFilter struct {
	Status   MarketStatus
	Category string
	ListOpts
}

// LeaderboardOrder selects the ranking key for user listings.
type LeaderboardOrder string

const (
	LeaderboardByReputation LeaderboardOrder = "reputation"
	LeaderboardByWinnings   LeaderboardOrder = "winnings"
)

// MarketStore persists markets. Save is compare-and-swap on Version and
// bumps the caller's Version on success.
type MarketStore interface {
	Get(ctx context.Context, id string) (Market, error)
	Save(ctx context.Context, m *Market) error
	List(ctx context.Context, filter MarketFilter) ([]Market, error)
}

// PredictionStore persists predictions.
type PredictionStore interface {
	Get(ctx context.Context, id string) (Prediction, error)
	Save(ctx context.Context, p *Prediction) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Prediction, error)
	ListByUser(ctx context.Context, user string, opts ListOpts) ([]Prediction, error)
}

// UserStore persists user profiles.
type UserStore interface {
	Get(ctx context.Context, id string) (User, error)
	Save(ctx context.Context, u *User) error
	Leaderboard(ctx context.Context, order LeaderboardOrder, opts ListOpts) ([]User, error)
}

// StatsStore owns the GlobalStats singleton.
type StatsStore interface {
	Get(ctx context.Context) (GlobalStats, error)
	// Ensure creates the zeroed singleton if it is absent.
	Ensure(ctx context.Context) error
	// Increment applies delta atomically, creating the record if needed.
	Increment(ctx context.Context, delta StatsDelta) error
}

// RawEventStore is the append-only raw mirror.
type RawEventStore interface {
	// Append inserts ev unless a record with the same id exists. It reports
	// whether a new record was written.
	Append(ctx context.Context, ev RawEvent) (bool, error)
	Get(ctx context.Context, id string) (RawEvent, error)
	ListByName(ctx context.Context, name string, opts ListOpts) ([]RawEvent, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]RawEvent, error)
}

// CheckpointStore tracks log source progress.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, chainID uint64, source string) (Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
}

// Tx groups the entity stores visible inside one unit of work.
type Tx interface {
	Markets() MarketStore
	Predictions() PredictionStore
	Users() UserStore
	Stats() StatsStore
	RawEvents() RawEventStore
}

// EntityStore is a storage backend. Accessors outside RunInTx commit each
// call on its own.
type EntityStore interface {
	Tx
	Checkpoints() CheckpointStore
	// RunInTx runs fn atomically. Any error returned by fn discards every
	// write made through tx.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}
