package domain

import (
	"context"
	"time"
)

// EntityCache provides fast lookups of hot read-model records.
type EntityCache interface {
	SetMarket(ctx context.Context, m Market) error
	GetMarket(ctx context.Context, id string) (Market, error)
	InvalidateMarket(ctx context.Context, id string) error
	SetUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	InvalidateUser(ctx context.Context, id string) error
	SetStats(ctx context.Context, s GlobalStats) error
	GetStats(ctx context.Context) (GlobalStats, error)
	InvalidateStats(ctx context.Context) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// Hold acquires key and keeps extending it until unlock is called or ctx
	// ends. lost is closed if the lock expires or is taken by another owner.
	Hold(ctx context.Context, key string, ttl time.Duration) (unlock func(), lost <-chan struct{}, err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Update channels published after each committed event.
const (
	ChannelMarket = "ch:market"
	ChannelUser   = "ch:user"
	ChannelStats  = "ch:stats"
	ChannelEvent  = "ch:event"

	StreamRawEvents = "stream:raw_events"
)
