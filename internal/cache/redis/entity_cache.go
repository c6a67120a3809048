package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultEntityTTL = 5 * time.Minute

// EntityCache implements domain.EntityCache with JSON string values.
//
// Key schema:
//
//	market:{id}   - Market JSON
//	user:{id}     - User JSON
//	stats:global  - GlobalStats JSON
type EntityCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewEntityCache creates an EntityCache. A non-positive ttl selects five
// minutes.
func NewEntityCache(c *Client, ttl time.Duration) *EntityCache {
	if ttl <= 0 {
		ttl = defaultEntityTTL
	}
	return &EntityCache{rdb: c.Underlying(), ttl: ttl}
}

func marketKey(id string) string { return "market:" + id }
func userKey(id string) string   { return "user:" + id }

const statsKey = "stats:" + domain.GlobalStatsID

func (ec *EntityCache) SetMarket(ctx context.Context, m domain.Market) error {
	return ec.set(ctx, marketKey(m.ID), m)
}

func (ec *EntityCache) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	var m domain.Market
	err := ec.get(ctx, marketKey(id), &m)
	return m, err
}

func (ec *EntityCache) InvalidateMarket(ctx context.Context, id string) error {
	return ec.del(ctx, marketKey(id))
}

func (ec *EntityCache) SetUser(ctx context.Context, u domain.User) error {
	return ec.set(ctx, userKey(u.ID), u)
}

func (ec *EntityCache) GetUser(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := ec.get(ctx, userKey(id), &u)
	return u, err
}

func (ec *EntityCache) InvalidateUser(ctx context.Context, id string) error {
	return ec.del(ctx, userKey(id))
}

func (ec *EntityCache) SetStats(ctx context.Context, s domain.GlobalStats) error {
	return ec.set(ctx, statsKey, s)
}

func (ec *EntityCache) GetStats(ctx context.Context) (domain.GlobalStats, error) {
	var s domain.GlobalStats
	err := ec.get(ctx, statsKey, &s)
	return s, err
}

func (ec *EntityCache) InvalidateStats(ctx context.Context) error {
	return ec.del(ctx, statsKey)
}

func (ec *EntityCache) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", key, err)
	}
	if err := ec.rdb.Set(ctx, key, data, ec.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// get returns domain.ErrNotFound on a cache miss.
func (ec *EntityCache) get(ctx context.Context, key string, dst any) error {
	data, err := ec.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("redis: unmarshal %s: %w", key, err)
	}
	return nil
}

func (ec *EntityCache) del(ctx context.Context, key string) error {
	if err := ec.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: invalidate %s: %w", key, err)
	}
	return nil
}

var _ domain.EntityCache = (*EntityCache)(nil)
