package kv

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

const (
	prefixMarket     = "market/"
	prefixPrediction = "prediction/"
	prefixPredByMkt  = "pidx/m/"
	prefixPredByUser = "pidx/u/"
	prefixUser       = "user/"
	prefixRaw        = "raw/"
	prefixRawByName  = "ridx/"
	prefixCheckpoint = "checkpoint/"
	keyGlobalStats   = "stats/global"
)

type marketRepo struct{ t *txn }

func (r marketRepo) Get(_ context.Context, id string) (domain.Market, error) {
	var m domain.Market
	found, err := r.t.getJSON(prefixMarket+id, &m)
	if err != nil {
		return domain.Market{}, err
	}
	if !found {
		return domain.Market{}, fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (r marketRepo) Save(_ context.Context, m *domain.Market) error {
	return r.t.update(func(w *txn) error {
		var cur domain.Market
		found, err := w.getJSON(prefixMarket+m.ID, &cur)
		if err != nil {
			return err
		}
		if err := checkVersion(found, cur.Version, m.Version); err != nil {
			return fmt.Errorf("save market %s: %w", m.ID, err)
		}
		next := *m
		next.Version++
		if err := w.putJSON(prefixMarket+m.ID, next); err != nil {
			return err
		}
		m.Version = next.Version
		return nil
	})
}

func (r marketRepo) List(_ context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	items, err := scanJSON(r.t, prefixMarket, func(m domain.Market) bool {
		return (f.Status == "" || m.Status == f.Status) && (f.Category == "" || m.Category == f.Category)
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b domain.Market) int {
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return domain.CopyBig(b.MarketID).Cmp(domain.CopyBig(a.MarketID))
	})
	return page(items, f.ListOpts), nil
}

type predictionRepo struct{ t *txn }

func (r predictionRepo) Get(_ context.Context, id string) (domain.Prediction, error) {
	var p domain.Prediction
	found, err := r.t.getJSON(prefixPrediction+id, &p)
	if err != nil {
		return domain.Prediction{}, err
	}
	if !found {
		return domain.Prediction{}, fmt.Errorf("prediction %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (r predictionRepo) Save(_ context.Context, p *domain.Prediction) error {
	return r.t.update(func(w *txn) error {
		var cur domain.Prediction
		found, err := w.getJSON(prefixPrediction+p.ID, &cur)
		if err != nil {
			return err
		}
		if err := checkVersion(found, cur.Version, p.Version); err != nil {
			return fmt.Errorf("save prediction %s: %w", p.ID, err)
		}
		next := *p
		next.Version++
		if err := w.putJSON(prefixPrediction+p.ID, next); err != nil {
			return err
		}
		if !found {
			w.put(prefixPredByMkt+p.MarketID+"/"+p.ID, []byte(p.ID))
			w.put(prefixPredByUser+p.User+"/"+p.ID, []byte(p.ID))
		}
		p.Version = next.Version
		return nil
	})
}

func (r predictionRepo) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Prediction, error) {
	return r.listIndex(ctx, prefixPredByMkt+marketID+"/", opts)
}

func (r predictionRepo) ListByUser(ctx context.Context, user string, opts domain.ListOpts) ([]domain.Prediction, error) {
	return r.listIndex(ctx, prefixPredByUser+domain.NormalizeAddress(user)+"/", opts)
}

func (r predictionRepo) listIndex(ctx context.Context, prefix string, opts domain.ListOpts) ([]domain.Prediction, error) {
	var ids []string
	err := r.t.s.db.Iterate([]byte(prefix), func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Prediction, 0, len(ids))
	for _, id := range page(ids, opts) {
		p, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type userRepo struct{ t *txn }

func (r userRepo) Get(_ context.Context, id string) (domain.User, error) {
	var u domain.User
	found, err := r.t.getJSON(prefixUser+id, &u)
	if err != nil {
		return domain.User{}, err
	}
	if !found {
		return domain.User{}, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	return u, nil
}

func (r userRepo) Save(_ context.Context, u *domain.User) error {
	return r.t.update(func(w *txn) error {
		var cur domain.User
		found, err := w.getJSON(prefixUser+u.ID, &cur)
		if err != nil {
			return err
		}
		if err := checkVersion(found, cur.Version, u.Version); err != nil {
			return fmt.Errorf("save user %s: %w", u.ID, err)
		}
		next := *u
		next.Version++
		if err := w.putJSON(prefixUser+u.ID, next); err != nil {
			return err
		}
		u.Version = next.Version
		return nil
	})
}

func (r userRepo) Leaderboard(_ context.Context, order domain.LeaderboardOrder, opts domain.ListOpts) ([]domain.User, error) {
	users, err := scanJSON[domain.User](r.t, prefixUser, nil)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		var c int
		if order == domain.LeaderboardByWinnings {
			c = domain.CopyBig(b.TotalWinnings).Cmp(domain.CopyBig(a.TotalWinnings))
		} else {
			c = domain.CopyBig(b.ReputationScore).Cmp(domain.CopyBig(a.ReputationScore))
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return page(users, opts), nil
}

type statsRepo struct{ t *txn }

func (r statsRepo) Get(_ context.Context) (domain.GlobalStats, error) {
	var s domain.GlobalStats
	found, err := r.t.getJSON(keyGlobalStats, &s)
	if err != nil {
		return domain.GlobalStats{}, err
	}
	if !found {
		return domain.GlobalStats{}, fmt.Errorf("global stats: %w", domain.ErrNotFound)
	}
	return s, nil
}

func (r statsRepo) Ensure(_ context.Context) error {
	return r.t.update(func(w *txn) error {
		var s domain.GlobalStats
		found, err := w.getJSON(keyGlobalStats, &s)
		if err != nil || found {
			return err
		}
		return w.putJSON(keyGlobalStats, zeroStats())
	})
}

func (r statsRepo) Increment(_ context.Context, d domain.StatsDelta) error {
	return r.t.update(func(w *txn) error {
		s := zeroStats()
		if _, err := w.getJSON(keyGlobalStats, &s); err != nil {
			return err
		}
		s.TotalMarkets += d.Markets
		s.TotalPredictions += d.Predictions
		s.TotalUsers += d.Users
		s.TotalResolved += d.Resolved
		s.TotalVolume = domain.AddBig(s.TotalVolume, d.Volume)
		return w.putJSON(keyGlobalStats, s)
	})
}

func zeroStats() domain.GlobalStats {
	return domain.GlobalStats{ID: domain.GlobalStatsID, TotalVolume: domain.Zero()}
}

type rawRepo struct{ t *txn }

func rawIndexKey(ev domain.RawEvent) string {
	return fmt.Sprintf("%s%s/%020d/%010d", prefixRawByName, ev.Name, ev.Meta.BlockNumber, ev.Meta.LogIndex)
}

func (r rawRepo) Append(_ context.Context, ev domain.RawEvent) (bool, error) {
	inserted := false
	err := r.t.update(func(w *txn) error {
		var cur domain.RawEvent
		found, err := w.getJSON(prefixRaw+ev.ID, &cur)
		if err != nil || found {
			return err
		}
		if err := w.putJSON(prefixRaw+ev.ID, ev); err != nil {
			return err
		}
		w.put(rawIndexKey(ev), []byte(ev.ID))
		inserted = true
		return nil
	})
	return inserted, err
}

func (r rawRepo) Get(_ context.Context, id string) (domain.RawEvent, error) {
	var ev domain.RawEvent
	found, err := r.t.getJSON(prefixRaw+id, &ev)
	if err != nil {
		return domain.RawEvent{}, err
	}
	if !found {
		return domain.RawEvent{}, fmt.Errorf("raw event %s: %w", id, domain.ErrNotFound)
	}
	return ev, nil
}

func (r rawRepo) ListByName(ctx context.Context, name string, opts domain.ListOpts) ([]domain.RawEvent, error) {
	var ids []string
	err := r.t.s.db.Iterate([]byte(prefixRawByName+name+"/"), func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.RawEvent, 0, len(ids))
	for _, id := range page(ids, opts) {
		ev, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r rawRepo) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.RawEvent, error) {
	cutoff := before.Unix()
	items, err := scanJSON(r.t, prefixRaw, func(ev domain.RawEvent) bool {
		return ev.Meta.BlockTimestamp < cutoff
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b domain.RawEvent) int {
		if c := cmp.Compare(a.Meta.BlockNumber, b.Meta.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.Meta.LogIndex, b.Meta.LogIndex)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

type checkpointRepo struct{ t *txn }

func checkpointKey(chainID uint64, source string) string {
	return fmt.Sprintf("%s%d/%s", prefixCheckpoint, chainID, source)
}

func (r checkpointRepo) GetCheckpoint(_ context.Context, chainID uint64, source string) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	found, err := r.t.getJSON(checkpointKey(chainID, source), &cp)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	if !found {
		return domain.Checkpoint{}, fmt.Errorf("checkpoint %d/%s: %w", chainID, source, domain.ErrNotFound)
	}
	return cp, nil
}

func (r checkpointRepo) SaveCheckpoint(_ context.Context, cp domain.Checkpoint) error {
	return r.t.update(func(w *txn) error {
		return w.putJSON(checkpointKey(cp.ChainID, cp.Source), cp)
	})
}
