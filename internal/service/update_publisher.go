package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/indexer"
)

// Update is the payload published on the ch:* channels after a commit.
type Update struct {
	Kind  string `json:"kind"`
	ID    string `json:"id"`
	Event string `json:"event"`
	Block uint64 `json:"block"`
}

// Broadcaster delivers updates to in-process listeners such as the
// websocket hub.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// ResolutionNotifier alerts operators about settled markets.
type ResolutionNotifier interface {
	MarketResolved(ctx context.Context, m domain.Market) error
}

// UpdatePublisher implements indexer.Observer. After each committed event
// it drops stale cache entries, announces the touched entities and
// forwards resolutions to the notifier. All dependencies are optional and
// every failure is logged without affecting indexing.
type UpdatePublisher struct {
	cache    domain.EntityCache
	bus      domain.SignalBus
	local    Broadcaster
	notifier ResolutionNotifier
	logger   *slog.Logger
}

// PublisherDeps lists the optional sinks of an UpdatePublisher.
type PublisherDeps struct {
	Cache    domain.EntityCache
	Bus      domain.SignalBus
	Local    Broadcaster
	Notifier ResolutionNotifier
}

// NewUpdatePublisher creates an UpdatePublisher.
func NewUpdatePublisher(deps PublisherDeps, logger *slog.Logger) *UpdatePublisher {
	return &UpdatePublisher{
		cache:    deps.Cache,
		bus:      deps.Bus,
		local:    deps.Local,
		notifier: deps.Notifier,
		logger:   logger,
	}
}

var _ indexer.Observer = (*UpdatePublisher)(nil)

// Committed is called by the dispatcher once ev's writes are durable.
func (p *UpdatePublisher) Committed(ctx context.Context, ev domain.Event, ch indexer.Changes) {
	p.invalidate(ctx, ch)

	meta := ev.Metadata()
	announce := func(channel, kind, id string) {
		p.publish(ctx, channel, Update{Kind: kind, ID: id, Event: ev.EventName(), Block: meta.BlockNumber})
	}
	for _, id := range ch.Markets {
		announce(domain.ChannelMarket, "market", id)
	}
	for _, id := range ch.Users {
		announce(domain.ChannelUser, "user", id)
	}
	if ch.Stats {
		announce(domain.ChannelStats, "stats", domain.GlobalStatsID)
	}
	if ch.Raw != nil {
		p.publish(ctx, domain.ChannelEvent, ch.Raw)
		p.appendStream(ctx, *ch.Raw)
	}

	if p.notifier != nil {
		for _, m := range ch.Resolved {
			if err := p.notifier.MarketResolved(ctx, m); err != nil {
				p.warn(ctx, "resolution notify failed", err, slog.String("market", m.ID))
			}
		}
	}
}

func (p *UpdatePublisher) invalidate(ctx context.Context, ch indexer.Changes) {
	if p.cache == nil {
		return
	}
	for _, id := range ch.Markets {
		if err := p.cache.InvalidateMarket(ctx, id); err != nil {
			p.warn(ctx, "cache invalidate failed", err, slog.String("market", id))
		}
	}
	for _, id := range ch.Users {
		if err := p.cache.InvalidateUser(ctx, id); err != nil {
			p.warn(ctx, "cache invalidate failed", err, slog.String("user", id))
		}
	}
	if ch.Stats {
		if err := p.cache.InvalidateStats(ctx); err != nil {
			p.warn(ctx, "cache invalidate failed", err, slog.String("stats", domain.GlobalStatsID))
		}
	}
}

func (p *UpdatePublisher) publish(ctx context.Context, channel string, v any) {
	if p.bus == nil && p.local == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.warn(ctx, "marshal update failed", err, slog.String("channel", channel))
		return
	}
	if p.bus != nil {
		if err := p.bus.Publish(ctx, channel, data); err != nil {
			p.warn(ctx, "publish failed", err, slog.String("channel", channel))
		}
		return
	}
	p.local.Broadcast(channel, data)
}

func (p *UpdatePublisher) appendStream(ctx context.Context, raw domain.RawEvent) {
	if p.bus == nil {
		return
	}
	data, err := json.Marshal(raw)
	if err != nil {
		p.warn(ctx, "marshal raw event failed", err, slog.String("id", raw.ID))
		return
	}
	if err := p.bus.StreamAppend(ctx, domain.StreamRawEvents, data); err != nil {
		p.warn(ctx, "stream append failed", err, slog.String("id", raw.ID))
	}
}

func (p *UpdatePublisher) warn(ctx context.Context, msg string, err error, attrs ...any) {
	p.logger.WarnContext(ctx, msg, append(attrs, slog.String("error", err.Error()))...)
}
