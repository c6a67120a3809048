package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/predictindexer/internal/domain"
	"github.com/alanyoungcy/predictindexer/internal/metrics"
)

// Observer is notified after an event's writes have committed.
type Observer interface {
	Committed(ctx context.Context, ev domain.Event, ch Changes)
}

// DispatcherConfig tunes a Dispatcher.
type DispatcherConfig struct {
	// ConflictRetries is how many times a handler is re-run after ErrConflict.
	ConflictRetries int
}

// Dispatcher validates events and applies them transactionally.
type Dispatcher struct {
	store     domain.EntityStore
	registry  *Registry
	validate  *validator.Validate
	cfg       DispatcherConfig
	metrics   *metrics.Metrics
	observers []Observer
	logger    *slog.Logger
}

func NewDispatcher(
	store domain.EntityStore,
	registry *Registry,
	cfg DispatcherConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
	observers ...Observer,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		registry:  registry,
		validate:  validator.New(),
		cfg:       cfg,
		metrics:   m,
		observers: observers,
		logger:    logger,
	}
}

// AddObserver registers o for subsequent commits. Not safe for use while
// events are being dispatched.
func (d *Dispatcher) AddObserver(o Observer) {
	d.observers = append(d.observers, o)
}

// Dispatch applies ev. Duplicate deliveries return nil without changing any
// derived entity.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.Event) error {
	start := time.Now()
	name := ev.EventName()

	if err := d.Validate(ev); err != nil {
		d.metrics.ObserveEvent(name, metrics.OutcomeInvalid, time.Since(start))
		return err
	}
	meta := ev.Metadata()
	handler, ok := d.registry.Lookup(meta.Contract, name)
	if !ok {
		d.metrics.ObserveEvent(name, metrics.OutcomeUnknown, time.Since(start))
		return fmt.Errorf("%w: %s.%s", domain.ErrUnknownEvent, meta.Contract, name)
	}

	var ch Changes
	var err error
	for attempt := 0; attempt <= d.cfg.ConflictRetries; attempt++ {
		ch = Changes{}
		err = d.store.RunInTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			return handler(ctx, tx, ev, &ch)
		})
		if !errors.Is(err, domain.ErrConflict) {
			break
		}
		d.metrics.IncConflict(name)
		d.logger.Debug("store conflict, retrying handler",
			slog.String("event", name),
			slog.String("id", meta.RawEventID()),
			slog.Int("attempt", attempt+1),
		)
	}

	switch {
	case errors.Is(err, domain.ErrDuplicateEvent):
		d.metrics.ObserveEvent(name, metrics.OutcomeDuplicate, time.Since(start))
		d.logger.Debug("duplicate event skipped", slog.String("event", name), slog.String("id", meta.RawEventID()))
		return nil
	case err != nil:
		d.metrics.ObserveEvent(name, metrics.OutcomeError, time.Since(start))
		return fmt.Errorf("dispatch %s %s: %w", name, meta.RawEventID(), err)
	}

	d.metrics.ObserveEvent(name, metrics.OutcomeOK, time.Since(start))
	for _, o := range d.observers {
		o.Committed(ctx, ev, ch)
	}
	return nil
}

// Validate checks struct tags and amount invariants.
func (d *Dispatcher) Validate(ev domain.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", domain.ErrInvalidEvent)
	}
	if err := d.validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidEvent, ev.EventName(), err)
	}

	var amounts []*big.Int
	switch e := ev.(type) {
	case domain.MarketCreated:
		amounts = []*big.Int{e.MarketID, e.EndTime}
	case domain.PredictionMade:
		if e.Side > 1 {
			return fmt.Errorf("%w: PredictionMade side %d", domain.ErrInvalidEvent, e.Side)
		}
		amounts = []*big.Int{e.MarketID, e.OutcomeIndex, e.Amount}
	case domain.MarketResolved:
		amounts = []*big.Int{e.MarketID, e.WinningOutcome, e.WinningOutcomeIndex, e.TotalPayout}
	case domain.PayoutClaimed:
		amounts = []*big.Int{e.MarketID, e.Amount}
	case domain.ReputationUpdated:
		amounts = []*big.Int{e.NewScore, e.Streak}
	}
	for _, v := range amounts {
		if v != nil && v.Sign() < 0 {
			return fmt.Errorf("%w: %s has negative value %s", domain.ErrInvalidEvent, ev.EventName(), v)
		}
	}
	return nil
}
