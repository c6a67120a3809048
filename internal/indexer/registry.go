package indexer

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// HandlerFunc applies one event inside a transaction.
type HandlerFunc func(ctx context.Context, tx domain.Tx, ev domain.Event, ch *Changes) error

// On adapts a typed handler to HandlerFunc.
func On[E domain.Event](fn func(ctx context.Context, tx domain.Tx, ev E, ch *Changes) error) HandlerFunc {
	return func(ctx context.Context, tx domain.Tx, ev domain.Event, ch *Changes) error {
		typed, ok := ev.(E)
		if !ok {
			return fmt.Errorf("%w: %s delivered as %T", domain.ErrInvalidEvent, ev.EventName(), ev)
		}
		return fn(ctx, tx, typed, ch)
	}
}

type registryKey struct {
	contract string
	event    string
}

// Registry binds exactly one handler per (contract, event) pair.
type Registry struct {
	handlers map[registryKey]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[registryKey]HandlerFunc)}
}

// Register binds fn. Binding the same pair twice is a wiring bug and panics.
func (r *Registry) Register(contract, event string, fn HandlerFunc) {
	key := registryKey{contract: contract, event: event}
	if _, dup := r.handlers[key]; dup {
		panic(fmt.Sprintf("indexer: handler for %s.%s registered twice", contract, event))
	}
	r.handlers[key] = fn
}

func (r *Registry) Lookup(contract, event string) (HandlerFunc, bool) {
	fn, ok := r.handlers[registryKey{contract: contract, event: event}]
	return fn, ok
}

// Bindings lists registered pairs as "contract.event", sorted.
func (r *Registry) Bindings() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k.contract+"."+k.event)
	}
	sort.Strings(out)
	return out
}

// PredictionMarketRegistry binds every PredictionMarket event to h.
func PredictionMarketRegistry(h *Handlers) *Registry {
	const c = domain.ContractPredictionMarket
	r := NewRegistry()
	r.Register(c, domain.EventMarketCreated, On(h.MarketCreated))
	r.Register(c, domain.EventPredictionMade, On(h.PredictionMade))
	r.Register(c, domain.EventMarketResolved, On(h.MarketResolved))
	r.Register(c, domain.EventPayoutClaimed, On(h.PayoutClaimed))
	r.Register(c, domain.EventReputationUpdated, On(h.ReputationUpdated))
	r.Register(c, domain.EventUsernameSet, On(h.UsernameSet))
	r.Register(c, domain.EventOwnershipTransferred, On(h.OwnershipTransferred))
	return r
}
