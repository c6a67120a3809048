// Package notify delivers operator alerts to Telegram and Discord, filtered
// by alert kind.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/predictindexer/internal/domain"
)

// Alert kinds accepted in the notify.events config list.
const (
	EventMarketResolved = "market_resolved"
	EventIndexerError   = "indexer_error"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans an alert out to every sender when its kind is enabled. An
// empty kind list enables everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether alerts of the given kind are delivered.
func (n *Notifier) Enabled(event string) bool {
	return len(n.senders) > 0 && (len(n.events) == 0 || n.events[event])
}

// Notify delivers to every sender. A failing sender does not stop delivery
// to the others; failures are joined into the returned error.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent", slog.String("sender", s.Name()), slog.String("event", event))
	}
	return errors.Join(errs...)
}

// MarketResolved alerts that m has settled.
func (n *Notifier) MarketResolved(ctx context.Context, m domain.Market) error {
	title := fmt.Sprintf("Market %s resolved", m.ID)
	var b strings.Builder
	if m.Question != "" {
		fmt.Fprintf(&b, "%s\n", m.Question)
	}
	fmt.Fprintf(&b, "Winning outcome: %s", domain.BigString(m.WinningOutcome))
	if m.MarketType == domain.MarketTypeCrowdWisdom {
		fmt.Fprintf(&b, " (index %s)", domain.BigString(m.WinningOutcomeIndex))
	}
	fmt.Fprintf(&b, "\nPool: %s (%d predictions)", domain.BigString(m.TotalPool), m.PredictionCount)
	if m.TotalPayout != nil {
		fmt.Fprintf(&b, "\nPayout: %s", m.TotalPayout)
	}
	return n.Notify(ctx, EventMarketResolved, title, b.String())
}

// IndexerError alerts that the log source failed a poll.
func (n *Notifier) IndexerError(ctx context.Context, err error) error {
	return n.Notify(ctx, EventIndexerError, "Indexer error", err.Error())
}
