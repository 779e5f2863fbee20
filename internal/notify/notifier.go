// Package notify delivers copy-trade lifecycle alerts over one or more
// channels (Telegram, Discord). Events can be filtered so operators only
// receive the alert types they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cosminimum/polycopy/internal/domain"
)

// Event types emitted by the engine.
const (
	EventTradeCopied   = "trade_copied"
	EventTradeFailed   = "trade_failed"
	EventSetupComplete = "setup_complete"
	EventEngineError   = "engine_error"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns the channel identifier (e.g. "telegram").
	Name() string
}

// Notifier dispatches events to every registered sender, filtered by an
// allow-list of event types. An empty allow-list passes everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// TradeCopied announces a completed copy trade with its filled figures.
func (n *Notifier) TradeCopied(ctx context.Context, rec domain.TradeRecord) {
	n.notify(ctx, EventTradeCopied, "Trade copied",
		fmt.Sprintf("%s %.2f shares of %s/%s at $%.4f (value $%.2f), following %s",
			rec.Side, rec.FilledSize, rec.ConditionID, rec.Outcome,
			safeDiv(rec.FilledValue, rec.FilledSize), rec.FilledValue, rec.TraderWallet))
}

// TradeFailed announces a copy attempt that ended FAILED, carrying the stable
// error code so the recipient can tell a balance problem from a venue one.
func (n *Notifier) TradeFailed(ctx context.Context, rec domain.TradeRecord) {
	n.notify(ctx, EventTradeFailed, "Trade failed",
		fmt.Sprintf("%s %s/%s for user %s: [%s] %s",
			rec.Side, rec.ConditionID, rec.Outcome, rec.UserID,
			rec.ErrorCode, rec.ErrorMessage))
}

// SetupComplete announces that a user's wallet finished security setup.
func (n *Notifier) SetupComplete(ctx context.Context, userID, wallet string) {
	n.notify(ctx, EventSetupComplete, "Security setup complete",
		fmt.Sprintf("user %s wallet %s is trade-ready", userID, wallet))
}

// EngineError announces an internal failure that is not tied to one trade.
func (n *Notifier) EngineError(ctx context.Context, where string, err error) {
	n.notify(ctx, EventEngineError, "Engine error",
		fmt.Sprintf("%s: %v", where, err))
}

// notify applies the event filter and dispatches to every sender. A failing
// sender never blocks the others or the caller.
func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		return
	}
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
