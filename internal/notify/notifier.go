// Package notify delivers rebalance run results to operator channels
// (Telegram, Discord). Events can be filtered so operators receive only the
// outcomes they care about, e.g. partial and failed runs but not successes.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mvtreasury/vaultbot/internal/domain"
)

// Event types emitted by the rebalance orchestrator, keyed by run status.
const (
	EventRunSucceeded = "run.succeeded"
	EventRunPartial   = "run.partial"
	EventRunFailed    = "run.failed"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders, filtered by an
// allowed event set. An empty set allows every event.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders. Only
// events whose type appears in the events slice are forwarded; an empty
// slice allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
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

// NotifyRun formats and dispatches the outcome of a rebalance run.
func (n *Notifier) NotifyRun(ctx context.Context, run domain.RebalanceRun) error {
	return n.Notify(ctx, runEvent(run.Status), runTitle(run), runMessage(run))
}

// Notify sends a notification if the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch fans out to all senders. A single sender failure does not prevent
// delivery to the remaining senders; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

func runEvent(status domain.RebalanceStatus) string {
	switch status {
	case domain.RebalanceSucceeded:
		return EventRunSucceeded
	case domain.RebalancePartial:
		return EventRunPartial
	default:
		return EventRunFailed
	}
}

func runTitle(run domain.RebalanceRun) string {
	mode := ""
	if run.DryRun {
		mode = " (dry run)"
	}
	return fmt.Sprintf("Rebalance %s%s", run.Status, mode)
}

func runMessage(run domain.RebalanceRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Wallet: %s\n", run.Wallet)
	fmt.Fprintf(&b, "Risk tier: %s\n", run.RiskTier)
	fmt.Fprintf(&b, "Total value: $%.2f\n", run.TotalValue)
	fmt.Fprintf(&b, "Allocation (%s): reserve %.1f%% / yield %.1f%% / growth %.1f%% / degen %.1f%%\n",
		run.AllocationSource,
		run.Allocation.Reserve, run.Allocation.Yield,
		run.Allocation.Growth, run.Allocation.Degen,
	)
	fmt.Fprintf(&b, "Transfers: %d", len(run.Transfers))
	if len(run.Errors) > 0 {
		fmt.Fprintf(&b, "\nErrors:\n")
		for _, e := range run.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
