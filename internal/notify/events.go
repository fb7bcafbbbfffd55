package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/copytrade/router/internal/domain"
)

// Event type strings matched against NotifyConfig.Events / the allowed-event
// set passed to NewNotifier.
const (
	EventCopySuccess     = "copy_success"
	EventCopyFailure     = "copy_failure"
	EventFilterRejection = "filter_rejection"
	EventExit            = "exit"
	EventOrphan          = "orphan"
	EventAlert           = "alert"
)

// RouteContext carries the per-route identity a notifier message is
// templated with. It replaces the source's per-instance notifier overrides:
// one Notifier is shared across every route, and callers pass RouteContext
// in on each call instead of the notifier being subclassed per route.
type RouteContext struct {
	RouteID        string
	SourceNickname string
	DestNickname   string
	RuleName       string
}

func (r RouteContext) label() string {
	return fmt.Sprintf("%s -> %s (%s)", r.SourceNickname, r.DestNickname, r.RuleName)
}

// FilterRejection reports a candidate position rejected by the filter
// pipeline, along with every reason collected in trace mode.
func (n *Notifier) FilterRejection(ctx context.Context, rc RouteContext, pos domain.Position, reasons []string) {
	title := fmt.Sprintf("Filtered: %s", rc.label())
	message := fmt.Sprintf("position %s (%s %s %.2f) rejected: %s",
		pos.ID, pos.Symbol, pos.Side, pos.Volume, strings.Join(reasons, "; "))
	_ = n.Notify(ctx, EventFilterRejection, title, message)
}

// CopySuccess reports a completed copy-open.
func (n *Notifier) CopySuccess(ctx context.Context, rc RouteContext, pos domain.Position, destVolume float64, res domain.TradeResult) {
	title := fmt.Sprintf("Copied: %s", rc.label())
	message := fmt.Sprintf("source %s (%s %s %.2f) -> dest order %s, volume %.2f @ %.5f",
		pos.ID, pos.Symbol, pos.Side, pos.Volume, res.OrderID, destVolume, res.OpenPrice)
	_ = n.Notify(ctx, EventCopySuccess, title, message)
}

// CopyFailure reports a copy-open that did not complete, including the
// crash-recovery duplicate-detected case.
func (n *Notifier) CopyFailure(ctx context.Context, rc RouteContext, pos domain.Position, reason string) {
	title := fmt.Sprintf("Copy failed: %s", rc.label())
	message := fmt.Sprintf("source %s (%s %s %.2f): %s", pos.ID, pos.Symbol, pos.Side, pos.Volume, reason)
	_ = n.Notify(ctx, EventCopyFailure, title, message)
}

// Orphan reports a close event for a source position with no tracked
// mapping (the destination position was never opened, or its mapping
// already expired).
func (n *Notifier) Orphan(ctx context.Context, rc RouteContext, sourceAccountID, positionID string) {
	title := fmt.Sprintf("Orphan close: %s", rc.label())
	message := fmt.Sprintf("source account %s position %s closed with no tracked mapping", sourceAccountID, positionID)
	_ = n.Notify(ctx, EventOrphan, title, message)
}

// ExitCopied reports a successful mirrored close.
func (n *Notifier) ExitCopied(ctx context.Context, rc RouteContext, m domain.Mapping, info domain.CloseInfo, res domain.CloseResult) {
	title := fmt.Sprintf("Exit copied: %s", rc.label())
	message := fmt.Sprintf("source %s closed (%s, pnl %.2f) -> dest %s closed, pnl %.2f",
		m.Key.SourcePositionID, info.Reason, info.Profit, m.DestPositionID, res.Profit)
	_ = n.Notify(ctx, EventExit, title, message)
}

// ExitFailure reports a mirrored close attempt that failed and was queued
// for retry.
func (n *Notifier) ExitFailure(ctx context.Context, rc RouteContext, m domain.Mapping, reason string) {
	title := fmt.Sprintf("Exit failed: %s", rc.label())
	message := fmt.Sprintf("dest %s (mirroring source %s): %s, queued for retry",
		m.DestPositionID, m.Key.SourcePositionID, reason)
	_ = n.Notify(ctx, EventExit, title, message)
}

// Alert reports a performance-monitor condition (daily-loss warning,
// consecutive losses, slippage, stale heartbeat).
func (n *Notifier) Alert(ctx context.Context, rc RouteContext, kind, detail string) {
	title := fmt.Sprintf("Alert [%s]: %s", kind, rc.label())
	_ = n.Notify(ctx, EventAlert, title, detail)
}
