// Package monitor turns broker polling or streaming into an ordered,
// per-position stream of Opened/Updated/Closed events. Two
// backends are provided; subscribers see the same domain.Event shape either
// way.
package monitor

import (
	"context"

	"github.com/copytrade/router/internal/domain"
)

// Source produces an ordered stream of position lifecycle events for one
// source account. For any single position id, Opened precedes zero or more
// Updated which precede at most one terminal Closed; there is no ordering
// guarantee across different ids.
type Source interface {
	// Run starts the monitor; it blocks until ctx is cancelled or an
	// unrecoverable error occurs. Events are delivered on the channel
	// returned by Events, which must be called before Run.
	Run(ctx context.Context) error
	// Events returns the channel events are delivered on. Closed when Run
	// returns.
	Events() <-chan domain.Event
}

// noiseThreshold is the minimum change in profit before an Updated event is
// emitted for a position whose volume, stop loss and take profit are
// unchanged; any change to one of those emits an Updated event regardless.
const noiseThreshold = 0.005

func changed(old, next domain.Position) bool {
	if old.Volume != next.Volume {
		return true
	}
	if !equalPtr(old.StopLoss, next.StopLoss) {
		return true
	}
	if !equalPtr(old.TakeProfit, next.TakeProfit) {
		return true
	}
	diff := next.Profit - old.Profit
	if diff < 0 {
		diff = -diff
	}
	return diff > noiseThreshold
}

func equalPtr(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
