package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/copytrade/router/internal/domain"
)

// eventQueueHighWaterMark is logged once a source's buffered event channel
// grows past this depth, as an early signal that the consuming worker is
// falling behind.
const eventQueueHighWaterMark = 96

// PollSource polls the pool for a source account's open positions on a fixed
// interval and diffs each snapshot against the last one to derive
// Opened/Updated/Closed events.
type PollSource struct {
	accountID string
	region    string
	interval  time.Duration
	fetch     func(ctx context.Context, account, region string) ([]domain.Position, error)
	log       *slog.Logger

	events chan domain.Event
}

// NewPollSource builds a polling position monitor. fetch is the pool client's
// GetPositions method; it is injected so tests can fake broker responses
// without an HTTP server.
func NewPollSource(accountID, region string, interval time.Duration, fetch func(ctx context.Context, account, region string) ([]domain.Position, error), log *slog.Logger) *PollSource {
	return &PollSource{
		accountID: accountID,
		region:    region,
		interval:  interval,
		fetch:     fetch,
		log:       log.With(slog.String("component", "monitor.poll"), slog.String("account", accountID)),
		events:    make(chan domain.Event, 128),
	}
}

func (p *PollSource) Events() <-chan domain.Event {
	return p.events
}

// Run polls until ctx is cancelled. Fetch errors are logged and retried on
// the next tick rather than treated as fatal — a single failed poll does not
// mean the source account has no positions.
func (p *PollSource) Run(ctx context.Context) error {
	defer close(p.events)

	known := make(map[string]domain.Position)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if err := p.tick(ctx, known); err != nil {
		p.log.Warn("initial poll failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.tick(ctx, known); err != nil {
				p.log.Warn("poll failed", slog.Any("error", err))
			}
		}
	}
}

func (p *PollSource) tick(ctx context.Context, known map[string]domain.Position) error {
	current, err := p.fetch(ctx, p.accountID, p.region)
	if err != nil {
		return fmt.Errorf("monitor: poll %s: %w", p.accountID, err)
	}

	seen := make(map[string]struct{}, len(current))
	for _, pos := range current {
		seen[pos.ID] = struct{}{}
		prev, ok := known[pos.ID]
		switch {
		case !ok:
			known[pos.ID] = pos
			p.emit(ctx, domain.Event{Kind: domain.EventOpened, AccountID: p.accountID, Position: pos})
		case changed(prev, pos):
			known[pos.ID] = pos
			p.emit(ctx, domain.Event{Kind: domain.EventUpdated, AccountID: p.accountID, Position: pos})
		}
	}

	for id, pos := range known {
		if _, ok := seen[id]; ok {
			continue
		}
		delete(known, id)
		p.emit(ctx, domain.Event{
			Kind:      domain.EventClosed,
			AccountID: p.accountID,
			Position:  pos,
			CloseInfo: &domain.CloseInfo{Reason: domain.CloseReasonOpaque, Profit: pos.Profit},
		})
	}
	return nil
}

// emit blocks until the event is delivered or ctx is cancelled. The queue is
// allowed to grow; an Opened or Closed event dropped here would desync the
// worker's position state or leak a mapping, so backlogged events are held
// rather than discarded.
func (p *PollSource) emit(ctx context.Context, evt domain.Event) {
	if n := len(p.events); n >= eventQueueHighWaterMark {
		p.log.Warn("event queue backed up", slog.Int("depth", n), slog.String("kind", string(evt.Kind)))
	}
	select {
	case p.events <- evt:
	case <-ctx.Done():
	}
}
