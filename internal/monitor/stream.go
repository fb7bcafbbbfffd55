package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/copytrade/router/internal/domain"
	"github.com/copytrade/router/internal/pool"
)

// reconnectInitial and reconnectMax bound the wait between streaming
// reconnect attempts.
const (
	reconnectInitial = 1 * time.Second
	reconnectMax     = 30 * time.Second
)

// StreamSource consumes the pool's websocket streaming feed for one source
// account and normalizes it into domain.Events, reconnecting with backoff and
// resynchronizing against a fresh snapshot whenever the connection drops.
type StreamSource struct {
	accountID string
	region    string
	symbols   []string
	client    *pool.Client
	log       *slog.Logger

	events       chan domain.Event
	pendingClose map[string]closeGuess
}

// NewStreamSource builds a streaming position monitor over the pool client's
// websocket transport.
func NewStreamSource(accountID, region string, symbols []string, client *pool.Client, log *slog.Logger) *StreamSource {
	return &StreamSource{
		accountID: accountID,
		region:    region,
		symbols:   symbols,
		client:    client,
		log:       log.With(slog.String("component", "monitor.stream"), slog.String("account", accountID)),
		events:    make(chan domain.Event, 128),
		pendingClose: make(map[string]closeGuess),
	}
}

func (s *StreamSource) Events() <-chan domain.Event {
	return s.events
}

// Run connects, streams, and reconnects-with-backoff until ctx is cancelled.
func (s *StreamSource) Run(ctx context.Context) error {
	defer close(s.events)

	known := make(map[string]domain.Position)
	backoff := reconnectInitial

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.resync(ctx, known); err != nil {
			s.log.Warn("resync before connect failed", slog.Any("error", err))
		}

		conn, err := s.client.InitializeStreaming(ctx, s.accountID, s.region, s.symbols)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("streaming connect failed, retrying", slog.Any("error", err), slog.Duration("backoff", backoff))
			if !s.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}

		backoff = reconnectInitial
		s.consume(ctx, conn, known)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn("stream disconnected, resyncing and reconnecting")
	}
}

func (s *StreamSource) consume(ctx context.Context, conn *pool.StreamConn, known map[string]domain.Position) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-conn.Events():
			if !ok {
				if err := conn.Err(); err != nil && !errors.Is(err, domain.ErrWSDisconnect) {
					s.log.Warn("stream error", slog.Any("error", err))
				}
				return
			}
			s.translate(ctx, raw, known)
		}
	}
}

func (s *StreamSource) translate(ctx context.Context, raw pool.StreamEvent, known map[string]domain.Position) {
	switch raw.Type {
	case "onPositionUpdated":
		pos := raw.Position
		prev, ok := known[pos.ID]
		known[pos.ID] = pos
		if !ok {
			s.emit(ctx, domain.Event{Kind: domain.EventOpened, AccountID: s.accountID, Position: pos})
			return
		}
		if changed(prev, pos) {
			s.emit(ctx, domain.Event{Kind: domain.EventUpdated, AccountID: s.accountID, Position: pos})
		}
	case "onDealAdded":
		// A close deal; dealComment classifies the reason. The position
		// itself is removed via the subsequent onPositionRemoved, but
		// stash the deal info keyed by id so that event can attach it.
		s.pendingClose[raw.Position.ID] = closeGuess{
			reason: classifyCloseComment(raw.DealComment),
			profit: raw.DealProfit,
		}
	case "onPositionRemoved":
		pos, ok := known[raw.Position.ID]
		if !ok {
			pos = raw.Position
		}
		delete(known, raw.Position.ID)
		info := &domain.CloseInfo{Reason: domain.CloseReasonOpaque, Profit: pos.Profit}
		if guess, ok := s.pendingClose[raw.Position.ID]; ok {
			info.Reason = guess.reason
			info.Profit = guess.profit
			delete(s.pendingClose, raw.Position.ID)
		}
		s.emit(ctx, domain.Event{Kind: domain.EventClosed, AccountID: s.accountID, Position: pos, CloseInfo: info})
	case "onPositionsSynchronized":
		// No-op marker from the pool; the full resync on (re)connect already
		// covers this.
	}
}

type closeGuess struct {
	reason domain.CloseReason
	profit float64
}

// resync refetches the account's current positions and synthesizes any
// Opened/Closed events needed to bring known up to date with reality, so a
// reconnect gap never silently loses an open or a close.
func (s *StreamSource) resync(ctx context.Context, known map[string]domain.Position) error {
	current, err := s.client.GetPositions(ctx, s.accountID, s.region)
	if err != nil {
		return fmt.Errorf("monitor: resync %s: %w", s.accountID, err)
	}

	seen := make(map[string]struct{}, len(current))
	for _, pos := range current {
		seen[pos.ID] = struct{}{}
		if prev, ok := known[pos.ID]; !ok {
			known[pos.ID] = pos
			s.emit(ctx, domain.Event{Kind: domain.EventOpened, AccountID: s.accountID, Position: pos})
		} else if changed(prev, pos) {
			known[pos.ID] = pos
			s.emit(ctx, domain.Event{Kind: domain.EventUpdated, AccountID: s.accountID, Position: pos})
		}
	}
	for id, pos := range known {
		if _, ok := seen[id]; ok {
			continue
		}
		delete(known, id)
		s.emit(ctx, domain.Event{
			Kind:      domain.EventClosed,
			AccountID: s.accountID,
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
func (s *StreamSource) emit(ctx context.Context, evt domain.Event) {
	if n := len(s.events); n >= eventQueueHighWaterMark {
		s.log.Warn("event queue backed up", slog.Int("depth", n), slog.String("kind", string(evt.Kind)))
	}
	select {
	case s.events <- evt:
	case <-ctx.Done():
	}
}

func (s *StreamSource) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > reconnectMax {
		return reconnectMax
	}
	return next
}

// classifyCloseComment infers a CloseReason from the broker's free-text deal
// comment. Brokers are not consistent about this text, so matching is
// case-insensitive substring matching with a safe default.
func classifyCloseComment(comment string) domain.CloseReason {
	lower := strings.ToLower(comment)
	switch {
	case strings.Contains(lower, "tp") || strings.Contains(lower, "take profit"):
		return domain.CloseReasonTP
	case strings.Contains(lower, "sl") || strings.Contains(lower, "stop loss"):
		return domain.CloseReasonSL
	case strings.Contains(lower, "stop out") || strings.Contains(lower, "so "):
		return domain.CloseReasonStopOut
	case strings.Contains(lower, "ea") || strings.Contains(lower, "copy_"):
		return domain.CloseReasonEAClose
	case comment == "":
		return domain.CloseReasonOpaque
	default:
		return domain.CloseReasonOther
	}
}
