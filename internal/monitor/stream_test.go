package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/copytrade/router/internal/domain"
	"github.com/copytrade/router/internal/pool"
)

func newStreamSourceForTest() *StreamSource {
	return &StreamSource{
		accountID:    "acct1",
		log:          discardLog(),
		events:       make(chan domain.Event, 128),
		pendingClose: make(map[string]closeGuess),
	}
}

func TestTranslateOnPositionUpdatedEmitsOpenedForNewPosition(t *testing.T) {
	s := newStreamSourceForTest()
	known := make(map[string]domain.Position)

	s.translate(context.Background(), pool.StreamEvent{Type: "onPositionUpdated", Position: domain.Position{ID: "p1", Volume: 0.5}}, known)

	select {
	case ev := <-s.events:
		if ev.Kind != domain.EventOpened {
			t.Fatalf("expected an opened event, got %v", ev.Kind)
		}
	default:
		t.Fatalf("expected an event to be emitted")
	}
}

func TestTranslateOnPositionUpdatedEmitsUpdatedForChangedPosition(t *testing.T) {
	s := newStreamSourceForTest()
	known := map[string]domain.Position{"p1": {ID: "p1", Volume: 0.5}}

	s.translate(context.Background(), pool.StreamEvent{Type: "onPositionUpdated", Position: domain.Position{ID: "p1", Volume: 0.3}}, known)

	select {
	case ev := <-s.events:
		if ev.Kind != domain.EventUpdated {
			t.Fatalf("expected an updated event, got %v", ev.Kind)
		}
	default:
		t.Fatalf("expected an event to be emitted")
	}
}

func TestTranslateOnDealAddedStashesCloseGuess(t *testing.T) {
	s := newStreamSourceForTest()
	known := make(map[string]domain.Position)

	s.translate(context.Background(), pool.StreamEvent{Type: "onDealAdded", Position: domain.Position{ID: "p1"}, DealComment: "tp hit", DealProfit: 42}, known)

	guess, ok := s.pendingClose["p1"]
	if !ok {
		t.Fatalf("expected a pending close guess to be stashed")
	}
	if guess.reason != domain.CloseReasonTP || guess.profit != 42 {
		t.Errorf("unexpected guess: %+v", guess)
	}
}

func TestTranslateOnPositionRemovedUsesStashedCloseGuess(t *testing.T) {
	s := newStreamSourceForTest()
	known := map[string]domain.Position{"p1": {ID: "p1"}}
	s.pendingClose["p1"] = closeGuess{reason: domain.CloseReasonSL, profit: -10}

	s.translate(context.Background(), pool.StreamEvent{Type: "onPositionRemoved", Position: domain.Position{ID: "p1"}}, known)

	select {
	case ev := <-s.events:
		if ev.Kind != domain.EventClosed || ev.CloseInfo.Reason != domain.CloseReasonSL || ev.CloseInfo.Profit != -10 {
			t.Fatalf("unexpected close event: %+v", ev)
		}
	default:
		t.Fatalf("expected a closed event to be emitted")
	}
	if _, ok := known["p1"]; ok {
		t.Errorf("expected the removed position to leave the known set")
	}
	if _, ok := s.pendingClose["p1"]; ok {
		t.Errorf("expected the stashed close guess to be consumed")
	}
}

func TestTranslateOnPositionRemovedWithoutGuessDefaultsOpaque(t *testing.T) {
	s := newStreamSourceForTest()
	known := map[string]domain.Position{"p1": {ID: "p1", Profit: 7}}

	s.translate(context.Background(), pool.StreamEvent{Type: "onPositionRemoved", Position: domain.Position{ID: "p1"}}, known)

	ev := <-s.events
	if ev.CloseInfo.Reason != domain.CloseReasonOpaque || ev.CloseInfo.Profit != 7 {
		t.Fatalf("unexpected close info: %+v", ev.CloseInfo)
	}
}

func TestClassifyCloseComment(t *testing.T) {
	cases := map[string]domain.CloseReason{
		"Take Profit hit":     domain.CloseReasonTP,
		"tp":                  domain.CloseReasonTP,
		"Stop Loss triggered": domain.CloseReasonSL,
		"margin call stop out": domain.CloseReasonStopOut,
		"so margin call":      domain.CloseReasonStopOut,
		"closed by EA":        domain.CloseReasonEAClose,
		"":                    domain.CloseReasonOpaque,
		"manual close":        domain.CloseReasonOther,
	}
	for comment, want := range cases {
		if got := classifyCloseComment(comment); got != want {
			t.Errorf("classifyCloseComment(%q) = %v, want %v", comment, got, want)
		}
	}
}

func TestNextBackoffDoublesUpToMax(t *testing.T) {
	if got := nextBackoff(1 * time.Second); got != 2*time.Second {
		t.Errorf("expected doubling, got %v", got)
	}
	if got := nextBackoff(20 * time.Second); got != reconnectMax {
		t.Errorf("expected clamping to reconnectMax, got %v", got)
	}
}
