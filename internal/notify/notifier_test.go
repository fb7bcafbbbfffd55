package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/copytrade/router/internal/domain"
)

type fakeSender struct {
	name     string
	sent     []string
	failWith error
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.sent = append(f.sent, title+"|"+message)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nilWriter{}, nil))
}

type nilWriter struct{}

func (nilWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestNotifyFiltersUnlistedEvents(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventCopySuccess}, 0, discardLogger())

	_ = n.Notify(context.Background(), EventCopyFailure, "title", "message")
	if len(sender.sent) != 0 {
		t.Errorf("expected copy_failure to be filtered out, got %v", sender.sent)
	}

	_ = n.Notify(context.Background(), EventCopySuccess, "title", "message")
	if len(sender.sent) != 1 {
		t.Errorf("expected copy_success to pass the filter, got %v", sender.sent)
	}
}

func TestNotifyEmptyEventsAllowsEverything(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, 0, discardLogger())

	_ = n.Notify(context.Background(), EventOrphan, "title", "message")
	if len(sender.sent) != 1 {
		t.Errorf("expected an empty event allowlist to permit every event, got %v", sender.sent)
	}
}

func TestNotifySuppressesSpamDuplicates(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, 0, discardLogger())

	_ = n.Notify(context.Background(), EventAlert, "same title", "same message")
	_ = n.Notify(context.Background(), EventAlert, "same title", "same message")
	if len(sender.sent) != 1 {
		t.Errorf("expected the second identical message to be suppressed, got %d sends", len(sender.sent))
	}
}

func TestNotifyAllBypassesEventFilter(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventCopySuccess}, 0, discardLogger())

	if err := n.NotifyAll(context.Background(), "title", "message"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("expected NotifyAll to bypass the event filter, got %v", sender.sent)
	}
}

func TestDispatchAggregatesSenderErrorsButDeliversToAll(t *testing.T) {
	good := &fakeSender{name: "good"}
	bad := &fakeSender{name: "bad", failWith: errors.New("network down")}
	n := NewNotifier([]Sender{good, bad}, nil, 0, discardLogger())

	err := n.NotifyAll(context.Background(), "title", "message")
	if err == nil {
		t.Fatalf("expected an aggregated error when one sender fails")
	}
	if len(good.sent) != 1 {
		t.Errorf("expected the working sender to still receive the message")
	}
}

func TestAlertFormatsRouteContext(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, 0, discardLogger())

	n.Alert(context.Background(), RouteContext{RouteID: "r1", SourceNickname: "src", DestNickname: "dst", RuleName: "conservative"}, "slippage", "last fill slipped 2.0 pips")
	if len(sender.sent) != 1 {
		t.Fatalf("expected one notification to be sent")
	}
}

func TestCopySuccessMessageIncludesKeyFields(t *testing.T) {
	sender := &fakeSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, 0, discardLogger())

	pos := domain.Position{ID: "p1", Symbol: "EURUSD", Side: domain.SideBuy, Volume: 0.5}
	res := domain.TradeResult{OrderID: "o1", OpenPrice: 1.2345}
	n.CopySuccess(context.Background(), RouteContext{}, pos, 0.5, res)

	if len(sender.sent) != 1 {
		t.Fatalf("expected one notification to be sent")
	}
}
