package pool

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/copytrade/router/internal/domain"
)

func TestGetPositionsDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"positions": []map[string]any{{"id": "p1", "symbol": "EURUSD", "side": "buy", "volume": 0.5}},
		})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	positions, err := c.GetPositions(t.Context(), "acct1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 1 || positions[0].ID != "p1" {
		t.Fatalf("unexpected positions: %+v", positions)
	}
}

func TestExecuteTradeReturnsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected a POST, got %s", r.Method)
		}
		json.NewEncoder(w).Encode(domain.TradeResult{Success: true, OrderID: "o1", OpenPrice: 1.2345})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	res, err := c.ExecuteTrade(t.Context(), "acct1", "", domain.TradeRequest{Symbol: "EURUSD", Side: domain.SideBuy, Volume: 0.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.OrderID != "o1" {
		t.Fatalf("unexpected trade result: %+v", res)
	}
}

func TestClosePositionPartialRejectsNonPositiveVolume(t *testing.T) {
	c := New(Config{BaseURL: "http://unused"})
	if _, err := c.ClosePositionPartial(t.Context(), "acct1", "", "p1", 0); err == nil {
		t.Fatalf("expected a non-positive volume to be rejected before any request is sent")
	}
}

func TestDoIdempotentGETRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(domain.AccountSnapshot{Balance: 1000})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 3})
	snap, err := c.GetAccountInfo(t.Context(), "acct1", "")
	if err != nil {
		t.Fatalf("unexpected error after retries succeed: %v", err)
	}
	if snap.Balance != 1000 {
		t.Errorf("unexpected balance: %v", snap)
	}
	if calls < 3 {
		t.Errorf("expected at least 3 attempts before success, got %d", calls)
	}
}

func TestDoIdempotentGETDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 3})
	if _, err := c.GetAccountInfo(t.Context(), "acct1", ""); err == nil {
		t.Fatalf("expected a 404 to return an error")
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt on a 4xx response, got %d", calls)
	}
}

func TestHealthSucceedsOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	if err := c.Health(t.Context()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
