package filter

import (
	"testing"
	"time"

	"github.com/copytrade/router/internal/domain"
)

func TestAlreadyProcessedFilter(t *testing.T) {
	f := alreadyProcessedFilter{}
	c := Candidate{Position: domain.Position{ID: "p1"}}

	ok, _ := f.Evaluate(c, State{ProcessedIDs: map[string]struct{}{"p1": {}}})
	if ok {
		t.Errorf("expected rejection for an already-processed id")
	}

	ok, _ = f.Evaluate(c, State{ProcessedIDs: map[string]struct{}{"other": {}}})
	if !ok {
		t.Errorf("expected acceptance for an unseen id")
	}
}

func TestDailyLossGuardFilter(t *testing.T) {
	f := dailyLossGuardFilter{}
	rule := domain.RuleSet{MaxDailyLoss: 1000}

	if ok, _ := f.Evaluate(Candidate{}, State{Rule: rule, DailyLoss: 750}); !ok {
		t.Errorf("750 is below the 80%% threshold of 1000, expected acceptance")
	}
	if ok, _ := f.Evaluate(Candidate{}, State{Rule: rule, DailyLoss: 800}); ok {
		t.Errorf("800 is exactly the 80%% threshold of 1000, expected rejection")
	}
	if ok, _ := f.Evaluate(Candidate{}, State{Rule: domain.RuleSet{MaxDailyLoss: 0}, DailyLoss: 1_000_000}); !ok {
		t.Errorf("MaxDailyLoss<=0 disables the guard, expected acceptance")
	}
}

func TestMaxConcurrentCyclesFilter(t *testing.T) {
	f := maxConcurrentCyclesFilter{}
	rule := domain.RuleSet{MaxConcurrentCycles: 3}

	if ok, _ := f.Evaluate(Candidate{}, State{Rule: rule, ActiveCycles: 2}); !ok {
		t.Errorf("2 < 3, expected acceptance")
	}
	if ok, _ := f.Evaluate(Candidate{}, State{Rule: rule, ActiveCycles: 3}); ok {
		t.Errorf("3 >= cap 3, expected rejection")
	}
}

func TestMinIntervalFilter(t *testing.T) {
	f := minIntervalFilter{}
	rule := domain.RuleSet{MinTimeBetweenTradesMs: 5000}

	if ok, _ := f.Evaluate(Candidate{}, State{Rule: rule, LastTradeEpochMs: 1000, NowMs: 3000}); ok {
		t.Errorf("only 2000ms elapsed against a 5000ms floor, expected rejection")
	}
	if ok, _ := f.Evaluate(Candidate{}, State{Rule: rule, LastTradeEpochMs: 1000, NowMs: 6001}); !ok {
		t.Errorf("5001ms elapsed, expected acceptance")
	}
	if ok, _ := f.Evaluate(Candidate{}, State{Rule: rule, LastTradeEpochMs: 0, NowMs: 100}); !ok {
		t.Errorf("no prior trade yet (LastTradeEpochMs=0), expected acceptance")
	}
}

func TestDailyTradeCapFilter(t *testing.T) {
	f := dailyTradeCapFilter{}
	rule := domain.RuleSet{MaxDailyTrades: 10}

	if ok, _ := f.Evaluate(Candidate{}, State{Rule: rule, DailyTrades: 9}); !ok {
		t.Errorf("9 < cap 10, expected acceptance")
	}
	if ok, _ := f.Evaluate(Candidate{}, State{Rule: rule, DailyTrades: 10}); ok {
		t.Errorf("10 >= cap 10, expected rejection")
	}
}

func TestTradingHoursFilter(t *testing.T) {
	f := tradingHoursFilter{}
	rule := domain.RuleSet{AllowedUTCHours: []int{8, 9, 10}}
	now := time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC).UnixMilli()

	if ok, _ := f.Evaluate(Candidate{}, State{Rule: rule, NowMs: now}); !ok {
		t.Errorf("09:30 UTC is within the allowed hours, expected acceptance")
	}

	outside := time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC).UnixMilli()
	if ok, _ := f.Evaluate(Candidate{}, State{Rule: rule, NowMs: outside}); ok {
		t.Errorf("14:00 UTC is outside the allowed hours, expected rejection")
	}

	if ok, _ := f.Evaluate(Candidate{}, State{Rule: domain.RuleSet{}, NowMs: outside}); !ok {
		t.Errorf("empty AllowedUTCHours disables the filter, expected acceptance")
	}
}

func TestMartingaleBaseMultipleFilter(t *testing.T) {
	f := martingaleBaseMultipleFilter{}
	rule := domain.RuleSet{BaseLots: 1.0}

	if ok, _ := f.Evaluate(Candidate{Position: domain.Position{Volume: 1.5}}, State{Rule: rule}); !ok {
		t.Errorf("1.5x base lots is below the 1.7x threshold, expected acceptance")
	}
	if ok, _ := f.Evaluate(Candidate{Position: domain.Position{Volume: 2.0}}, State{Rule: rule}); ok {
		t.Errorf("2.0x base lots exceeds the 1.7x threshold, expected rejection")
	}
}

func TestGridClusterFilter(t *testing.T) {
	f := gridClusterFilter{}
	rule := domain.RuleSet{PriceClusterPips: 20}
	candidate := Candidate{Position: domain.Position{ID: "new", Symbol: "EURUSD", OpenPrice: 1.1000}}

	state := State{Rule: rule, SourcePositions: []domain.Position{
		{ID: "a", Symbol: "EURUSD", OpenPrice: 1.1001},
		{ID: "b", Symbol: "EURUSD", OpenPrice: 1.1002},
		{ID: "new", Symbol: "EURUSD", OpenPrice: 1.1000}, // excluded: same id as candidate
		{ID: "c", Symbol: "GBPUSD", OpenPrice: 1.1000},   // excluded: different symbol
	}}

	if ok, _ := f.Evaluate(candidate, state); ok {
		t.Errorf("2 existing same-symbol positions within cluster width, expected rejection")
	}

	sparse := State{Rule: rule, SourcePositions: []domain.Position{
		{ID: "a", Symbol: "EURUSD", OpenPrice: 1.2000},
	}}
	if ok, _ := f.Evaluate(candidate, sparse); !ok {
		t.Errorf("only 1 same-symbol position and it lies outside the cluster width, expected acceptance")
	}
}

func TestPipelineShortCircuitsWithoutTrace(t *testing.T) {
	p := NewPipeline([]Filter{dailyTradeCapFilter{}, dailyLossGuardFilter{}})
	rule := domain.RuleSet{MaxDailyTrades: 1, MaxDailyLoss: 1}
	v := p.Evaluate(Candidate{}, State{Rule: rule, DailyTrades: 5, DailyLoss: 5}, false)
	if v.Accept {
		t.Fatalf("expected rejection")
	}
	if len(v.Reasons) != 1 {
		t.Errorf("expected pipeline to stop after the first rejection, got %d reasons", len(v.Reasons))
	}
}

func TestPipelineTraceCollectsEveryRejection(t *testing.T) {
	p := NewPipeline([]Filter{dailyTradeCapFilter{}, dailyLossGuardFilter{}})
	rule := domain.RuleSet{MaxDailyTrades: 1, MaxDailyLoss: 1}
	v := p.Evaluate(Candidate{}, State{Rule: rule, DailyTrades: 5, DailyLoss: 5}, true)
	if v.Accept {
		t.Fatalf("expected rejection")
	}
	if len(v.Reasons) != 2 {
		t.Errorf("expected both rejections collected in trace mode, got %d", len(v.Reasons))
	}
}

func TestRegistryBuildUnknownFilter(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Build([]string{"daily-loss-guard", "nonexistent"}); err == nil {
		t.Fatalf("expected an error for an unknown filter name")
	}
}

func TestRegistryBuildKnownFilters(t *testing.T) {
	r := NewRegistry()
	names := []string{
		"already-processed", "daily-loss-guard", "max-concurrent-cycles",
		"min-interval", "daily-trade-cap", "trading-hours",
		"martingale-base-multiple", "grid-cluster",
	}
	for _, n := range names {
		if !r.Known(n) {
			t.Errorf("expected %q to be a known filter", n)
		}
	}
	p, err := r.Build(names)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := p.Evaluate(Candidate{Position: domain.Position{ID: "x"}}, State{}, false)
	if !v.Accept {
		t.Errorf("expected acceptance with a permissive empty state, got reasons %v", v.Reasons)
	}
}
