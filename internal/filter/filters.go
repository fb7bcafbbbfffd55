package filter

import (
	"fmt"
	"time"

	"github.com/copytrade/router/internal/pips"
)

// alreadyProcessedFilter rejects a position id already recorded as handled.
// The worker already checks processedTradeIds before reaching the pipeline
// so this rarely fires there; it exists so a route can
// place it explicitly in its filter list and see it in the trace, and so
// pipeline evaluation run outside the worker's own dedup path is still safe.
type alreadyProcessedFilter struct{}

func (alreadyProcessedFilter) Name() string { return "already-processed" }

func (alreadyProcessedFilter) Evaluate(c Candidate, s State) (bool, string) {
	if _, ok := s.ProcessedIDs[c.Position.ID]; ok {
		return false, "position id already processed"
	}
	return true, ""
}

type dailyLossGuardFilter struct{}

func (dailyLossGuardFilter) Name() string { return "daily-loss-guard" }

func (dailyLossGuardFilter) Evaluate(c Candidate, s State) (bool, string) {
	if s.Rule.MaxDailyLoss <= 0 {
		return true, ""
	}
	threshold := 0.8 * s.Rule.MaxDailyLoss
	if s.DailyLoss >= threshold {
		return false, fmt.Sprintf("daily loss %.2f at or above 80%% of cap %.2f", s.DailyLoss, s.Rule.MaxDailyLoss)
	}
	return true, ""
}

type maxConcurrentCyclesFilter struct{}

func (maxConcurrentCyclesFilter) Name() string { return "max-concurrent-cycles" }

func (maxConcurrentCyclesFilter) Evaluate(c Candidate, s State) (bool, string) {
	if s.Rule.MaxConcurrentCycles <= 0 {
		return true, ""
	}
	if s.ActiveCycles >= s.Rule.MaxConcurrentCycles {
		return false, fmt.Sprintf("%d active cycles at or above cap %d", s.ActiveCycles, s.Rule.MaxConcurrentCycles)
	}
	return true, ""
}

type minIntervalFilter struct{}

func (minIntervalFilter) Name() string { return "min-interval" }

func (minIntervalFilter) Evaluate(c Candidate, s State) (bool, string) {
	if s.Rule.MinTimeBetweenTradesMs <= 0 || s.LastTradeEpochMs == 0 {
		return true, ""
	}
	elapsed := s.NowMs - s.LastTradeEpochMs
	if elapsed < s.Rule.MinTimeBetweenTradesMs {
		return false, fmt.Sprintf("%dms since last trade, need %dms", elapsed, s.Rule.MinTimeBetweenTradesMs)
	}
	return true, ""
}

type dailyTradeCapFilter struct{}

func (dailyTradeCapFilter) Name() string { return "daily-trade-cap" }

func (dailyTradeCapFilter) Evaluate(c Candidate, s State) (bool, string) {
	if s.Rule.MaxDailyTrades <= 0 {
		return true, ""
	}
	if s.DailyTrades >= s.Rule.MaxDailyTrades {
		return false, fmt.Sprintf("%d trades today at or above cap %d", s.DailyTrades, s.Rule.MaxDailyTrades)
	}
	return true, ""
}

type tradingHoursFilter struct{}

func (tradingHoursFilter) Name() string { return "trading-hours" }

func (tradingHoursFilter) Evaluate(c Candidate, s State) (bool, string) {
	if len(s.Rule.AllowedUTCHours) == 0 {
		return true, ""
	}
	hour := time.UnixMilli(s.NowMs).UTC().Hour()
	for _, h := range s.Rule.AllowedUTCHours {
		if h == hour {
			return true, ""
		}
	}
	return false, fmt.Sprintf("UTC hour %d not in allowed set", hour)
}

// martingaleMultipleThreshold is the default escalation factor above which a
// candidate volume looks like a martingale double-down rather than a normal
// entry.
const martingaleMultipleThreshold = 1.7

type martingaleBaseMultipleFilter struct{}

func (martingaleBaseMultipleFilter) Name() string { return "martingale-base-multiple" }

func (martingaleBaseMultipleFilter) Evaluate(c Candidate, s State) (bool, string) {
	if s.Rule.BaseLots <= 0 {
		return true, ""
	}
	limit := s.Rule.BaseLots * martingaleMultipleThreshold
	if c.Position.Volume > limit {
		return false, fmt.Sprintf("volume %.2f exceeds %.2fx base lots %.2f", c.Position.Volume, martingaleMultipleThreshold, s.Rule.BaseLots)
	}
	return true, ""
}

type gridClusterFilter struct{}

func (gridClusterFilter) Name() string { return "grid-cluster" }

func (gridClusterFilter) Evaluate(c Candidate, s State) (bool, string) {
	if s.Rule.PriceClusterPips <= 0 {
		return true, ""
	}
	pip := pips.Size(c.Position.Symbol)
	clusterWidth := s.Rule.PriceClusterPips * pip

	count := 0
	for _, p := range s.SourcePositions {
		if p.Symbol != c.Position.Symbol || p.ID == c.Position.ID {
			continue
		}
		diff := p.OpenPrice - c.Position.OpenPrice
		if diff < 0 {
			diff = -diff
		}
		if diff <= clusterWidth {
			count++
		}
	}
	if count >= 2 {
		return false, fmt.Sprintf("%d existing %s positions within %.1f pips", count, c.Position.Symbol, s.Rule.PriceClusterPips)
	}
	return true, ""
}
