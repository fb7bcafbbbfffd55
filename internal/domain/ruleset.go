package domain

// SizingMode is the closed set of ways a rule set can compute a destination
// volume from a source volume: proportional, fixed, or dynamic. It is
// a sum type: exactly one of the concrete implementations below is active
// for a given rule set, decided at config-parse time, never at runtime.
type SizingMode interface {
	isSizingMode()
}

// ProportionalSizing scales the source volume by a fixed multiplier.
type ProportionalSizing struct {
	Multiplier float64
}

func (ProportionalSizing) isSizingMode() {}

// FixedSizing always opens the same destination lot size regardless of the
// source volume.
type FixedSizing struct {
	FixedLots float64
}

func (FixedSizing) isSizingMode() {}

// DynamicTier is one row of a degressive sizing table: source volumes at or
// above BaseLots use Multiplier, clamped to MaxLots. Tiers may be listed in
// any order; the sizer picks the highest tier whose BaseLots does not exceed
// the source volume.
type DynamicTier struct {
	BaseLots   float64
	Multiplier float64
	MaxLots    float64
}

// DynamicSizing selects a DynamicTier by source volume and applies its
// multiplier/cap.
type DynamicSizing struct {
	Tiers []DynamicTier
}

func (DynamicSizing) isSizingMode() {}

// RuleSet is a named bundle of sizing policy, caps, intervals, and the
// ordered filter list a route's candidate trades must pass.
type RuleSet struct {
	Name                       string
	Sizing                     SizingMode
	MaxDailyTrades             int
	MaxDailyLoss               float64
	MinTimeBetweenTradesMs     int64
	MaxConcurrentDestPositions int
	MaxConcurrentCycles        int
	PriceClusterPips           float64
	BaseLots                   float64
	AllowedUTCHours            []int
	// SoftLossThreshold triggers the proportional sizer's loss-adjusted
	// throttle (multiply by 0.7) once dailyLoss exceeds it.
	SoftLossThreshold float64
	Filters           []string
}
