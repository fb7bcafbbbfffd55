// Package sizer computes a destination lot size from a source lot size under
// a route's active sizing mode, then clamps to broker limits.
package sizer

import (
	"fmt"

	"github.com/copytrade/router/internal/domain"
)

// Limits are the broker-enforced bounds a result is clamped/snapped to. The
// worker takes them from its configured override or, when none is set, from
// DefaultLimits for the symbol.
type Limits struct {
	MinLot  float64
	MaxLot  float64
	LotStep float64
}

// Sizer computes destination volume from source volume for one rule set.
type Sizer struct {
	rule domain.RuleSet
}

// New builds a Sizer bound to a rule set's sizing mode and loss throttle
// threshold.
func New(rule domain.RuleSet) *Sizer {
	return &Sizer{rule: rule}
}

// Compute applies the active sizing mode, the loss-adjusted throttle, and
// clamp/snap to limits. dailyLoss is the route's current daily loss, used by
// the proportional mode's throttle. A zero result after clamping is
// reported as ErrInvalidSize.
func (s *Sizer) Compute(sourceVolume, dailyLoss float64, limits Limits) (float64, error) {
	var raw float64
	switch mode := s.rule.Sizing.(type) {
	case domain.ProportionalSizing:
		raw = sourceVolume * mode.Multiplier
		if s.rule.SoftLossThreshold > 0 && dailyLoss > s.rule.SoftLossThreshold {
			raw *= 0.7
		}
	case domain.FixedSizing:
		raw = mode.FixedLots
	case domain.DynamicSizing:
		raw = dynamicVolume(mode, sourceVolume)
	default:
		return 0, fmt.Errorf("sizer: unknown sizing mode %T", s.rule.Sizing)
	}

	clamped := clampSnap(domain.Round2(raw), limits)
	if clamped <= 0 {
		return 0, domain.ErrInvalidSize
	}
	return clamped, nil
}

// dynamicVolume picks the tier with the highest BaseLots not exceeding
// sourceVolume and applies its multiplier, clamped to that tier's MaxLots.
// Tiers need not be pre-sorted; the best match is found by scanning all of
// them.
func dynamicVolume(mode domain.DynamicSizing, sourceVolume float64) float64 {
	var best *domain.DynamicTier
	for i := range mode.Tiers {
		t := mode.Tiers[i]
		if sourceVolume < t.BaseLots {
			continue
		}
		if best == nil || t.BaseLots > best.BaseLots {
			best = &mode.Tiers[i]
		}
	}
	if best == nil {
		return 0
	}
	vol := sourceVolume * best.Multiplier
	if best.MaxLots > 0 && vol > best.MaxLots {
		vol = best.MaxLots
	}
	return vol
}

// clampSnap clamps a raw volume to [MinLot, MaxLot] and snaps it down to the
// nearest LotStep. A result below MinLot after snapping collapses to zero
// rather than silently trading a size smaller than the floor.
func clampSnap(raw float64, limits Limits) float64 {
	if limits.LotStep > 0 {
		steps := float64(int64(raw / limits.LotStep))
		raw = domain.Round2(steps * limits.LotStep)
	}
	if limits.MaxLot > 0 && raw > limits.MaxLot {
		raw = limits.MaxLot
	}
	if limits.MinLot > 0 && raw < limits.MinLot {
		return 0
	}
	return raw
}

// DefaultLimits returns conservative broker-enforced bounds for a symbol
// when no per-account symbol specification is available. The pool client
// exposes no endpoint for fetching real per-symbol limits, so these values
// are a reasonable standard-lot default pending one.
func DefaultLimits(symbol string) Limits {
	if symbol == "XAUUSD" {
		return Limits{MinLot: 0.01, MaxLot: 50, LotStep: 0.01}
	}
	return Limits{MinLot: 0.01, MaxLot: 100, LotStep: 0.01}
}

// ScalePartialClose computes the destination volume to close when a source
// position's volume shrinks (partial close). The destination is scaled by
// the same ratio the source dropped by. When the residual after scaling
// falls below one lot step, the whole destination position is closed
// instead of leaving a sliver open (open-question decision, see DESIGN.md).
func ScalePartialClose(oldSourceVolume, newSourceVolume, destVolume float64, limits Limits) (closeVolume float64, fullClose bool) {
	if oldSourceVolume <= 0 || newSourceVolume < 0 || newSourceVolume >= oldSourceVolume {
		return 0, false
	}
	ratio := (oldSourceVolume - newSourceVolume) / oldSourceVolume
	closeAmount := domain.Round2(destVolume * ratio)
	// The residual is the unrounded scaled volume; rounding the close amount
	// first would hide a residual that is less than one lot step.
	residual := destVolume * newSourceVolume / oldSourceVolume

	step := limits.LotStep
	if step <= 0 {
		step = 0.01
	}
	if residual < step-1e-9 {
		return destVolume, true
	}
	return closeAmount, false
}
