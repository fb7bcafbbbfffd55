package sizer

import (
	"errors"
	"testing"

	"github.com/copytrade/router/internal/domain"
)

func TestComputeProportional(t *testing.T) {
	s := New(domain.RuleSet{Sizing: domain.ProportionalSizing{Multiplier: 2}})
	got, err := s.Compute(1.0, 0, Limits{MinLot: 0.01, MaxLot: 10, LotStep: 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2.0 {
		t.Errorf("got %v, want 2.0", got)
	}
}

func TestComputeProportionalSoftLossThrottle(t *testing.T) {
	s := New(domain.RuleSet{
		Sizing:            domain.ProportionalSizing{Multiplier: 1},
		SoftLossThreshold: 100,
	})
	got, err := s.Compute(1.0, 150, Limits{MinLot: 0.01, MaxLot: 10, LotStep: 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0.7 {
		t.Errorf("got %v, want 0.7 (throttled)", got)
	}
}

func TestComputeFixed(t *testing.T) {
	s := New(domain.RuleSet{Sizing: domain.FixedSizing{FixedLots: 0.5}})
	got, err := s.Compute(5.0, 0, Limits{MinLot: 0.01, MaxLot: 10, LotStep: 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0.5 {
		t.Errorf("got %v, want 0.5", got)
	}
}

func TestComputeDynamicPicksHighestMatchingTier(t *testing.T) {
	s := New(domain.RuleSet{Sizing: domain.DynamicSizing{Tiers: []domain.DynamicTier{
		{BaseLots: 0, Multiplier: 1, MaxLots: 1},
		{BaseLots: 1, Multiplier: 0.5, MaxLots: 5},
		{BaseLots: 5, Multiplier: 0.2, MaxLots: 10},
	}}})
	got, err := s.Compute(3.0, 0, Limits{MinLot: 0.01, MaxLot: 100, LotStep: 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1.5 {
		t.Errorf("got %v, want 1.5", got)
	}
}

func TestComputeDynamicNoMatchingTierIsInvalidSize(t *testing.T) {
	s := New(domain.RuleSet{Sizing: domain.DynamicSizing{Tiers: []domain.DynamicTier{
		{BaseLots: 10, Multiplier: 1, MaxLots: 20},
	}}})
	_, err := s.Compute(1.0, 0, Limits{MinLot: 0.01, MaxLot: 100, LotStep: 0.01})
	if !errors.Is(err, domain.ErrInvalidSize) {
		t.Errorf("got %v, want ErrInvalidSize", err)
	}
}

func TestComputeClampsBelowMinLotToInvalidSize(t *testing.T) {
	s := New(domain.RuleSet{Sizing: domain.FixedSizing{FixedLots: 0.001}})
	_, err := s.Compute(1.0, 0, Limits{MinLot: 0.01, MaxLot: 10, LotStep: 0.01})
	if !errors.Is(err, domain.ErrInvalidSize) {
		t.Errorf("got %v, want ErrInvalidSize", err)
	}
}

func TestComputeClampsAboveMaxLot(t *testing.T) {
	s := New(domain.RuleSet{Sizing: domain.FixedSizing{FixedLots: 500}})
	got, err := s.Compute(1.0, 0, Limits{MinLot: 0.01, MaxLot: 10, LotStep: 0.01})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 10 {
		t.Errorf("got %v, want clamped 10", got)
	}
}

func TestComputeSnapsToLotStep(t *testing.T) {
	s := New(domain.RuleSet{Sizing: domain.FixedSizing{FixedLots: 0.127}})
	got, err := s.Compute(1.0, 0, Limits{MinLot: 0.01, MaxLot: 10, LotStep: 0.05})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0.1 {
		t.Errorf("got %v, want 0.1 (snapped down to nearest 0.05)", got)
	}
}

func TestScalePartialClose(t *testing.T) {
	closeVol, full := ScalePartialClose(1.0, 0.5, 2.0, Limits{LotStep: 0.01})
	if full {
		t.Fatalf("expected partial close, got full")
	}
	if closeVol != 1.0 {
		t.Errorf("got %v, want 1.0", closeVol)
	}
}

func TestScalePartialCloseCollapsesTinyResidual(t *testing.T) {
	closeVol, full := ScalePartialClose(1.0, 0.99, 0.01, Limits{LotStep: 0.01})
	if !full {
		t.Fatalf("expected full close when residual would fall below one lot step")
	}
	if closeVol != 0.01 {
		t.Errorf("got %v, want the whole destination volume 0.01", closeVol)
	}
}

func TestScalePartialCloseIgnoresGrowthOrInvalidInputs(t *testing.T) {
	if _, full := ScalePartialClose(1.0, 1.5, 2.0, Limits{}); full {
		t.Errorf("growth in source volume must not be treated as a partial close")
	}
	if _, full := ScalePartialClose(0, 0, 2.0, Limits{}); full {
		t.Errorf("zero old volume must not be treated as a partial close")
	}
}

func TestDefaultLimits(t *testing.T) {
	if got := DefaultLimits("XAUUSD"); got.MaxLot != 50 {
		t.Errorf("XAUUSD max lot = %v, want 50", got.MaxLot)
	}
	if got := DefaultLimits("EURUSD"); got.MaxLot != 100 {
		t.Errorf("EURUSD max lot = %v, want 100", got.MaxLot)
	}
}
