package fees

import (
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/clipmint/clipmint-backend/pkg/errors"
)

func TestComputeSplitStandardFee(t *testing.T) {
	split, err := ComputeSplit(1_000_000_000, 5, 10_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if split.PlatformFee != 50_000_000 {
		t.Fatalf("expected platform fee 50_000_000, got %d", split.PlatformFee)
	}
	if split.CreatorPayout != 950_000_000 {
		t.Fatalf("expected creator payout 950_000_000, got %d", split.CreatorPayout)
	}
}

func TestComputeSplitBelowThresholdWaivesFee(t *testing.T) {
	split, err := ComputeSplit(5_000_000, 5, 10_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if split.PlatformFee != 0 {
		t.Fatalf("expected zero fee below threshold, got %d", split.PlatformFee)
	}
	if split.CreatorPayout != 5_000_000 {
		t.Fatalf("expected full payout, got %d", split.CreatorPayout)
	}
}

func TestComputeSplitThresholdBoundary(t *testing.T) {
	const threshold = 10_000_000

	below, err := ComputeSplit(threshold-1, 5, threshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if below.PlatformFee != 0 {
		t.Fatalf("threshold-1 should carry no fee, got %d", below.PlatformFee)
	}

	at, err := ComputeSplit(threshold, 5, threshold)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if at.PlatformFee != threshold*5/100 {
		t.Fatalf("expected fee %d at threshold, got %d", threshold*5/100, at.PlatformFee)
	}
}

func TestComputeSplitIsExactForAllInputs(t *testing.T) {
	grosses := []int64{1, 3, 7, 99, 101, 12_345_678, 1_000_000_000, 987_654_321_123}
	for _, gross := range grosses {
		for percent := 0; percent <= 100; percent += 7 {
			split, err := ComputeSplit(gross, percent, 0)
			if err != nil {
				t.Fatalf("gross=%d percent=%d: %v", gross, percent, err)
			}
			if split.PlatformFee+split.CreatorPayout != gross {
				t.Fatalf("gross=%d percent=%d: split loses lamports (%d + %d)",
					gross, percent, split.PlatformFee, split.CreatorPayout)
			}
			if split.PlatformFee < 0 || split.CreatorPayout < 0 {
				t.Fatalf("gross=%d percent=%d: negative component", gross, percent)
			}
		}
	}
}

func TestComputeSplitLargeGrossDoesNotOverflow(t *testing.T) {
	gross := int64(1) << 62
	split, err := ComputeSplit(gross, 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := gross/100*3 + gross%100*3/100 // floor(gross * 3%) without the overflowing product
	if split.PlatformFee != want {
		t.Fatalf("expected fee %d, got %d", want, split.PlatformFee)
	}
	if split.PlatformFee < 0 || split.CreatorPayout < 0 {
		t.Fatalf("split overflowed: fee=%d payout=%d", split.PlatformFee, split.CreatorPayout)
	}
	if split.PlatformFee+split.CreatorPayout != gross {
		t.Fatalf("split loses lamports: %d + %d != %d", split.PlatformFee, split.CreatorPayout, gross)
	}

	max, err := ComputeSplit(1<<63-1, 100, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if max.PlatformFee != 1<<63-1 || max.CreatorPayout != 0 {
		t.Fatalf("100%% fee on max gross must take everything, got %+v", max)
	}
}

func TestComputeSplitRejectsInvalidInput(t *testing.T) {
	if _, err := ComputeSplit(0, 5, 0); pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for zero gross, got %v", err)
	}
	if _, err := ComputeSplit(-5, 5, 0); err == nil {
		t.Fatal("expected error for negative gross")
	}
	if _, err := ComputeSplit(100, 101, 0); err == nil {
		t.Fatal("expected error for fee percent above 100")
	}
	if _, err := ComputeSplit(100, -1, 0); err == nil {
		t.Fatal("expected error for negative fee percent")
	}
}

func TestNewCalculatorValidatesSchedule(t *testing.T) {
	if _, err := NewCalculator(101, 0); err == nil {
		t.Fatal("expected error for invalid percent")
	}
	if _, err := NewCalculator(5, -1); err == nil {
		t.Fatal("expected error for negative threshold")
	}

	calc, err := NewCalculator(5, 10_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	split, err := calc.Split(1_000_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if split.PlatformFee != 50_000_000 || split.CreatorPayout != 950_000_000 {
		t.Fatalf("unexpected split %+v", split)
	}
}

func TestSolLamportConversion(t *testing.T) {
	sol := decimal.RequireFromString("0.01")
	if got := SolToLamports(sol); got != 10_000_000 {
		t.Fatalf("expected 10_000_000 lamports, got %d", got)
	}
	if got := LamportsToSol(1_000_000_000); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("expected 1 SOL, got %s", got)
	}
}
