package fees

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/clipmint/clipmint-backend/pkg/errors"
)

// LamportsPerSol is the number of indivisible ledger units in one SOL.
const LamportsPerSol int64 = 1_000_000_000

// Split is the exact division of a gross price between the platform and the
// creator. PlatformFee + CreatorPayout always equals the gross amount;
// rounding loss is absorbed by the creator payout, never dropped.
type Split struct {
	GrossAmount   int64
	PlatformFee   int64
	CreatorPayout int64
	FeePercent    int
}

// Calculator computes the authoritative fee split. The same computation backs
// client-side estimates, but only the server-side result is settled.
type Calculator struct {
	feePercent        int
	thresholdLamports int64
}

// NewCalculator validates and pins the platform fee schedule.
func NewCalculator(feePercent int, thresholdLamports int64) (*Calculator, error) {
	if feePercent < 0 || feePercent > 100 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fee percent must be between 0 and 100")
	}
	if thresholdLamports < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fee threshold must not be negative")
	}
	return &Calculator{feePercent: feePercent, thresholdLamports: thresholdLamports}, nil
}

// Split divides grossLamports using the configured schedule. Prices below the
// threshold carry no platform fee at all.
func (c *Calculator) Split(grossLamports int64) (Split, error) {
	return ComputeSplit(grossLamports, c.feePercent, c.thresholdLamports)
}

// ComputeSplit is the pure split function. It has no side effects and must be
// deterministic: integer arithmetic only, remainder to the creator.
func ComputeSplit(grossLamports int64, feePercent int, thresholdLamports int64) (Split, error) {
	if grossLamports <= 0 {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "gross amount must be greater than zero")
	}
	if feePercent < 0 || feePercent > 100 {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "fee percent must be between 0 and 100")
	}

	split := Split{GrossAmount: grossLamports, FeePercent: feePercent}
	if grossLamports < thresholdLamports {
		split.FeePercent = 0
		split.CreatorPayout = grossLamports
		return split, nil
	}

	// Split the whole-hundreds and the remainder separately so the product
	// never exceeds int64 range, while staying exact integer arithmetic.
	percent := int64(feePercent)
	split.PlatformFee = grossLamports/100*percent + grossLamports%100*percent/100
	split.CreatorPayout = grossLamports - split.PlatformFee
	return split, nil
}

// SolToLamports converts a display-unit SOL amount into lamports, truncating
// anything below one lamport. Conversion is decimal, never float.
func SolToLamports(sol decimal.Decimal) int64 {
	return sol.Mul(decimal.NewFromInt(LamportsPerSol)).IntPart()
}

// LamportsToSol renders lamports as SOL for display purposes only. Settlement
// math stays in lamports.
func LamportsToSol(lamports int64) decimal.Decimal {
	return decimal.NewFromInt(lamports).Div(decimal.NewFromInt(LamportsPerSol))
}
