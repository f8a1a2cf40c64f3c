package protected

import (
	"github.com/malbeclabs/bonds/engine/pkg/snapshot"
	"github.com/shopspring/decimal"
)

const maxBps = 10_000

var (
	decBps     = decimal.NewFromInt(maxBps)
	decHundred = decimal.NewFromInt(100)
)

// Bps returns a/b in basis points, rounded down. A zero denominator yields zero.
func Bps(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	q, _ := decimal.NewFromUint64(a).Mul(decBps).QuoRem(decimal.NewFromUint64(b), 0)
	return q.BigInt().Uint64()
}

// BpsDecimal returns a/b in basis points without rounding.
func BpsDecimal(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Mul(decBps).Div(b)
}

// EprCalculator derives the expected earnings per staked lamport of a validator from the epoch's
// inflation rewards.
type EprCalculator struct {
	maxEpr decimal.Decimal
}

func NewEprCalculator(validators *snapshot.ValidatorMetaCollection) EprCalculator {
	total := validators.TotalStake()
	if total == 0 {
		return EprCalculator{maxEpr: decimal.Zero}
	}
	return EprCalculator{
		maxEpr: decimal.NewFromUint64(validators.ValidatorRewards).Div(decimal.NewFromUint64(total)),
	}
}

// MaxEpr is the epr of a validator charging no commission.
func (c EprCalculator) MaxEpr() decimal.Decimal { return c.maxEpr }

// ExpectedEpr is the epr stakers earn at the given commission percentage. Commission above 100 is
// treated as 100.
func (c EprCalculator) ExpectedEpr(commission uint8) decimal.Decimal {
	kept := decHundred.Sub(decimal.NewFromInt(int64(clampCommission(commission))))
	return c.maxEpr.Mul(kept).Div(decHundred)
}

func clampCommission(c uint8) uint8 {
	return min(c, 100)
}
