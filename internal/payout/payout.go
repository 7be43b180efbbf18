// Package payout computes multipliers and payouts from round pool snapshots.
//
// Every function here is pure and never fails: absent inputs and empty
// pools degrade to zero instead of an error, so a round that is not loaded
// yet renders as neutral rather than breaking a balance display.
//
// All arithmetic is done on shopspring/decimal values. Quotients and
// products are truncated to Scale fractional digits, the precision of the
// on-chain fixed-point amounts they are derived from.
package payout

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/predictions/internal/model"
	"github.com/atmx/predictions/internal/units"
)

var (
	// Scale is the number of fractional digits kept after a division or
	// multiplication.
	Scale int32 = 18

	// FeeRatePercent is the treasury fee deducted from displayed figures.
	FeeRatePercent = decimal.NewFromInt(5)

	// DefaultRewardRate is the reward rate callers pass to NetPayout.
	DefaultRewardRate = decimal.NewFromInt(1)

	hundred = decimal.NewFromInt(100)
)

// Policy selects which multiplier formula a caller wants. The two formulas
// give different numbers and are not interchangeable.
type Policy int

const (
	// Basic is total / amount.
	Basic Policy = iota
	// FeeAdjusted is total / amount with FeeRatePercent taken off the result.
	FeeAdjusted
)

func (p Policy) String() string {
	switch p {
	case Basic:
		return "basic"
	case FeeAdjusted:
		return "fee_adjusted"
	default:
		return "unknown"
	}
}

// Multiplier applies the policy's formula.
func (p Policy) Multiplier(total decimal.NullDecimal, amount decimal.Decimal) decimal.Decimal {
	if p == FeeAdjusted {
		return FeeAdjustedMultiplier(total, amount)
	}
	return Multiplier(total, amount)
}

// Multiplier returns total / amount. It returns zero when total is absent
// or zero, or when amount is zero; zero means "no multiplier yet".
func Multiplier(total decimal.NullDecimal, amount decimal.Decimal) decimal.Decimal {
	if !total.Valid || total.Decimal.IsZero() || amount.IsZero() {
		return decimal.Zero
	}
	return div(total.Decimal, amount)
}

// FeeAdjustedMultiplier returns the basic multiplier minus FeeRatePercent of
// itself. The fee comes off the multiplier, not off the staked amount.
func FeeAdjustedMultiplier(total decimal.NullDecimal, amount decimal.Decimal) decimal.Decimal {
	if !total.Valid || total.Decimal.IsZero() || amount.IsZero() {
		return decimal.Zero
	}
	raw := div(total.Decimal, amount)
	fee := div(mul(raw, FeeRatePercent), hundred)
	return raw.Sub(fee)
}

// DisplayAmount takes FeeRatePercent off a pool-side amount for display.
// This is a separate correction from FeeAdjustedMultiplier and the two are
// applied independently.
func DisplayAmount(amount decimal.Decimal) decimal.Decimal {
	return amount.Sub(div(mul(amount, FeeRatePercent), hundred))
}

// Calculator computes payouts for ledger entries. It carries the precision
// used to normalize raw wager amounts before any arithmetic.
type Calculator struct {
	decimals        int32
	displayDecimals int32
}

// NewCalculator returns a calculator for a token with the given decimals.
// Wagers are normalized at full precision.
func NewCalculator(decimals int32) *Calculator {
	return &Calculator{decimals: decimals, displayDecimals: decimals}
}

// Decimals returns the token precision used for normalization.
func (c *Calculator) Decimals() int32 {
	return c.decimals
}

// Stake returns the normalized wager of entry.
func (c *Calculator) Stake(entry *model.LedgerEntry) decimal.Decimal {
	if entry == nil {
		return decimal.Zero
	}
	return units.Normalize(entry.Amount, c.displayDecimals, c.decimals)
}

// Payout returns the gross amount entry would receive from pool. UP bets
// divide the reward by the bull side, DOWN bets by the bear side. Returns
// zero when either argument is nil.
func (c *Calculator) Payout(entry *model.LedgerEntry, pool *model.RoundPool) decimal.Decimal {
	if entry == nil || pool == nil {
		return decimal.Zero
	}

	side := pool.BearAmount
	if entry.Position == model.PositionUp {
		side = pool.BullAmount
	}
	multiplier := Multiplier(pool.RewardAmount, side)

	return mul(c.Stake(entry), multiplier)
}

// NetPayout returns Payout minus the normalized stake. The result is
// negative when the payout is smaller than the stake and is not clamped.
// rewardRate is accepted for fee tiers and does not change the result.
func (c *Calculator) NetPayout(entry *model.LedgerEntry, pool *model.RoundPool, rewardRate decimal.Decimal) decimal.Decimal {
	if entry == nil || pool == nil {
		return decimal.Zero
	}
	return c.Payout(entry, pool).Sub(c.Stake(entry))
}

func div(a, b decimal.Decimal) decimal.Decimal {
	q, _ := a.QuoRem(b, Scale)
	return q
}

func mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(Scale)
}
