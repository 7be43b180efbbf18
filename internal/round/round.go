// Package round classifies rounds and bets against the current time and
// epoch. Nothing here is cached: every call re-evaluates against the clock
// it is given.
package round

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/predictions/internal/model"
)

// HasFailed reports whether the round closed more than buffer seconds ago
// without an oracle settlement.
func HasFailed(r *model.Round, buffer int64, now time.Time) bool {
	if r == nil {
		return false
	}
	closeMs := (r.CloseTimestamp + buffer) * 1000
	return now.UnixMilli() > closeMs && !r.OracleCalled
}

// Outcome returns the winning side of a settled round. It returns
// PositionHouse on a tie and an empty position while prices are missing.
func Outcome(r *model.Round) model.Position {
	if r == nil || !r.LockPrice.Valid || !r.ClosePrice.Valid {
		return ""
	}
	switch r.ClosePrice.Decimal.Cmp(r.LockPrice.Decimal) {
	case 1:
		return model.PositionUp
	case -1:
		return model.PositionDown
	default:
		return model.PositionHouse
	}
}

// Classify returns the result of bet as seen by its owner. bet.Round must be
// populated; a bet without a round is LIVE.
func Classify(bet *model.Bet, currentEpoch, buffer int64, now time.Time) model.Result {
	r := bet.Round
	if r == nil {
		return model.ResultLive
	}
	if HasFailed(r, buffer, now) {
		return model.ResultCanceled
	}
	if r.Epoch >= currentEpoch-1 {
		return model.ResultLive
	}

	outcome := Outcome(r)
	switch outcome {
	case "":
		return model.ResultLive
	case model.PositionHouse:
		return model.ResultHouse
	case bet.Ledger.Position:
		return model.ResultWin
	default:
		return model.ResultLose
	}
}

// PriceDifference returns price - lockPrice, or zero if either is missing.
func PriceDifference(price, lockPrice decimal.NullDecimal) decimal.Decimal {
	if !price.Valid || !lockPrice.Valid {
		return decimal.Zero
	}
	return price.Decimal.Sub(lockPrice.Decimal)
}

// PadTime left-pads n to two digits.
func PadTime(n int64) string {
	return fmt.Sprintf("%02d", n)
}

// FormatRoundTime renders a duration in seconds as mm:ss, or hh:mm:ss when
// it spans at least an hour.
func FormatRoundTime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := seconds % 3600 / 60
	secs := seconds % 60

	ms := PadTime(minutes) + ":" + PadTime(secs)
	if hours > 0 {
		return PadTime(hours) + ":" + ms
	}
	return ms
}
