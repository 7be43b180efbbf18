// Package units converts raw on-chain integer amounts into fixed-point
// display values.
//
// Normalization is exact: the raw integer is shifted by the token's decimals
// and then truncated, never rounded, to the requested display precision.
package units

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

const (
	// TokenDecimals is the default precision of the staked token (BNB).
	TokenDecimals int32 = 18

	// OracleDecimals is the precision of the price oracle answers.
	OracleDecimals int32 = 8
)

// ErrInvalidAmount is returned when a raw amount cannot be parsed.
var ErrInvalidAmount = errors.New("units: invalid raw amount")

// Normalize converts a raw integer amount with the given decimals into its
// decimal form, keeping at most displayDecimals fractional digits. Digits
// beyond displayDecimals are dropped.
func Normalize(raw decimal.Decimal, displayDecimals, decimals int32) decimal.Decimal {
	if displayDecimals > decimals {
		displayDecimals = decimals
	}
	return raw.Shift(-decimals).Truncate(displayDecimals)
}

// FormatFixed renders a raw amount with exactly displayDecimals fractional
// digits, rounding half away from zero.
func FormatFixed(raw decimal.Decimal, displayDecimals, decimals int32) string {
	return raw.Shift(-decimals).StringFixed(displayDecimals)
}

// FormatToken renders a raw token amount with four fractional digits.
func FormatToken(raw decimal.Decimal, decimals int32) string {
	return FormatFixed(raw, 4, decimals)
}

// FormatUSD renders a raw oracle price as a dollar amount.
func FormatUSD(raw decimal.Decimal) string {
	return "$" + FormatFixed(raw, 4, OracleDecimals)
}

// ParseRaw parses a raw integer amount given in decimal or 0x-prefixed hex.
// Values must fit in 256 bits, like every uint256 amount on chain.
func ParseRaw(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	b, ok := math.ParseBig256(s)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return decimal.NewFromBigInt(b, 0), nil
}
