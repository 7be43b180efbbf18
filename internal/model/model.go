// Package model defines the core domain types shared across the predictions
// service. All monetary values use shopspring/decimal, never float64 for money.
//
// Amounts are kept in their raw on-chain integer form (wei for the staked
// token, oracle units for prices). Conversion to display units happens in
// package units, right before arithmetic that needs it.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the side a bet was placed on, or the outcome of a round.
type Position string

const (
	PositionUp    Position = "UP"
	PositionDown  Position = "DOWN"
	PositionHouse Position = "HOUSE" // round outcome only: close price equals lock price
)

// Valid reports whether p is a side a user can bet on.
func (p Position) Valid() bool {
	return p == PositionUp || p == PositionDown
}

// Result classifies a bet from the user's point of view.
type Result string

const (
	ResultLive     Result = "LIVE"
	ResultWin      Result = "WIN"
	ResultLose     Result = "LOSE"
	ResultCanceled Result = "CANCELED"
	ResultHouse    Result = "HOUSE"
)

// RoundPool is the pool accounting of one round, in raw token units.
// BullAmount + BearAmount <= TotalAmount. RewardAmount stays null until the
// round has been settled by the oracle.
type RoundPool struct {
	TotalAmount  decimal.Decimal     `json:"total_amount"`
	BullAmount   decimal.Decimal     `json:"bull_amount"`
	BearAmount   decimal.Decimal     `json:"bear_amount"`
	RewardAmount decimal.NullDecimal `json:"reward_amount"`
}

// Round is an immutable snapshot of one betting epoch.
type Round struct {
	Epoch          int64               `json:"epoch" db:"epoch"`
	StartTimestamp int64               `json:"start_timestamp" db:"start_timestamp"` // unix seconds
	LockTimestamp  int64               `json:"lock_timestamp" db:"lock_timestamp"`
	CloseTimestamp int64               `json:"close_timestamp" db:"close_timestamp"`
	LockBlock      uint64              `json:"lock_block" db:"lock_block"`
	CloseBlock     uint64              `json:"close_block" db:"close_block"`
	LockPrice      decimal.NullDecimal `json:"lock_price" db:"lock_price"`   // oracle units
	ClosePrice     decimal.NullDecimal `json:"close_price" db:"close_price"` // oracle units
	Pool           RoundPool           `json:"pool"`
	OracleCalled   bool                `json:"oracle_called" db:"oracle_called"`
}

// LedgerEntry is a user's wager on one round. Amount is in raw token units.
type LedgerEntry struct {
	Amount   decimal.Decimal `json:"amount" db:"amount"`
	Position Position        `json:"position" db:"position"`
}

// Bet is an immutable record of one user's ledger entry for one round.
// Round is populated on read and is nil until joined.
type Bet struct {
	ID            string              `json:"id" db:"id"`
	Hash          string              `json:"hash" db:"hash"` // placing transaction
	User          string              `json:"user" db:"user_address"`
	Epoch         int64               `json:"epoch" db:"epoch"`
	Ledger        LedgerEntry         `json:"ledger"`
	Claimed       bool                `json:"claimed" db:"claimed"`
	ClaimedAmount decimal.NullDecimal `json:"claimed_amount" db:"claimed_amount"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
	Round         *Round              `json:"round,omitempty"`
}
