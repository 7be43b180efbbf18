// Package store defines the persistence interface for round and bet
// snapshots. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/atmx/predictions/internal/model"
)

var (
	// ErrNotFound is returned when a round or bet does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateBet is returned when a user already has a bet on a round.
	ErrDuplicateBet = errors.New("store: bet already recorded for this round")

	// ErrInvalidAddress is returned for malformed user addresses.
	ErrInvalidAddress = errors.New("store: invalid user address")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Rounds are snapshots and may be replaced as the chain progresses; bets are
// immutable once recorded.
type Store interface {
	// --- Rounds ---

	// UpsertRound stores the latest snapshot of a round.
	UpsertRound(ctx context.Context, round *model.Round) error

	// GetRound retrieves a round by epoch.
	GetRound(ctx context.Context, epoch int64) (*model.Round, error)

	// ListRounds returns up to limit rounds, newest first.
	ListRounds(ctx context.Context, limit int) ([]model.Round, error)

	// CurrentEpoch returns the highest known epoch, 0 when empty.
	CurrentEpoch(ctx context.Context) (int64, error)

	// --- Bets ---

	// InsertBet records a bet. One bet per user per round.
	InsertBet(ctx context.Context, bet *model.Bet) error

	// GetBet returns a user's bet on a round with its round joined.
	GetBet(ctx context.Context, user string, epoch int64) (*model.Bet, error)

	// ListBetsByUser returns a user's bets, newest epoch first, rounds joined.
	ListBetsByUser(ctx context.Context, user string) ([]model.Bet, error)
}

// NormalizeAddress validates a hex address and returns its checksummed form.
func NormalizeAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", ErrInvalidAddress
	}
	return common.HexToAddress(addr).Hex(), nil
}
