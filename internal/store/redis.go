package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/predictions/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertRound(ctx context.Context, r *model.Round) error {
	if err := s.primary.UpsertRound(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, roundKey(r.Epoch))
	return nil
}

func (s *CachedStore) InsertBet(ctx context.Context, bet *model.Bet) error {
	if err := s.primary.InsertBet(ctx, bet); err != nil {
		return err
	}
	if user, err := NormalizeAddress(bet.User); err == nil {
		s.rdb.Del(ctx, betKeyFor(user, bet.Epoch))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetRound(ctx context.Context, epoch int64) (*model.Round, error) {
	data, err := s.rdb.Get(ctx, roundKey(epoch)).Bytes()
	if err == nil {
		var r model.Round
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	// Cache miss: read from primary.
	r, err := s.primary.GetRound(ctx, epoch)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, roundKey(epoch), data, s.ttl)
	}
	return r, nil
}

func (s *CachedStore) GetBet(ctx context.Context, user string, epoch int64) (*model.Bet, error) {
	user, err := NormalizeAddress(user)
	if err != nil {
		return nil, err
	}

	data, err := s.rdb.Get(ctx, betKeyFor(user, epoch)).Bytes()
	if err == nil {
		var b model.Bet
		if json.Unmarshal(data, &b) == nil {
			// Rejoin the round so round updates are never hidden by the bet cache.
			if r, err := s.GetRound(ctx, epoch); err == nil {
				b.Round = r
			}
			return &b, nil
		}
	}

	b, err := s.primary.GetBet(ctx, user, epoch)
	if err != nil {
		return nil, err
	}

	// Cache the bet without its round; rounds have their own key.
	bare := *b
	bare.Round = nil
	if data, err := json.Marshal(bare); err == nil {
		s.rdb.Set(ctx, betKeyFor(user, epoch), data, s.ttl)
	}
	return b, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListRounds(ctx context.Context, limit int) ([]model.Round, error) {
	return s.primary.ListRounds(ctx, limit)
}

func (s *CachedStore) CurrentEpoch(ctx context.Context) (int64, error) {
	return s.primary.CurrentEpoch(ctx)
}

func (s *CachedStore) ListBetsByUser(ctx context.Context, user string) ([]model.Bet, error) {
	return s.primary.ListBetsByUser(ctx, user)
}

// --- Cache helpers ---

func roundKey(epoch int64) string { return fmt.Sprintf("round:%d", epoch) }
func betKeyFor(user string, epoch int64) string { return fmt.Sprintf("bet:%s:%d", user, epoch) }
