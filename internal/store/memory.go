package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/predictions/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	rounds map[int64]*model.Round
	bets   map[betKey]*model.Bet
}

type betKey struct {
	user  string
	epoch int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds: make(map[int64]*model.Round),
		bets:   make(map[betKey]*model.Bet),
	}
}

func (s *MemoryStore) UpsertRound(_ context.Context, r *model.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *r
	s.rounds[r.Epoch] = &copy
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, epoch int64) (*model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rounds[epoch]
	if !ok {
		return nil, fmt.Errorf("round %d: %w", epoch, ErrNotFound)
	}
	copy := *r
	return &copy, nil
}

func (s *MemoryStore) ListRounds(_ context.Context, limit int) ([]model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds := make([]model.Round, 0, len(s.rounds))
	for _, r := range s.rounds {
		rounds = append(rounds, *r)
	}
	sort.Slice(rounds, func(i, j int) bool { return rounds[i].Epoch > rounds[j].Epoch })
	if limit > 0 && len(rounds) > limit {
		rounds = rounds[:limit]
	}
	return rounds, nil
}

func (s *MemoryStore) CurrentEpoch(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var epoch int64
	for e := range s.rounds {
		if e > epoch {
			epoch = e
		}
	}
	return epoch, nil
}

func (s *MemoryStore) InsertBet(_ context.Context, bet *model.Bet) error {
	user, err := NormalizeAddress(bet.User)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := betKey{user: user, epoch: bet.Epoch}
	if _, exists := s.bets[key]; exists {
		return fmt.Errorf("bet %s/%d: %w", user, bet.Epoch, ErrDuplicateBet)
	}
	copy := *bet
	copy.User = user
	copy.Round = nil
	s.bets[key] = &copy
	return nil
}

func (s *MemoryStore) GetBet(_ context.Context, user string, epoch int64) (*model.Bet, error) {
	user, err := NormalizeAddress(user)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[betKey{user: user, epoch: epoch}]
	if !ok {
		return nil, fmt.Errorf("bet %s/%d: %w", user, epoch, ErrNotFound)
	}
	return s.joined(b), nil
}

func (s *MemoryStore) ListBetsByUser(_ context.Context, user string) ([]model.Bet, error) {
	user, err := NormalizeAddress(user)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Bet
	for k, b := range s.bets {
		if k.user == user {
			result = append(result, *s.joined(b))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Epoch > result[j].Epoch })
	return result, nil
}

// joined copies b with its round attached. Caller holds the read lock.
func (s *MemoryStore) joined(b *model.Bet) *model.Bet {
	copy := *b
	if r, ok := s.rounds[b.Epoch]; ok {
		rc := *r
		copy.Round = &rc
	}
	return &copy
}
