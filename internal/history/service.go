// Package history provides the HTTP handlers for ingesting round and bet
// snapshots and for serving a user's bet history and bet details.
//
// All monetary values use shopspring/decimal, never float64 for money.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/predictions/internal/betdetails"
	"github.com/atmx/predictions/internal/countdown"
	"github.com/atmx/predictions/internal/explorer"
	"github.com/atmx/predictions/internal/i18n"
	"github.com/atmx/predictions/internal/metrics"
	"github.com/atmx/predictions/internal/model"
	"github.com/atmx/predictions/internal/payout"
	"github.com/atmx/predictions/internal/round"
	"github.com/atmx/predictions/internal/store"
	"github.com/atmx/predictions/internal/units"
)

// Deps are the collaborators of a Service. Countdown and Hub are optional.
type Deps struct {
	Store      store.Store
	Calculator *payout.Calculator
	Details    *betdetails.Builder
	Bundle     *i18n.Bundle
	Links      *explorer.Explorer
	Countdown  *countdown.Countdown
	Hub        *WSHub

	// Buffer is the grace period, in seconds, after a round's close time
	// before an unsettled round counts as failed.
	Buffer int64

	// Now defaults to time.Now.
	Now func() time.Time
}

// Service serves the history API.
type Service struct {
	store     store.Store
	calc      *payout.Calculator
	details   *betdetails.Builder
	bundle    *i18n.Bundle
	links     *explorer.Explorer
	countdown *countdown.Countdown
	wsHub     *WSHub
	buffer    int64
	now       func() time.Time
}

// NewService creates a new history service.
func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Bundle == nil {
		d.Bundle = i18n.NewBundle("en")
	}
	if d.Links == nil {
		d.Links = explorer.New(0, "")
	}
	return &Service{
		store:     d.Store,
		calc:      d.Calculator,
		details:   d.Details,
		bundle:    d.Bundle,
		links:     d.Links,
		countdown: d.Countdown,
		wsHub:     d.Hub,
		buffer:    d.Buffer,
		now:       d.Now,
	}
}

// --- Request/Response types ---

// RoundRequest is the JSON body for POST /rounds. Amounts are raw on-chain
// integers given as decimal or 0x-hex strings.
type RoundRequest struct {
	Epoch          int64   `json:"epoch"`
	StartTimestamp int64   `json:"start_timestamp"`
	LockTimestamp  int64   `json:"lock_timestamp"`
	CloseTimestamp int64   `json:"close_timestamp"`
	LockBlock      uint64  `json:"lock_block"`
	CloseBlock     uint64  `json:"close_block"`
	LockPrice      *string `json:"lock_price"`
	ClosePrice     *string `json:"close_price"`
	TotalAmount    string  `json:"total_amount"`
	BullAmount     string  `json:"bull_amount"`
	BearAmount     string  `json:"bear_amount"`
	RewardAmount   *string `json:"reward_amount"`
	OracleCalled   bool    `json:"oracle_called"`
}

// BetRequest is the JSON body for POST /bets.
type BetRequest struct {
	ID            string  `json:"id"` // generated when empty
	Hash          string  `json:"hash"`
	User          string  `json:"user"`
	Epoch         int64   `json:"epoch"`
	Position      string  `json:"position"` // "UP" or "DOWN"
	Amount        string  `json:"amount"`
	Claimed       bool    `json:"claimed"`
	ClaimedAmount *string `json:"claimed_amount"`
}

// Multipliers holds both multiplier formulas for each side.
type Multipliers struct {
	Policy string          `json:"policy"`
	Up     decimal.Decimal `json:"up"`
	Down   decimal.Decimal `json:"down"`
}

// RoundView is the JSON body returned from GET /rounds/{epoch}.
type RoundView struct {
	Round           model.Round     `json:"round"`
	Failed          bool            `json:"failed"`
	Outcome         model.Position  `json:"outcome,omitempty"`
	PriceDifference decimal.Decimal `json:"price_difference"`
	Payout          Multipliers     `json:"payout_multipliers"`  // reward over each side
	Display         Multipliers     `json:"display_multipliers"` // total over each side, fee taken off
	DisplayBull     decimal.Decimal `json:"display_bull_amount"`
	DisplayBear     decimal.Decimal `json:"display_bear_amount"`
	LockPriceUSD    string          `json:"lock_price_usd,omitempty"`
	ClosePriceUSD   string          `json:"close_price_usd,omitempty"`
	LockCountdown   string          `json:"lock_countdown_url,omitempty"` // only before lock
}

// BetSummary is one entry of GET /users/{address}/bets. Payout and NetPayout
// are null while the bet is LIVE and for a CANCELED round, where only the
// stake can be reclaimed.
type BetSummary struct {
	Bet       model.Bet           `json:"bet"`
	Result    model.Result        `json:"result"`
	Payout    decimal.NullDecimal `json:"payout"`
	NetPayout decimal.NullDecimal `json:"net_payout"`
	TxURL     string              `json:"tx_url,omitempty"`
}

// CountdownView is the JSON body returned from GET /countdown.
type CountdownView struct {
	SecondsRemaining int64  `json:"seconds_remaining"`
	Display          string `json:"display"`
	Paused           bool   `json:"paused"`
}

// --- HTTP Handlers ---

// UpsertRound handles POST /api/v1/rounds
func (s *Service) UpsertRound(w http.ResponseWriter, r *http.Request) {
	var req RoundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rd, err := req.toRound()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	current, err := s.store.CurrentEpoch(ctx)
	if err != nil {
		writeError(w, "failed to read current epoch", http.StatusInternalServerError)
		return
	}
	if err := s.store.UpsertRound(ctx, rd); err != nil {
		writeError(w, "failed to store round", http.StatusInternalServerError)
		return
	}

	metrics.RoundsIngested.WithLabelValues(strconv.FormatBool(rd.OracleCalled)).Inc()
	if rd.Epoch >= current {
		metrics.CurrentEpoch.Set(float64(rd.Epoch))
		if s.countdown != nil {
			s.countdown.SetTarget(rd.LockTimestamp)
		}
	}

	slog.Info("round stored",
		"epoch", rd.Epoch,
		"total", rd.Pool.TotalAmount.String(),
		"bull", rd.Pool.BullAmount.String(),
		"bear", rd.Pool.BearAmount.String(),
		"oracle_called", rd.OracleCalled,
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:         "round_updated",
			Epoch:        rd.Epoch,
			TotalAmount:  rd.Pool.TotalAmount.String(),
			OracleCalled: rd.OracleCalled,
		})
	}

	writeJSON(w, http.StatusOK, s.roundView(rd))
}

// ListRounds handles GET /api/v1/rounds
func (s *Service) ListRounds(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rounds, err := s.store.ListRounds(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to list rounds", http.StatusInternalServerError)
		return
	}
	if rounds == nil {
		rounds = []model.Round{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

// GetRound handles GET /api/v1/rounds/{epoch}
func (s *Service) GetRound(w http.ResponseWriter, r *http.Request) {
	epoch, err := strconv.ParseInt(chi.URLParam(r, "epoch"), 10, 64)
	if err != nil {
		writeError(w, "invalid epoch", http.StatusBadRequest)
		return
	}

	rd, err := s.store.GetRound(r.Context(), epoch)
	if err != nil {
		writeStoreError(w, err, "round not found")
		return
	}
	writeJSON(w, http.StatusOK, s.roundView(rd))
}

// RecordBet handles POST /api/v1/bets
func (s *Service) RecordBet(w http.ResponseWriter, r *http.Request) {
	var req BetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	bet, err := req.toBet()
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if bet.ID == "" {
		bet.ID = uuid.New().String()
	}
	bet.CreatedAt = s.now().UTC()

	if err := s.store.InsertBet(r.Context(), bet); err != nil {
		writeStoreError(w, err, "failed to record bet")
		return
	}
	bet.User, _ = store.NormalizeAddress(bet.User)

	metrics.BetsRecorded.WithLabelValues(string(bet.Ledger.Position)).Inc()
	slog.Info("bet recorded",
		"bet_id", bet.ID,
		"user", bet.User,
		"epoch", bet.Epoch,
		"position", bet.Ledger.Position,
		"amount", bet.Ledger.Amount.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "bet_recorded",
			Epoch:    bet.Epoch,
			User:     bet.User,
			Position: string(bet.Ledger.Position),
		})
	}

	writeJSON(w, http.StatusCreated, bet)
}

// ListUserBets handles GET /api/v1/users/{address}/bets
func (s *Service) ListUserBets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bets, err := s.store.ListBetsByUser(ctx, chi.URLParam(r, "address"))
	if err != nil {
		writeStoreError(w, err, "failed to list bets")
		return
	}
	current, err := s.store.CurrentEpoch(ctx)
	if err != nil {
		writeError(w, "failed to read current epoch", http.StatusInternalServerError)
		return
	}

	now := s.now()
	summaries := make([]BetSummary, 0, len(bets))
	for i := range bets {
		b := &bets[i]
		sum := BetSummary{
			Bet:    *b,
			Result: round.Classify(b, current, s.buffer, now),
		}
		if s.details != nil {
			sum.TxURL = s.details.TxLink(b.Hash)
		}
		if sum.Result != model.ResultLive && sum.Result != model.ResultCanceled {
			pool := &b.Round.Pool
			sum.Payout = decimal.NewNullDecimal(s.calc.Payout(&b.Ledger, pool))
			sum.NetPayout = decimal.NewNullDecimal(s.calc.NetPayout(&b.Ledger, pool, payout.DefaultRewardRate))
		}
		summaries = append(summaries, sum)
	}
	writeJSON(w, http.StatusOK, summaries)
}

// GetBetDetails handles GET /api/v1/users/{address}/bets/{epoch}
func (s *Service) GetBetDetails(w http.ResponseWriter, r *http.Request) {
	epoch, err := strconv.ParseInt(chi.URLParam(r, "epoch"), 10, 64)
	if err != nil {
		writeError(w, "invalid epoch", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	bet, err := s.store.GetBet(ctx, chi.URLParam(r, "address"), epoch)
	if err != nil {
		writeStoreError(w, err, "bet not found")
		return
	}
	current, err := s.store.CurrentEpoch(ctx)
	if err != nil {
		writeError(w, "failed to read current epoch", http.StatusInternalServerError)
		return
	}

	result := round.Classify(bet, current, s.buffer, s.now())
	tr := s.bundle.Translator(r.Header.Get("Accept-Language"))
	details := s.details.Build(bet, result, tr)

	metrics.BetResults.WithLabelValues(string(result)).Inc()
	writeJSON(w, http.StatusOK, details)
}

// GetCountdown handles GET /api/v1/countdown
func (s *Service) GetCountdown(w http.ResponseWriter, r *http.Request) {
	if s.countdown == nil {
		writeError(w, "countdown not configured", http.StatusNotFound)
		return
	}
	remaining := s.countdown.SecondsRemaining()
	writeJSON(w, http.StatusOK, CountdownView{
		SecondsRemaining: remaining,
		Display:          round.FormatRoundTime(remaining),
		Paused:           s.countdown.Paused(),
	})
}

// StreamCountdown forwards countdown updates to WebSocket clients and the
// countdown gauge until ctx is done.
func (s *Service) StreamCountdown(ctx context.Context) error {
	if s.countdown == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case remaining := <-s.countdown.Updates():
			metrics.CountdownSeconds.Set(float64(remaining))
			if s.wsHub != nil {
				s.wsHub.Broadcast(WSMessage{
					Type:             "countdown",
					SecondsRemaining: &remaining,
					Display:          round.FormatRoundTime(remaining),
				})
			}
		}
	}
}

// --- Helpers ---

func (s *Service) roundView(rd *model.Round) RoundView {
	pool := rd.Pool
	total := decimal.NewNullDecimal(pool.TotalAmount)
	now := s.now()
	view := RoundView{
		Round:           *rd,
		Failed:          round.HasFailed(rd, s.buffer, now),
		Outcome:         round.Outcome(rd),
		PriceDifference: round.PriceDifference(rd.ClosePrice, rd.LockPrice),
		Payout: Multipliers{
			Policy: payout.Basic.String(),
			Up:     payout.Basic.Multiplier(pool.RewardAmount, pool.BullAmount),
			Down:   payout.Basic.Multiplier(pool.RewardAmount, pool.BearAmount),
		},
		Display: Multipliers{
			Policy: payout.FeeAdjusted.String(),
			Up:     payout.FeeAdjusted.Multiplier(total, pool.BullAmount),
			Down:   payout.FeeAdjusted.Multiplier(total, pool.BearAmount),
		},
		DisplayBull: payout.DisplayAmount(pool.BullAmount),
		DisplayBear: payout.DisplayAmount(pool.BearAmount),
	}
	if rd.LockPrice.Valid {
		view.LockPriceUSD = units.FormatUSD(rd.LockPrice.Decimal)
	}
	if rd.ClosePrice.Valid {
		view.ClosePriceUSD = units.FormatUSD(rd.ClosePrice.Decimal)
	}
	if rd.LockBlock > 0 && now.Unix() < rd.LockTimestamp {
		view.LockCountdown = s.links.CountdownLink(rd.LockBlock)
	}
	return view
}

func (req *RoundRequest) toRound() (*model.Round, error) {
	if req.Epoch <= 0 {
		return nil, errors.New("epoch must be positive")
	}

	total, err := parseAmount("total_amount", req.TotalAmount)
	if err != nil {
		return nil, err
	}
	bull, err := parseAmount("bull_amount", req.BullAmount)
	if err != nil {
		return nil, err
	}
	bear, err := parseAmount("bear_amount", req.BearAmount)
	if err != nil {
		return nil, err
	}
	if bull.Add(bear).GreaterThan(total) {
		return nil, errors.New("bull_amount + bear_amount exceeds total_amount")
	}

	reward, err := parseOptional("reward_amount", req.RewardAmount)
	if err != nil {
		return nil, err
	}
	lockPrice, err := parseOptional("lock_price", req.LockPrice)
	if err != nil {
		return nil, err
	}
	closePrice, err := parseOptional("close_price", req.ClosePrice)
	if err != nil {
		return nil, err
	}

	return &model.Round{
		Epoch:          req.Epoch,
		StartTimestamp: req.StartTimestamp,
		LockTimestamp:  req.LockTimestamp,
		CloseTimestamp: req.CloseTimestamp,
		LockBlock:      req.LockBlock,
		CloseBlock:     req.CloseBlock,
		LockPrice:      lockPrice,
		ClosePrice:     closePrice,
		Pool: model.RoundPool{
			TotalAmount:  total,
			BullAmount:   bull,
			BearAmount:   bear,
			RewardAmount: reward,
		},
		OracleCalled: req.OracleCalled,
	}, nil
}

func (req *BetRequest) toBet() (*model.Bet, error) {
	if req.Epoch <= 0 {
		return nil, errors.New("epoch must be positive")
	}
	pos := model.Position(req.Position)
	if !pos.Valid() {
		return nil, errors.New("position must be UP or DOWN")
	}
	if _, err := store.NormalizeAddress(req.User); err != nil {
		return nil, errors.New("user must be a hex address")
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, errors.New("amount must be non-zero")
	}
	claimed, err := parseOptional("claimed_amount", req.ClaimedAmount)
	if err != nil {
		return nil, err
	}

	return &model.Bet{
		ID:            req.ID,
		Hash:          req.Hash,
		User:          req.User,
		Epoch:         req.Epoch,
		Ledger:        model.LedgerEntry{Amount: amount, Position: pos},
		Claimed:       req.Claimed,
		ClaimedAmount: claimed,
	}, nil
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	v, err := units.ParseRaw(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func parseOptional(field string, s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	v, err := parseAmount(field, *s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

// writeStoreError maps store errors to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, fallback, http.StatusNotFound)
	case errors.Is(err, store.ErrDuplicateBet):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrInvalidAddress):
		writeError(w, "invalid user address", http.StatusBadRequest)
	default:
		slog.Error("store error", "err", err)
		writeError(w, fallback, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
