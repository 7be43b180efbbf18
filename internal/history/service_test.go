package history_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/predictions/internal/betdetails"
	"github.com/atmx/predictions/internal/countdown"
	"github.com/atmx/predictions/internal/explorer"
	"github.com/atmx/predictions/internal/history"
	"github.com/atmx/predictions/internal/i18n"
	"github.com/atmx/predictions/internal/model"
	"github.com/atmx/predictions/internal/payout"
	"github.com/atmx/predictions/internal/store"
)

const (
	user  = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	token = "1000000000000000000" // 1 token in wei
)

var txHash = "0x" + strings.Repeat("ab", 32)

var now = time.Unix(10_000, 0)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(s string) *string { return &s }

type testEnv struct {
	ms     *store.MemoryStore
	cd     *countdown.Countdown
	router chi.Router
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := func() time.Time { return now }

	ms := store.NewMemoryStore()
	calc := payout.NewCalculator(18)
	bundle := i18n.NewBundle("en")
	bundle.Add("es", map[string]string{i18n.KeyRoundHistory: "Historial de la ronda"})
	cd := countdown.New(now.Unix(), countdown.WithClock(clock))

	links := explorer.New(56, "")
	svc := history.NewService(history.Deps{
		Store:      ms,
		Calculator: calc,
		Details:    betdetails.NewBuilder(calc, links),
		Bundle:     bundle,
		Links:      links,
		Countdown:  cd,
		Buffer:     30,
		Now:        clock,
	})

	r := chi.NewRouter()
	r.Get("/api/v1/rounds", svc.ListRounds)
	r.Post("/api/v1/rounds", svc.UpsertRound)
	r.Get("/api/v1/rounds/{epoch}", svc.GetRound)
	r.Post("/api/v1/bets", svc.RecordBet)
	r.Get("/api/v1/users/{address}/bets", svc.ListUserBets)
	r.Get("/api/v1/users/{address}/bets/{epoch}", svc.GetBetDetails)
	r.Get("/api/v1/countdown", svc.GetCountdown)

	return &testEnv{ms: ms, cd: cd, router: r}
}

// settledRound is an UP win: both sides staked 1 token, 1.9 tokens paid out.
func settledRound(epoch int64) history.RoundRequest {
	return history.RoundRequest{
		Epoch:          epoch,
		StartTimestamp: 9_000,
		LockTimestamp:  9_300,
		CloseTimestamp: 9_600,
		LockBlock:      100,
		CloseBlock:     200,
		LockPrice:      ptr("30000000000"),
		ClosePrice:     ptr("31000000000"),
		TotalAmount:    "2000000000000000000",
		BullAmount:     token,
		BearAmount:     token,
		RewardAmount:   ptr("1900000000000000000"),
		OracleCalled:   true,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) mustDo(t *testing.T, method, path string, body any, status int) *httptest.ResponseRecorder {
	t.Helper()
	w := e.do(t, method, path, body)
	if w.Code != status {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, status, w.Code, w.Body.String())
	}
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

// seedHistory stores a settled round 5, a newer round 7 and a bet on 5.
func (e *testEnv) seedHistory(t *testing.T, position string) {
	t.Helper()
	e.mustDo(t, "POST", "/api/v1/rounds", settledRound(5), http.StatusOK)
	next := settledRound(7)
	next.OracleCalled = false
	next.CloseTimestamp = now.Unix() + 300
	e.mustDo(t, "POST", "/api/v1/rounds", next, http.StatusOK)
	e.mustDo(t, "POST", "/api/v1/bets", history.BetRequest{
		Hash: txHash, User: user, Epoch: 5, Position: position, Amount: token,
	}, http.StatusCreated)
}

// --- Rounds ---

func TestUpsertRound_Valid(t *testing.T) {
	env := newTestEnv(t)

	w := env.mustDo(t, "POST", "/api/v1/rounds", settledRound(5), http.StatusOK)
	view := decode[history.RoundView](t, w)

	if view.Round.Epoch != 5 {
		t.Errorf("expected epoch 5, got %d", view.Round.Epoch)
	}
	if !view.Payout.Up.Equal(d("1.9")) {
		t.Errorf("expected payout multiplier 1.9, got %s", view.Payout.Up)
	}

	stored, err := env.ms.GetRound(context.Background(), 5)
	if err != nil {
		t.Fatalf("round was not stored: %v", err)
	}
	if !stored.Pool.TotalAmount.Equal(d("2000000000000000000")) {
		t.Errorf("unexpected stored total %s", stored.Pool.TotalAmount)
	}
}

func TestUpsertRound_HexAmounts(t *testing.T) {
	env := newTestEnv(t)

	req := settledRound(5)
	req.BullAmount = "0xde0b6b3a7640000" // 1e18
	env.mustDo(t, "POST", "/api/v1/rounds", req, http.StatusOK)

	stored, _ := env.ms.GetRound(context.Background(), 5)
	if !stored.Pool.BullAmount.Equal(d(token)) {
		t.Errorf("expected hex amount to parse to %s, got %s", token, stored.Pool.BullAmount)
	}
}

func TestUpsertRound_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*history.RoundRequest)
	}{
		{"zero epoch", func(r *history.RoundRequest) { r.Epoch = 0 }},
		{"bad amount", func(r *history.RoundRequest) { r.TotalAmount = "lots" }},
		{"sides exceed total", func(r *history.RoundRequest) { r.TotalAmount = "1" }},
		{"bad price", func(r *history.RoundRequest) { r.LockPrice = ptr("-") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := settledRound(5)
			tt.mutate(&req)
			env.mustDo(t, "POST", "/api/v1/rounds", req, http.StatusBadRequest)
		})
	}
}

func TestUpsertRound_RetargetsCountdown(t *testing.T) {
	env := newTestEnv(t)

	req := settledRound(8)
	req.LockTimestamp = now.Unix() + 90
	env.mustDo(t, "POST", "/api/v1/rounds", req, http.StatusOK)

	w := env.mustDo(t, "GET", "/api/v1/countdown", nil, http.StatusOK)
	view := decode[history.CountdownView](t, w)
	if view.SecondsRemaining != 90 || view.Display != "01:30" {
		t.Errorf("expected 90s / 01:30, got %+v", view)
	}

	// An older epoch must not move the countdown back.
	older := settledRound(3)
	older.LockTimestamp = now.Unix() + 10
	env.mustDo(t, "POST", "/api/v1/rounds", older, http.StatusOK)
	if got := env.cd.SecondsRemaining(); got != 90 {
		t.Errorf("older round retargeted countdown to %d", got)
	}
}

func TestGetRound(t *testing.T) {
	env := newTestEnv(t)
	env.mustDo(t, "POST", "/api/v1/rounds", settledRound(5), http.StatusOK)

	w := env.mustDo(t, "GET", "/api/v1/rounds/5", nil, http.StatusOK)
	view := decode[history.RoundView](t, w)

	if view.Failed {
		t.Error("settled round should not be failed")
	}
	if view.Outcome != model.PositionUp {
		t.Errorf("expected UP outcome, got %q", view.Outcome)
	}
	if !view.PriceDifference.Equal(d("1000000000")) {
		t.Errorf("expected price difference 1000000000, got %s", view.PriceDifference)
	}
	// total/bull = 2, minus 5% of itself.
	if !view.Display.Up.Equal(d("1.9")) {
		t.Errorf("expected display multiplier 1.9, got %s", view.Display.Up)
	}
	if view.Display.Policy != "fee_adjusted" || view.Payout.Policy != "basic" {
		t.Errorf("unexpected policies %q / %q", view.Payout.Policy, view.Display.Policy)
	}
	if !view.DisplayBull.Equal(d("950000000000000000")) {
		t.Errorf("expected display bull 0.95 token, got %s", view.DisplayBull)
	}
	if view.LockPriceUSD != "$300.0000" || view.ClosePriceUSD != "$310.0000" {
		t.Errorf("unexpected USD prices %q / %q", view.LockPriceUSD, view.ClosePriceUSD)
	}
	if view.LockCountdown != "" {
		t.Errorf("locked round should have no countdown link, got %q", view.LockCountdown)
	}
}

func TestGetRound_UpcomingLockLinksCountdown(t *testing.T) {
	env := newTestEnv(t)
	req := settledRound(9)
	req.LockTimestamp = now.Unix() + 120
	req.LockBlock = 4242
	req.LockPrice, req.ClosePrice, req.RewardAmount = nil, nil, nil
	req.OracleCalled = false
	req.CloseTimestamp = now.Unix() + 420
	env.mustDo(t, "POST", "/api/v1/rounds", req, http.StatusOK)

	view := decode[history.RoundView](t, env.mustDo(t, "GET", "/api/v1/rounds/9", nil, http.StatusOK))
	if view.LockCountdown != "https://bscscan.com/block/countdown/4242" {
		t.Errorf("unexpected countdown link %q", view.LockCountdown)
	}
	if view.LockPriceUSD != "" || view.ClosePriceUSD != "" {
		t.Errorf("missing prices should render empty, got %q / %q", view.LockPriceUSD, view.ClosePriceUSD)
	}
}

func TestGetRound_FailedUnsettled(t *testing.T) {
	env := newTestEnv(t)
	req := settledRound(5)
	req.OracleCalled = false
	req.RewardAmount = nil
	env.mustDo(t, "POST", "/api/v1/rounds", req, http.StatusOK)

	view := decode[history.RoundView](t, env.mustDo(t, "GET", "/api/v1/rounds/5", nil, http.StatusOK))
	if !view.Failed {
		t.Error("round past close+buffer without oracle should be failed")
	}
	if !view.Payout.Up.IsZero() {
		t.Errorf("expected zero payout multiplier without reward, got %s", view.Payout.Up)
	}
}

func TestGetRound_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.mustDo(t, "GET", "/api/v1/rounds/42", nil, http.StatusNotFound)
	env.mustDo(t, "GET", "/api/v1/rounds/abc", nil, http.StatusBadRequest)
}

func TestListRounds(t *testing.T) {
	env := newTestEnv(t)
	for _, e := range []int64{1, 2, 3} {
		env.mustDo(t, "POST", "/api/v1/rounds", settledRound(e), http.StatusOK)
	}

	rounds := decode[[]model.Round](t, env.mustDo(t, "GET", "/api/v1/rounds?limit=2", nil, http.StatusOK))
	if len(rounds) != 2 || rounds[0].Epoch != 3 {
		t.Errorf("expected 2 rounds newest first, got %+v", rounds)
	}

	env.mustDo(t, "GET", "/api/v1/rounds?limit=0", nil, http.StatusBadRequest)
}

// --- Bets ---

func TestRecordBet(t *testing.T) {
	env := newTestEnv(t)

	w := env.mustDo(t, "POST", "/api/v1/bets", history.BetRequest{
		User: user, Epoch: 5, Position: "UP", Amount: token,
	}, http.StatusCreated)
	bet := decode[model.Bet](t, w)

	if bet.ID == "" {
		t.Error("expected a generated bet ID")
	}
	if bet.User != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Errorf("expected checksummed user, got %s", bet.User)
	}
	if !bet.CreatedAt.Equal(now) {
		t.Errorf("expected created_at %v, got %v", now, bet.CreatedAt)
	}
}

func TestRecordBet_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	req := history.BetRequest{User: user, Epoch: 5, Position: "DOWN", Amount: token}

	env.mustDo(t, "POST", "/api/v1/bets", req, http.StatusCreated)
	env.mustDo(t, "POST", "/api/v1/bets", req, http.StatusConflict)
}

func TestRecordBet_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  history.BetRequest
	}{
		{"house position", history.BetRequest{User: user, Epoch: 5, Position: "HOUSE", Amount: token}},
		{"bad user", history.BetRequest{User: "alice", Epoch: 5, Position: "UP", Amount: token}},
		{"zero amount", history.BetRequest{User: user, Epoch: 5, Position: "UP", Amount: "0"}},
		{"no epoch", history.BetRequest{User: user, Position: "UP", Amount: token}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.mustDo(t, "POST", "/api/v1/bets", tt.req, http.StatusBadRequest)
		})
	}
}

func TestListUserBets(t *testing.T) {
	env := newTestEnv(t)
	env.seedHistory(t, "UP")

	w := env.mustDo(t, "GET", "/api/v1/users/"+user+"/bets", nil, http.StatusOK)
	bets := decode[[]history.BetSummary](t, w)

	if len(bets) != 1 {
		t.Fatalf("expected 1 bet, got %d", len(bets))
	}
	b := bets[0]
	if b.Result != model.ResultWin {
		t.Errorf("expected WIN, got %s", b.Result)
	}
	if !b.Payout.Valid || !b.Payout.Decimal.Equal(d("1.9")) {
		t.Errorf("expected payout 1.9, got %+v", b.Payout)
	}
	if !b.NetPayout.Valid || !b.NetPayout.Decimal.Equal(d("0.9")) {
		t.Errorf("expected net payout 0.9, got %+v", b.NetPayout)
	}
	if b.TxURL != "https://bscscan.com/tx/"+txHash {
		t.Errorf("unexpected tx URL %q", b.TxURL)
	}
}

func TestListUserBets_Canceled(t *testing.T) {
	env := newTestEnv(t)
	req := settledRound(5)
	req.OracleCalled = false
	req.RewardAmount = nil
	env.mustDo(t, "POST", "/api/v1/rounds", req, http.StatusOK)
	env.mustDo(t, "POST", "/api/v1/bets", history.BetRequest{
		User: user, Epoch: 5, Position: "UP", Amount: token,
	}, http.StatusCreated)

	bets := decode[[]history.BetSummary](t, env.mustDo(t, "GET", "/api/v1/users/"+user+"/bets", nil, http.StatusOK))
	if len(bets) != 1 || bets[0].Result != model.ResultCanceled {
		t.Fatalf("expected one CANCELED bet, got %+v", bets)
	}
	if bets[0].Payout.Valid || bets[0].NetPayout.Valid {
		t.Errorf("canceled bet must not report win/lose amounts, got %+v / %+v", bets[0].Payout, bets[0].NetPayout)
	}
}

func TestListUserBets_LiveHasNoAmounts(t *testing.T) {
	env := newTestEnv(t)
	env.mustDo(t, "POST", "/api/v1/rounds", settledRound(5), http.StatusOK)
	env.mustDo(t, "POST", "/api/v1/bets", history.BetRequest{
		User: user, Epoch: 5, Position: "UP", Amount: token,
	}, http.StatusCreated)

	bets := decode[[]history.BetSummary](t, env.mustDo(t, "GET", "/api/v1/users/"+user+"/bets", nil, http.StatusOK))
	if len(bets) != 1 || bets[0].Result != model.ResultLive {
		t.Fatalf("expected one LIVE bet, got %+v", bets)
	}
	if bets[0].Payout.Valid || bets[0].NetPayout.Valid {
		t.Errorf("live bet must not report amounts, got %+v / %+v", bets[0].Payout, bets[0].NetPayout)
	}
	if bets[0].TxURL != "" {
		t.Errorf("bet without hash should have no tx URL, got %q", bets[0].TxURL)
	}
}

func TestListUserBets_InvalidAddress(t *testing.T) {
	env := newTestEnv(t)
	env.mustDo(t, "GET", "/api/v1/users/bob/bets", nil, http.StatusBadRequest)
}

// --- Bet details ---

func TestGetBetDetails_Lose(t *testing.T) {
	env := newTestEnv(t)
	env.seedHistory(t, "DOWN")

	w := env.mustDo(t, "GET", "/api/v1/users/"+user+"/bets/5", nil, http.StatusOK)
	det := decode[betdetails.Details](t, w)

	if det.Result != model.ResultLose {
		t.Fatalf("expected LOSE, got %s", det.Result)
	}
	if det.CanceledNotice != "" {
		t.Error("only canceled rounds carry the notice")
	}
	if det.Outcome == nil || !det.Outcome.NetPayout.Valid {
		t.Fatalf("expected outcome with net payout, got %+v", det.Outcome)
	}
	if !det.Outcome.Stake.Equal(d("1")) {
		t.Errorf("expected stake 1, got %s", det.Outcome.Stake)
	}
	if len(det.Rows) != 2 || det.Rows[1].Display != "0.9500" {
		t.Errorf("unexpected rows %+v", det.Rows)
	}
	if det.OpeningBlock.URL != "https://bscscan.com/block/100" {
		t.Errorf("unexpected opening block URL %s", det.OpeningBlock.URL)
	}
}

func TestGetBetDetails_Canceled(t *testing.T) {
	env := newTestEnv(t)
	req := settledRound(5)
	req.OracleCalled = false
	req.RewardAmount = nil
	env.mustDo(t, "POST", "/api/v1/rounds", req, http.StatusOK)
	env.mustDo(t, "POST", "/api/v1/bets", history.BetRequest{
		User: user, Epoch: 5, Position: "UP", Amount: token,
	}, http.StatusCreated)

	det := decode[betdetails.Details](t, env.mustDo(t, "GET", "/api/v1/users/"+user+"/bets/5", nil, http.StatusOK))

	if det.Result != model.ResultCanceled {
		t.Fatalf("expected CANCELED, got %s", det.Result)
	}
	if det.CanceledNotice != i18n.KeyCanceledNotice {
		t.Errorf("expected canceled notice, got %q", det.CanceledNotice)
	}
	if det.Outcome == nil || det.Outcome.Payout.Valid || det.Outcome.NetPayout.Valid {
		t.Errorf("canceled outcome should carry only the stake, got %+v", det.Outcome)
	}
}

func TestGetBetDetails_Live(t *testing.T) {
	env := newTestEnv(t)
	env.mustDo(t, "POST", "/api/v1/bets", history.BetRequest{
		User: user, Epoch: 9, Position: "UP", Amount: token,
	}, http.StatusCreated)

	det := decode[betdetails.Details](t, env.mustDo(t, "GET", "/api/v1/users/"+user+"/bets/9", nil, http.StatusOK))
	if det.Result != model.ResultLive || det.Outcome != nil {
		t.Errorf("bet without a round should be LIVE with no outcome, got %+v", det)
	}
}

func TestGetBetDetails_Translated(t *testing.T) {
	env := newTestEnv(t)
	env.seedHistory(t, "UP")

	w := env.do(t, "GET", "/api/v1/users/"+user+"/bets/5", nil, "Accept-Language", "es-MX,es;q=0.9")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	det := decode[betdetails.Details](t, w)
	if det.Heading != "Historial de la ronda" {
		t.Errorf("expected Spanish heading, got %q", det.Heading)
	}
	if det.Rows[0].Label != i18n.KeyUp {
		t.Errorf("missing translation should fall back to the key, got %q", det.Rows[0].Label)
	}
}

func TestGetBetDetails_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.mustDo(t, "GET", "/api/v1/users/"+user+"/bets/5", nil, http.StatusNotFound)
	env.mustDo(t, "GET", "/api/v1/users/"+user+"/bets/x", nil, http.StatusBadRequest)
}

// --- Countdown ---

func TestGetCountdown_NotConfigured(t *testing.T) {
	svc := history.NewService(history.Deps{Store: store.NewMemoryStore()})
	r := chi.NewRouter()
	r.Get("/api/v1/countdown", svc.GetCountdown)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/countdown", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestStreamCountdown_StopsOnCancel(t *testing.T) {
	cd := countdown.New(now.Unix()+60, countdown.WithClock(func() time.Time { return now }))
	svc := history.NewService(history.Deps{Store: store.NewMemoryStore(), Countdown: cd})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.StreamCountdown(ctx) }()

	cd.SetTarget(now.Unix() + 30)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("StreamCountdown did not return after cancel")
	}
}
