package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/predictions/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS rounds (
	epoch           BIGINT PRIMARY KEY,
	start_timestamp BIGINT  NOT NULL,
	lock_timestamp  BIGINT  NOT NULL,
	close_timestamp BIGINT  NOT NULL,
	lock_block      BIGINT  NOT NULL,
	close_block     BIGINT  NOT NULL,
	lock_price      NUMERIC,
	close_price     NUMERIC,
	total_amount    NUMERIC NOT NULL,
	bull_amount     NUMERIC NOT NULL,
	bear_amount     NUMERIC NOT NULL,
	reward_amount   NUMERIC,
	oracle_called   BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS bets (
	id             TEXT PRIMARY KEY,
	hash           TEXT        NOT NULL,
	user_address   TEXT        NOT NULL,
	epoch          BIGINT      NOT NULL,
	position       TEXT        NOT NULL,
	amount         NUMERIC     NOT NULL,
	claimed        BOOLEAN     NOT NULL DEFAULT FALSE,
	claimed_amount NUMERIC,
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (user_address, epoch)
);`

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const roundColumns = `epoch, start_timestamp, lock_timestamp, close_timestamp,
	lock_block, close_block,
	lock_price::TEXT, close_price::TEXT,
	total_amount::TEXT, bull_amount::TEXT, bear_amount::TEXT, reward_amount::TEXT,
	oracle_called`

func (s *PostgresStore) UpsertRound(ctx context.Context, r *model.Round) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rounds (epoch, start_timestamp, lock_timestamp, close_timestamp,
		                     lock_block, close_block, lock_price, close_price,
		                     total_amount, bull_amount, bear_amount, reward_amount, oracle_called)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC,
		         $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13)
		 ON CONFLICT (epoch) DO UPDATE SET
		     start_timestamp = EXCLUDED.start_timestamp,
		     lock_timestamp  = EXCLUDED.lock_timestamp,
		     close_timestamp = EXCLUDED.close_timestamp,
		     lock_block      = EXCLUDED.lock_block,
		     close_block     = EXCLUDED.close_block,
		     lock_price      = EXCLUDED.lock_price,
		     close_price     = EXCLUDED.close_price,
		     total_amount    = EXCLUDED.total_amount,
		     bull_amount     = EXCLUDED.bull_amount,
		     bear_amount     = EXCLUDED.bear_amount,
		     reward_amount   = EXCLUDED.reward_amount,
		     oracle_called   = EXCLUDED.oracle_called`,
		r.Epoch, r.StartTimestamp, r.LockTimestamp, r.CloseTimestamp,
		int64(r.LockBlock), int64(r.CloseBlock),
		nullString(r.LockPrice), nullString(r.ClosePrice),
		r.Pool.TotalAmount.String(), r.Pool.BullAmount.String(), r.Pool.BearAmount.String(),
		nullString(r.Pool.RewardAmount),
		r.OracleCalled,
	)
	return err
}

func (s *PostgresStore) GetRound(ctx context.Context, epoch int64) (*model.Round, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE epoch = $1`, epoch)

	r, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("round %d: %w", epoch, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get round %d: %w", epoch, err)
	}
	return r, nil
}

func (s *PostgresStore) ListRounds(ctx context.Context, limit int) ([]model.Round, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM rounds ORDER BY epoch DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, *r)
	}
	return rounds, rows.Err()
}

func (s *PostgresStore) CurrentEpoch(ctx context.Context) (int64, error) {
	var epoch int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(epoch), 0) FROM rounds`).Scan(&epoch)
	return epoch, err
}

func (s *PostgresStore) InsertBet(ctx context.Context, b *model.Bet) error {
	user, err := NormalizeAddress(b.User)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO bets (id, hash, user_address, epoch, position, amount, claimed, claimed_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8::NUMERIC, $9)`,
		b.ID, b.Hash, user, b.Epoch, string(b.Ledger.Position),
		b.Ledger.Amount.String(), b.Claimed, nullString(b.ClaimedAmount),
		b.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("bet %s/%d: %w", user, b.Epoch, ErrDuplicateBet)
	}
	return err
}

const betJoinQuery = `
	SELECT b.id, b.hash, b.user_address, b.epoch, b.position, b.amount::TEXT,
	       b.claimed, b.claimed_amount::TEXT, b.created_at,
	       r.epoch, r.start_timestamp, r.lock_timestamp, r.close_timestamp,
	       r.lock_block, r.close_block,
	       r.lock_price::TEXT, r.close_price::TEXT,
	       r.total_amount::TEXT, r.bull_amount::TEXT, r.bear_amount::TEXT, r.reward_amount::TEXT,
	       r.oracle_called
	FROM bets b
	LEFT JOIN rounds r ON r.epoch = b.epoch`

func (s *PostgresStore) GetBet(ctx context.Context, user string, epoch int64) (*model.Bet, error) {
	user, err := NormalizeAddress(user)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, betJoinQuery+` WHERE b.user_address = $1 AND b.epoch = $2`, user, epoch)
	b, err := scanBet(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bet %s/%d: %w", user, epoch, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get bet %s/%d: %w", user, epoch, err)
	}
	return b, nil
}

func (s *PostgresStore) ListBetsByUser(ctx context.Context, user string) ([]model.Bet, error) {
	user, err := NormalizeAddress(user)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, betJoinQuery+` WHERE b.user_address = $1 ORDER BY b.epoch DESC`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

// --- Scanning helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (*model.Round, error) {
	var r model.Round
	var lockBlock, closeBlock int64
	var lockPrice, closePrice, reward *string
	var total, bull, bear string

	if err := row.Scan(&r.Epoch, &r.StartTimestamp, &r.LockTimestamp, &r.CloseTimestamp,
		&lockBlock, &closeBlock,
		&lockPrice, &closePrice,
		&total, &bull, &bear, &reward,
		&r.OracleCalled); err != nil {
		return nil, err
	}

	r.LockBlock = uint64(lockBlock)
	r.CloseBlock = uint64(closeBlock)
	r.LockPrice = nullDecimal(lockPrice)
	r.ClosePrice = nullDecimal(closePrice)
	r.Pool.TotalAmount, _ = decimal.NewFromString(total)
	r.Pool.BullAmount, _ = decimal.NewFromString(bull)
	r.Pool.BearAmount, _ = decimal.NewFromString(bear)
	r.Pool.RewardAmount = nullDecimal(reward)
	return &r, nil
}

func scanBet(row rowScanner) (*model.Bet, error) {
	var b model.Bet
	var position, amount string
	var claimedAmount *string

	// Round columns are nullable because of the LEFT JOIN.
	var epoch, startTs, lockTs, closeTs, lockBlock, closeBlock *int64
	var lockPrice, closePrice, total, bull, bear, reward *string
	var oracleCalled *bool

	if err := row.Scan(&b.ID, &b.Hash, &b.User, &b.Epoch, &position, &amount,
		&b.Claimed, &claimedAmount, &b.CreatedAt,
		&epoch, &startTs, &lockTs, &closeTs,
		&lockBlock, &closeBlock,
		&lockPrice, &closePrice,
		&total, &bull, &bear, &reward,
		&oracleCalled); err != nil {
		return nil, err
	}

	b.Ledger.Position = model.Position(position)
	b.Ledger.Amount, _ = decimal.NewFromString(amount)
	b.ClaimedAmount = nullDecimal(claimedAmount)

	if epoch != nil {
		b.Round = &model.Round{
			Epoch:          *epoch,
			StartTimestamp: deref(startTs),
			LockTimestamp:  deref(lockTs),
			CloseTimestamp: deref(closeTs),
			LockBlock:      uint64(deref(lockBlock)),
			CloseBlock:     uint64(deref(closeBlock)),
			LockPrice:      nullDecimal(lockPrice),
			ClosePrice:     nullDecimal(closePrice),
			Pool: model.RoundPool{
				TotalAmount:  nullDecimal(total).Decimal,
				BullAmount:   nullDecimal(bull).Decimal,
				BearAmount:   nullDecimal(bear).Decimal,
				RewardAmount: nullDecimal(reward),
			},
			OracleCalled: oracleCalled != nil && *oracleCalled,
		}
	}
	return &b, nil
}

func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func nullDecimal(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
