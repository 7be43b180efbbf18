// Package betdetails assembles the detail view of a user's historical bet:
// the outcome, the round's payout rows and its block references.
package betdetails

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/predictions/internal/explorer"
	"github.com/atmx/predictions/internal/i18n"
	"github.com/atmx/predictions/internal/model"
	"github.com/atmx/predictions/internal/payout"
	"github.com/atmx/predictions/internal/units"
)

// Details is the bet-detail view.
type Details struct {
	BetID          string       `json:"bet_id"`
	UserURL        string       `json:"user_url,omitempty"`
	Epoch          int64        `json:"epoch"`
	Result         model.Result `json:"result"`
	CanceledNotice string       `json:"canceled_notice,omitempty"`
	Outcome        *Outcome     `json:"outcome,omitempty"` // nil while LIVE
	Heading        string       `json:"heading"`
	Rows           []PayoutRow  `json:"rows"`
	OpeningBlock   BlockRef     `json:"opening_block"`
	ClosingBlock   BlockRef     `json:"closing_block"`
}

// Outcome is the result section. Payout and NetPayout are null for a
// canceled round, where only the stake can be reclaimed.
type Outcome struct {
	Result    model.Result        `json:"result"`
	Position  model.Position      `json:"position"`
	Stake        decimal.Decimal     `json:"stake"`
	StakeDisplay string              `json:"stake_display"` // 4 digits
	Payout       decimal.NullDecimal `json:"payout"`
	NetPayout    decimal.NullDecimal `json:"net_payout"`
	Claimed      bool                `json:"claimed"`
	TxURL        string              `json:"tx_url,omitempty"` // empty when the hash is unknown or malformed
}

// PayoutRow is one side of the round history.
type PayoutRow struct {
	Position   model.Position  `json:"position"`
	Label      string          `json:"label"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Amount     decimal.Decimal `json:"amount"`  // raw units, fee-adjusted
	Display    string          `json:"display"` // token units, 4 digits
}

// BlockRef is a labelled block number with its explorer link.
type BlockRef struct {
	Label  string `json:"label"`
	Number uint64 `json:"number"`
	URL    string `json:"url"`
}

// Builder builds Details. It is stateless and safe for concurrent use.
type Builder struct {
	calc  *payout.Calculator
	links *explorer.Explorer
}

// NewBuilder creates a builder.
func NewBuilder(calc *payout.Calculator, links *explorer.Explorer) *Builder {
	return &Builder{calc: calc, links: links}
}

// Build returns the detail view of bet for the given result. bet.Round must
// be populated.
func (b *Builder) Build(bet *model.Bet, result model.Result, tr i18n.Translator) *Details {
	if tr == nil {
		tr = i18n.Identity{}
	}
	r := bet.Round
	if r == nil {
		r = &model.Round{Epoch: bet.Epoch}
	}

	d := &Details{
		BetID:   bet.ID,
		UserURL: b.link(bet.User, explorer.KindAddress),
		Epoch:   r.Epoch,
		Result:  result,
		Heading: tr.T(i18n.KeyRoundHistory),
		Rows: []PayoutRow{
			b.row(model.PositionUp, tr.T(i18n.KeyUp), r.Pool.TotalAmount, r.Pool.BullAmount),
			b.row(model.PositionDown, tr.T(i18n.KeyDown), r.Pool.TotalAmount, r.Pool.BearAmount),
		},
		OpeningBlock: BlockRef{
			Label:  tr.T(i18n.KeyOpeningBlock),
			Number: r.LockBlock,
			URL:    b.links.BlockLink(r.LockBlock),
		},
		ClosingBlock: BlockRef{
			Label:  tr.T(i18n.KeyClosingBlock),
			Number: r.CloseBlock,
			URL:    b.links.BlockLink(r.CloseBlock),
		},
	}

	if result == model.ResultCanceled {
		d.CanceledNotice = tr.T(i18n.KeyCanceledNotice)
	}
	if result != model.ResultLive {
		d.Outcome = b.outcome(bet, r, result)
	}
	return d
}

func (b *Builder) outcome(bet *model.Bet, r *model.Round, result model.Result) *Outcome {
	o := &Outcome{
		Result:       result,
		Position:     bet.Ledger.Position,
		Stake:        b.calc.Stake(&bet.Ledger),
		StakeDisplay: units.FormatToken(bet.Ledger.Amount, b.calc.Decimals()),
		Claimed:      bet.Claimed,
		TxURL:        b.TxLink(bet.Hash),
	}
	if result == model.ResultCanceled {
		return o
	}
	o.Payout = decimal.NewNullDecimal(b.calc.Payout(&bet.Ledger, &r.Pool))
	o.NetPayout = decimal.NewNullDecimal(b.calc.NetPayout(&bet.Ledger, &r.Pool, payout.DefaultRewardRate))
	return o
}

func (b *Builder) row(pos model.Position, label string, total, side decimal.Decimal) PayoutRow {
	amount := payout.DisplayAmount(side)
	return PayoutRow{
		Position:   pos,
		Label:      label,
		Multiplier: payout.FeeAdjustedMultiplier(decimal.NewNullDecimal(total), side),
		Amount:     amount,
		Display:    units.FormatToken(amount, b.calc.Decimals()),
	}
}

// TxLink returns the explorer link of a bet transaction, or "" when hash is
// not a transaction hash.
func (b *Builder) TxLink(hash string) string {
	return b.link(hash, explorer.KindTransaction)
}

func (b *Builder) link(data string, kind explorer.Kind) string {
	u, err := b.links.Link(data, kind)
	if err != nil {
		return ""
	}
	return u
}
