package position

import (
	"time"

	"github.com/rustyeddy/sigtrader/risk"
)

type ExitReason string

const (
	StopLoss       ExitReason = "stop_loss"
	TakeProfit     ExitReason = "take_profit"
	SignalReversal ExitReason = "signal_reversal"
	Manual         ExitReason = "manual"
)

// Position is an open exposure. Zero StopLoss or TakeProfit means the level
// is not set.
type Position struct {
	Symbol     string
	Side       risk.Side
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
	OpenedAt   time.Time

	EntryCommission float64
}

func (p *Position) hitStopLoss(price float64) bool {
	if p.StopLoss == 0 {
		return false
	}
	if p.Side == risk.Long {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

func (p *Position) hitTakeProfit(price float64) bool {
	if p.TakeProfit == 0 {
		return false
	}
	if p.Side == risk.Long {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

// UnrealizedPnL is the gross PnL if the position were closed at price.
func (p Position) UnrealizedPnL(price float64) float64 {
	return float64(p.Side) * (price - p.EntryPrice) * p.Quantity
}

// Trade is the closed record of a position. Trades are never modified after
// they are emitted.
type Trade struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Side       risk.Side  `json:"-"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Quantity   float64    `json:"quantity"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   time.Time  `json:"closed_at"`
	ExitReason ExitReason `json:"exit_reason"`

	// PnLPct is the price return of the trade in the direction of the side.
	PnLPct float64 `json:"pnl_pct"`
	// PnL is the gross realized PnL in account currency.
	PnL float64 `json:"pnl"`
	// Commission is the sum of the entry and exit legs.
	Commission float64 `json:"commission"`
}

// Net is PnL after both commission legs.
func (t Trade) Net() float64 { return t.PnL - t.Commission }

func (t Trade) Winner() bool { return t.PnLPct > 0 }

func pnlPct(side risk.Side, entry, exit float64) float64 {
	if entry == 0 {
		return 0
	}
	return float64(side) * (exit/entry - 1) * 100
}
