package journal

import (
	"time"

	"github.com/rustyeddy/sigtrader/position"
)

type TradeRecord struct {
	TradeID    string    `json:"trade_id"`
	RunID      string    `json:"run_id,omitempty"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	OpenTime   time.Time `json:"open_time"`
	CloseTime  time.Time `json:"close_time"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
	Commission float64   `json:"commission"`
	Reason     string    `json:"reason"`
}

type EquitySnapshot struct {
	RunID   string    `json:"run_id,omitempty"`
	Symbol  string    `json:"symbol"`
	Time    time.Time `json:"time"`
	Balance float64   `json:"balance"`
	Equity  float64   `json:"equity"`
}

type Journal interface {
	RecordTrade(TradeRecord) error
	RecordEquity(EquitySnapshot) error
	Close() error
}

// FromTrade converts a closed position into its ledger row.
func FromTrade(t position.Trade, runID string) TradeRecord {
	return TradeRecord{
		TradeID:    t.ID,
		RunID:      runID,
		Symbol:     t.Symbol,
		Side:       t.Side.String(),
		Quantity:   t.Quantity,
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		OpenTime:   t.OpenedAt.UTC(),
		CloseTime:  t.ClosedAt.UTC(),
		PnL:        t.PnL,
		PnLPct:     t.PnLPct,
		Commission: t.Commission,
		Reason:     string(t.ExitReason),
	}
}

// Discard accepts and drops every record.
type Discard struct{}

func (Discard) RecordTrade(TradeRecord) error     { return nil }
func (Discard) RecordEquity(EquitySnapshot) error { return nil }
func (Discard) Close() error                      { return nil }
