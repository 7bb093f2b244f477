package backtest

import (
	"math"

	"github.com/bytedance/sonic"

	"github.com/rustyeddy/sigtrader/market"
	"github.com/rustyeddy/sigtrader/position"
)

// TradingDays annualises the per-bar Sharpe ratio.
const TradingDays = 252

type Metrics struct {
	TotalReturnPct float64
	WinRate        float64
	ProfitFactor   float64
	MaxDrawdownPct float64
	SharpeRatio    float64
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
}

// ComputeMetrics derives performance figures from the ledger and the equity
// curve. A trade with pnl_pct <= 0 counts as losing. Degenerate inputs give
// zeros, never NaN.
func ComputeMetrics(initialCapital, finalBalance float64, trades []position.Trade, equity []EquityPoint) Metrics {
	m := Metrics{TotalTrades: len(trades)}

	if initialCapital > 0 {
		m.TotalReturnPct = (finalBalance - initialCapital) / initialCapital * 100
	}

	var gains, losses float64
	for _, t := range trades {
		if t.Winner() {
			m.WinningTrades++
			gains += t.PnLPct
		} else {
			m.LosingTrades++
			losses += t.PnLPct
		}
	}
	losses = math.Abs(losses)

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	}
	switch {
	case losses > 0:
		m.ProfitFactor = gains / losses
	case gains > 0:
		m.ProfitFactor = math.Inf(1)
	}

	m.MaxDrawdownPct = MaxDrawdownPct(equity)
	m.SharpeRatio = Sharpe(equity)
	return m
}

// MaxDrawdownPct is the largest decline from the running peak, as a positive
// percentage.
func MaxDrawdownPct(equity []EquityPoint) float64 {
	var peak, worst float64
	for _, p := range equity {
		if p.Balance > peak {
			peak = p.Balance
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Balance) / peak * 100; dd > worst {
			worst = dd
		}
	}
	return worst
}

// Returns is the bar-over-bar fractional change of the balance. Points
// following a zero balance are skipped.
func Returns(equity []EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Balance
		if prev == 0 {
			continue
		}
		out = append(out, equity[i].Balance/prev-1)
	}
	return out
}

// Sharpe is mean/stddev of the per-bar returns scaled by sqrt(TradingDays).
// It is 0 when fewer than two returns exist or the returns do not vary.
func Sharpe(equity []EquityPoint) float64 {
	rets := Returns(equity)
	if len(rets) < 2 {
		return 0
	}
	sd := market.StdDev(rets)
	if sd <= 0 || math.IsNaN(sd) {
		return 0
	}
	return market.Mean(rets) / sd * math.Sqrt(TradingDays)
}

// metricsJSON is the wire shape of Metrics. ProfitFactor is a string only
// when it is infinite.
type metricsJSON struct {
	TotalReturnPct float64 `json:"total_return_pct"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   any     `json:"profit_factor"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
}

const infString = "+Inf"

func (m Metrics) MarshalJSON() ([]byte, error) {
	var pf any = m.ProfitFactor
	if math.IsInf(m.ProfitFactor, 1) {
		pf = infString
	}
	return sonic.ConfigStd.Marshal(metricsJSON{
		TotalReturnPct: m.TotalReturnPct,
		WinRate:        m.WinRate,
		ProfitFactor:   pf,
		MaxDrawdownPct: m.MaxDrawdownPct,
		SharpeRatio:    m.SharpeRatio,
		TotalTrades:    m.TotalTrades,
		WinningTrades:  m.WinningTrades,
		LosingTrades:   m.LosingTrades,
	})
}

func (m *Metrics) UnmarshalJSON(data []byte) error {
	var raw metricsJSON
	if err := sonic.ConfigStd.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Metrics{
		TotalReturnPct: raw.TotalReturnPct,
		WinRate:        raw.WinRate,
		MaxDrawdownPct: raw.MaxDrawdownPct,
		SharpeRatio:    raw.SharpeRatio,
		TotalTrades:    raw.TotalTrades,
		WinningTrades:  raw.WinningTrades,
		LosingTrades:   raw.LosingTrades,
	}
	switch v := raw.ProfitFactor.(type) {
	case float64:
		m.ProfitFactor = v
	case string:
		if v == infString {
			m.ProfitFactor = math.Inf(1)
		}
	}
	return nil
}
