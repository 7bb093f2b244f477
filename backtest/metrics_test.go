package backtest

import (
	"math"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sigtrader/position"
)

func eq(balances ...float64) []EquityPoint {
	out := make([]EquityPoint, len(balances))
	for i, b := range balances {
		out[i] = EquityPoint{Time: t0.Add(time.Duration(i) * time.Hour), Balance: b}
	}
	return out
}

func trades(pcts ...float64) []position.Trade {
	out := make([]position.Trade, len(pcts))
	for i, p := range pcts {
		out[i] = position.Trade{PnLPct: p}
	}
	return out
}

func TestComputeMetrics_NoTrades(t *testing.T) {
	t.Parallel()

	m := ComputeMetrics(10000, 10000, nil, eq(10000, 10000, 10000))
	assert.Zero(t, m.WinRate)
	assert.Zero(t, m.ProfitFactor)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.MaxDrawdownPct)
	assert.Zero(t, m.TotalTrades)
	assert.False(t, math.IsNaN(m.TotalReturnPct))
}

func TestComputeMetrics_ProfitFactor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		pcts   []float64
		want   float64
		wins   int
		losses int
	}{
		{"mixed", []float64{4, 2, -3}, 2, 2, 1},
		{"only wins", []float64{1, 2}, math.Inf(1), 2, 0},
		{"breakeven counts as losing", []float64{0}, 0, 0, 1},
		{"only losses", []float64{-1, -2}, 0, 0, 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := ComputeMetrics(100, 100, trades(tt.pcts...), nil)
			if math.IsInf(tt.want, 1) {
				assert.True(t, math.IsInf(m.ProfitFactor, 1))
			} else {
				assert.InDelta(t, tt.want, m.ProfitFactor, 1e-12)
			}
			assert.Equal(t, tt.wins, m.WinningTrades)
			assert.Equal(t, tt.losses, m.LosingTrades)
			assert.InDelta(t, float64(tt.wins)/float64(len(tt.pcts)), m.WinRate, 1e-12)
		})
	}
}

func TestMaxDrawdownPct(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 20.0, MaxDrawdownPct(eq(100, 120, 96, 110, 130)), 1e-9)
	assert.Zero(t, MaxDrawdownPct(eq(100, 101, 102)))
	assert.Zero(t, MaxDrawdownPct(nil))
	assert.InDelta(t, 100.0, MaxDrawdownPct(eq(0, 50, 0)), 1e-9)
}

func TestSharpe(t *testing.T) {
	t.Parallel()

	// returns +10%, -10%: mean 0
	assert.InDelta(t, 0.0, Sharpe(eq(100, 110, 99)), 1e-9)

	// returns 0.1 and 0.2: mean 0.15, sample sd 0.0707107
	s := Sharpe(eq(100, 110, 132))
	assert.InDelta(t, 0.15/math.Sqrt(0.005)*math.Sqrt(252), s, 1e-9)

	assert.Zero(t, Sharpe(eq(100, 101)), "one return")
	assert.Zero(t, Sharpe(eq(100, 100, 100)), "no variance")
}

func TestReturnsSkipZeroBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []float64{-1}, Returns(eq(100, 0, 50)))
}

func TestMetricsJSON(t *testing.T) {
	t.Parallel()

	m := Metrics{ProfitFactor: math.Inf(1), TotalTrades: 1, WinningTrades: 1, WinRate: 1}
	data, err := sonic.ConfigStd.Marshal(m)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"profit_factor":"+Inf"`)

	var back Metrics
	require.NoError(t, sonic.ConfigStd.Unmarshal(data, &back))
	assert.True(t, math.IsInf(back.ProfitFactor, 1))
	assert.Equal(t, 1, back.TotalTrades)

	data, err = sonic.ConfigStd.Marshal(Metrics{ProfitFactor: 1.5})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"profit_factor":1.5`)
}
