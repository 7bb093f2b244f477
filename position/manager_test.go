package position

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sigtrader/market"
	"github.com/rustyeddy/sigtrader/pkg/id"
	"github.com/rustyeddy/sigtrader/risk"
	"github.com/rustyeddy/sigtrader/signal"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func notionalSizer(pct float64) *risk.Sizer {
	cfg := risk.DefaultConfig()
	cfg.Method = risk.Notional
	cfg.PositionSizePct = pct
	cfg.LimitPct = nil
	cfg.DefaultLimitPct = 0
	return risk.NewSizer(cfg)
}

func newManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithIDs(id.NewGenerator(1))}, opts...)
	return NewManager(DefaultConfig(), notionalSizer(20), 10000, opts...)
}

func sig(action signal.Action, price float64, at time.Time) signal.Signal {
	return signal.Signal{
		Symbol:     "BTC/USDT",
		Action:     action,
		Confidence: signal.Float(0.9),
		Price:      price,
		Time:       at,
	}
}

func withLevels(s signal.Signal, stop, take float64) signal.Signal {
	s.StopLoss = signal.Float(stop)
	s.TakeProfit = signal.Float(take)
	return s
}

func TestExecute_HoldIsNoop(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	out := m.Execute(sig(signal.Hold, 100, t0))
	assert.Equal(t, Outcome{}, out)
	assert.Empty(t, m.OpenPositions())
	assert.Equal(t, 10000.0, m.Balance())
}

func TestExecute_OpenLong(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	out := m.Execute(sig(signal.Buy, 100, t0))
	require.NotNil(t, out.Opened)
	assert.Empty(t, out.Dropped)

	p, ok := m.Position("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, risk.Long, p.Side)
	assert.InDelta(t, 20.0, p.Quantity, 1e-9)
	// sizer defaults: 5% stop, 10% target
	assert.InDelta(t, 95.0, p.StopLoss, 1e-9)
	assert.InDelta(t, 110.0, p.TakeProfit, 1e-9)
	assert.Equal(t, t0, p.OpenedAt)

	// entry leg commission: 2000 * 0.1%
	assert.InDelta(t, 9998.0, m.Balance(), 1e-9)
}

func TestExecute_SignalLevelsOverrideSizer(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.Execute(withLevels(sig(signal.Sell, 100, t0), 102, 90))

	p, ok := m.Position("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, risk.Short, p.Side)
	assert.Equal(t, 102.0, p.StopLoss)
	assert.Equal(t, 90.0, p.TakeProfit)
}

func TestCheck_StopLossLong(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.Execute(withLevels(sig(signal.Buy, 100, t0), 95, 110))

	var got *Trade
	for i, px := range []float64{98, 96, 94} {
		got = m.Check("BTC/USDT", px, t0.Add(time.Duration(i+1)*time.Minute))
		if i < 2 {
			require.Nil(t, got, "closed early at %v", px)
		}
	}

	require.NotNil(t, got)
	assert.Equal(t, StopLoss, got.ExitReason)
	assert.Equal(t, 94.0, got.ExitPrice)
	assert.InDelta(t, -6.0, got.PnLPct, 1e-9)
	_, open := m.Position("BTC/USDT")
	assert.False(t, open)
}

func TestCheck_Triggers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		action signal.Action
		stop   float64
		take   float64
		price  float64
		want   ExitReason
	}{
		{"long take", signal.Buy, 95, 110, 110, TakeProfit},
		{"long stop on touch", signal.Buy, 95, 110, 95, StopLoss},
		{"long inside", signal.Buy, 95, 110, 105, ""},
		{"short stop", signal.Sell, 105, 90, 106, StopLoss},
		{"short take", signal.Sell, 105, 90, 89, TakeProfit},
		{"short inside", signal.Sell, 105, 90, 95, ""},
		// a stop placed above a long entry is checked before the target
		{"stop first", signal.Buy, 120, 110, 115, StopLoss},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newManager(t)
			p := &Position{Symbol: "BTC/USDT", Side: risk.Long, EntryPrice: 100, Quantity: 1, StopLoss: tt.stop, TakeProfit: tt.take}
			if tt.action == signal.Sell {
				p.Side = risk.Short
			}
			m.states["BTC/USDT"] = &state{pos: p}

			got := m.Check("BTC/USDT", tt.price, t0)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ExitReason)
		})
	}
}

func TestExecute_SameSideDropped(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.Execute(sig(signal.Buy, 100, t0))
	out := m.Execute(sig(signal.Buy, 101, t0.Add(2*time.Minute)))

	assert.Equal(t, DropSameSide, out.Dropped)
	assert.Len(t, m.OpenPositions(), 1)
}

func TestExecute_ReversalClosesWithoutFlip(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.Execute(sig(signal.Buy, 100, t0))
	out := m.Execute(sig(signal.Sell, 104, t0.Add(2*time.Minute)))

	require.NotNil(t, out.Closed)
	assert.Nil(t, out.Opened)
	assert.Equal(t, SignalReversal, out.Closed.ExitReason)
	assert.InDelta(t, 4.0, out.Closed.PnLPct, 1e-9)
	assert.Empty(t, m.OpenPositions())
}

func TestExecute_ReentryThrottle(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	m.Execute(withLevels(sig(signal.Buy, 100, t0), 95, 110))
	require.NotNil(t, m.Check("BTC/USDT", 94, t0.Add(10*time.Second)))

	out := m.Execute(sig(signal.Buy, 95, t0.Add(30*time.Second)))
	assert.Equal(t, DropThrottled, out.Dropped)
	assert.Empty(t, m.OpenPositions())

	// 60s after the close, not after the open
	out = m.Execute(sig(signal.Buy, 95, t0.Add(69*time.Second)))
	assert.Equal(t, DropThrottled, out.Dropped)

	out = m.Execute(sig(signal.Buy, 95, t0.Add(70*time.Second)))
	require.NotNil(t, out.Opened)
}

func TestExecute_ZeroIntervalNeverThrottles(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{FeePct: 0.1}, notionalSizer(20), 10000)
	m.Execute(sig(signal.Buy, 100, t0))
	m.Execute(sig(signal.Sell, 101, t0))
	out := m.Execute(sig(signal.Sell, 101, t0))
	assert.NotNil(t, out.Opened)
}

func TestExecute_ZeroQuantityDropped(t *testing.T) {
	t.Parallel()

	cfg := risk.DefaultConfig()
	m := NewManager(DefaultConfig(), risk.NewSizer(cfg), 10000)

	// fixed_stop with the stop on the entry price sizes to zero
	out := m.Execute(withLevels(sig(signal.Buy, 100, t0), 100, 110))
	assert.Equal(t, DropZeroQuantity, out.Dropped)
	assert.Empty(t, m.OpenPositions())
	assert.Equal(t, 10000.0, m.Balance())
}

func TestExecute_RejectedByCheck(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	// a long stop above entry fails admission
	out := m.Execute(withLevels(sig(signal.Buy, 100, t0), 101, 110))
	assert.Equal(t, DropRejected, out.Dropped)
	assert.Empty(t, m.OpenPositions())
}

func TestClose_Manual(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	_, err := m.Close("BTC/USDT", 100, t0)
	assert.ErrorIs(t, err, ErrNoPosition)

	m.Execute(sig(signal.Sell, 100, t0))
	tr, err := m.Close("BTC/USDT", 98, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, Manual, tr.ExitReason)
	assert.InDelta(t, 2.0, tr.PnLPct, 1e-9)
	assert.InDelta(t, 40.0, tr.PnL, 1e-9) // 20 units * 2
	assert.NotEmpty(t, tr.ID)
}

type flakyPrices struct {
	prices map[string]float64
}

func (f flakyPrices) Price(_ context.Context, symbol string) (float64, error) {
	p, ok := f.prices[symbol]
	if !ok {
		return 0, errors.New("feed down")
	}
	return p, nil
}

func TestMonitor_SkipsFailedFetch(t *testing.T) {
	t.Parallel()

	m := newManager(t, WithClock(func() time.Time { return t0.Add(time.Hour) }))
	m.Execute(withLevels(sig(signal.Buy, 100, t0), 95, 110))
	eth := sig(signal.Buy, 10, t0)
	eth.Symbol = "ETH/USDT"
	m.Execute(withLevels(eth, 9, 11))

	closed := m.Monitor(context.Background(), flakyPrices{prices: map[string]float64{"ETH/USDT": 12}})
	require.Len(t, closed, 1)
	assert.Equal(t, "ETH/USDT", closed[0].Symbol)
	assert.Equal(t, TakeProfit, closed[0].ExitReason)
	assert.Equal(t, t0.Add(time.Hour), closed[0].ClosedAt)

	_, open := m.Position("BTC/USDT")
	assert.True(t, open, "position with no price must stay open")
}

func TestMonitor_UsesQuoteTime(t *testing.T) {
	t.Parallel()

	m := newManager(t, WithClock(func() time.Time { return t0.Add(24 * time.Hour) }))
	m.Execute(withLevels(sig(signal.Buy, 100, t0), 95, 110))

	store := market.NewStore()
	assert.Empty(t, m.Monitor(context.Background(), store), "no quote yet")

	store.Set(market.Snapshot{Symbol: "BTC/USDT", Price: 94, Time: t0.Add(time.Minute)})
	closed := m.Monitor(context.Background(), store)
	require.Len(t, closed, 1)
	assert.Equal(t, StopLoss, closed[0].ExitReason)
	assert.Equal(t, t0.Add(time.Minute), closed[0].ClosedAt)
	assert.Empty(t, m.OpenPositions())
}

func TestListener_CalledAfterUnlock(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		opened   int
		closed   []Trade
		balances []float64
	)
	var m *Manager
	m = newManager(t, WithListener(ListenerFuncs{
		Opened: func(Position) {
			mu.Lock()
			opened++
			mu.Unlock()
		},
		Closed: func(tr Trade) {
			// re-entering the manager would deadlock if still locked
			b := m.Balance()
			mu.Lock()
			closed = append(closed, tr)
			balances = append(balances, b)
			mu.Unlock()
		},
	}))

	m.Execute(sig(signal.Buy, 100, t0))
	m.Check("BTC/USDT", 111, t0.Add(time.Minute))

	assert.Equal(t, 1, opened)
	require.Len(t, closed, 1)
	assert.Equal(t, TakeProfit, closed[0].ExitReason)
	assert.Equal(t, m.Balance(), balances[0])
}

func TestBalanceNeverNegative(t *testing.T) {
	t.Parallel()

	cfg := risk.DefaultConfig()
	cfg.Method = risk.Notional
	cfg.PositionSizePct = 100
	cfg.LimitPct = nil
	cfg.DefaultLimitPct = 0
	m := NewManager(Config{FeePct: 0.1}, risk.NewSizer(cfg), 1000)

	m.Execute(signal.Signal{Symbol: "X", Action: signal.Sell, Price: 10, Time: t0, StopLoss: signal.Float(1000)})
	tr := m.Check("X", 50, t0.Add(time.Minute)) // short loses 400%
	require.Nil(t, tr)
	tr2, err := m.Close("X", 50, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, m.Balance(), 0.0)
	assert.InDelta(t, 0.0, m.Balance(), 1e-9)
	assert.InDelta(t, -1000.0, tr2.Net(), 1e-9)
	assert.InDelta(t, -999.0, tr2.PnL, 1e-9, "loss floors at the remaining balance")
}

func TestBalanceClampKeepsLossNegative(t *testing.T) {
	t.Parallel()

	cfg := risk.DefaultConfig()
	cfg.RiskPerTrade = 0.012
	cfg.LimitPct = nil
	cfg.DefaultLimitPct = 0
	m := NewManager(Config{FeePct: 50}, risk.NewSizer(cfg), 1000)

	out := m.Execute(withLevels(signal.Signal{Symbol: "X", Action: signal.Buy, Price: 10, Time: t0}, 9.9, 1000))
	require.NotNil(t, out.Opened)
	require.InDelta(t, 120.0, out.Opened.Quantity, 1e-6)
	require.InDelta(t, 400.0, m.Balance(), 1e-6)

	// the exit fee alone is larger than what is left
	tr, err := m.Close("X", 9.95, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.InDelta(t, -6.0, tr.PnL, 1e-6)
	assert.InDelta(t, 994.0, tr.Commission, 1e-6)
	assert.InDelta(t, 0.0, m.Balance(), 1e-9)
	assert.InDelta(t, -1000.0, tr.Net(), 1e-6)
}

func TestNonFinitePricesIgnored(t *testing.T) {
	t.Parallel()

	nan := math.NaN()
	m := newManager(t)

	out := m.Execute(sig(signal.Buy, nan, t0))
	assert.Equal(t, DropBadPrice, out.Dropped)
	assert.Equal(t, DropBadPrice, m.Execute(sig(signal.Buy, math.Inf(1), t0)).Dropped)

	require.NotNil(t, m.Execute(sig(signal.Buy, 100, t0)).Opened)
	before := m.Balance()

	assert.Equal(t, DropBadPrice, m.Execute(sig(signal.Sell, nan, t0.Add(time.Hour))).Dropped)
	assert.Nil(t, m.Check("BTC/USDT", nan, t0.Add(time.Hour)))
	assert.Nil(t, m.Check("BTC/USDT", math.Inf(-1), t0.Add(time.Hour)))
	_, err := m.Close("BTC/USDT", nan, t0.Add(time.Hour))
	assert.Error(t, err)

	_, ok := m.Position("BTC/USDT")
	assert.True(t, ok, "position stays open")
	assert.Equal(t, before, m.Balance())
}

// Random decision sequences never leave two positions on a symbol, every
// close yields exactly one trade, and the balance reconciles with the ledger.
func TestInvariants_RandomSequences(t *testing.T) {
	t.Parallel()

	actions := []signal.Action{signal.Buy, signal.Sell, signal.Hold}
	symbols := []string{"BTC/USDT", "ETH/USDT"}

	for seed := int64(1); seed <= 25; seed++ {
		rng := rand.New(rand.NewSource(seed))
		var trades []Trade
		m := NewManager(Config{MinIntervalSeconds: 30, FeePct: 0.1}, notionalSizer(10), 10000,
			WithIDs(id.NewGenerator(seed)),
			WithListener(ListenerFuncs{Closed: func(tr Trade) { trades = append(trades, tr) }}),
		)

		now := t0
		opens := 0
		for i := 0; i < 300; i++ {
			now = now.Add(time.Duration(rng.Intn(40)) * time.Second)
			s := sig(actions[rng.Intn(len(actions))], 50+rng.Float64()*100, now)
			s.Symbol = symbols[rng.Intn(len(symbols))]

			if out := m.Execute(s); out.Opened != nil {
				opens++
			}
			m.Check(s.Symbol, 50+rng.Float64()*100, now)

			counts := map[string]int{}
			for _, p := range m.OpenPositions() {
				counts[p.Symbol]++
			}
			for sym, n := range counts {
				require.LessOrEqual(t, n, 1, "seed %d symbol %s", seed, sym)
			}
			require.GreaterOrEqual(t, m.Balance(), 0.0)
		}

		open := m.OpenPositions()
		assert.Equal(t, opens, len(trades)+len(open), "seed %d", seed)

		want := 10000.0
		for _, tr := range trades {
			want += tr.PnL - tr.Commission
		}
		for _, p := range open {
			want -= p.EntryCommission
		}
		assert.InDelta(t, want, m.Balance(), 1e-6, "seed %d", seed)
	}
}
