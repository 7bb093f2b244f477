package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sigtrader/features"
	"github.com/rustyeddy/sigtrader/journal"
	"github.com/rustyeddy/sigtrader/market"
	"github.com/rustyeddy/sigtrader/position"
	"github.com/rustyeddy/sigtrader/predict"
	"github.com/rustyeddy/sigtrader/risk"
	"github.com/rustyeddy/sigtrader/signal"
)

const recording = `time,symbol,price,volume,direction,confidence
2024-01-01T00:00:00Z,BTC/USDT,100,5,1,0.9
2024-01-01T00:01:00Z,ETH/USDT,50,1,-1,0.8
2024-01-01T00:01:00Z,BTC/USDT,111,5,0,0.5
2024-01-01T00:02:00Z,BTC/USDT,112,5,,
`

type memJournal struct {
	mu     sync.Mutex
	trades []journal.TradeRecord
	equity []journal.EquitySnapshot
}

func (m *memJournal) RecordTrade(t journal.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

func (m *memJournal) RecordEquity(e journal.EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, e)
	return nil
}

func (m *memJournal) Close() error { return nil }

func (m *memJournal) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades), len(m.equity)
}

func newTrader(t *testing.T, symbol string, src market.SnapshotSource, model predict.Predictor, j journal.Journal, th signal.Thresholds) *Trader {
	t.Helper()
	sizer := risk.NewSizer(risk.DefaultConfig())
	mgr := position.NewManager(position.Config{FeePct: 0.1}, sizer, 10000)
	scorer := signal.NewScorer(th, signal.WithLevels(sizer))
	return NewTrader(symbol, src, model, scorer, sizer, mgr, WithJournal(j), WithRunID("paper"))
}

func TestReadCSVSource(t *testing.T) {
	t.Parallel()

	src, err := ReadCSVSource(strings.NewReader(recording), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, src.Symbols())

	ctx := context.Background()
	_, err = src.Predict(ctx, "BTC/USDT", features.Set{})
	assert.ErrorIs(t, err, ErrNoRecordedPrediction)

	s1, err := src.Snapshot(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Empty(t, s1.History)
	p, err := src.Predict(ctx, "BTC/USDT", features.Set{})
	require.NoError(t, err)
	assert.Equal(t, predict.Prediction{Direction: 1, Confidence: 0.9}, p)

	_, err = src.Snapshot(ctx, "BTC/USDT")
	require.NoError(t, err)
	s3, err := src.Snapshot(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 111}, s3.History)
	px, err := src.Price(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, 112.0, px)

	_, err = src.Predict(ctx, "BTC/USDT", features.Set{})
	assert.ErrorIs(t, err, ErrNoRecordedPrediction, "row without prediction columns")

	_, err = src.Snapshot(ctx, "BTC/USDT")
	assert.ErrorIs(t, err, ErrExhausted)

	_, err = src.Snapshot(ctx, "DOGE/USDT")
	assert.ErrorIs(t, err, market.ErrNoData)
}

func TestReadCSVSourceErrors(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"nope,BTC/USDT,1,1\n",
		"2024-01-01T00:00:00Z,BTC/USDT,x,1\n",
		"2024-01-01T00:00:00Z,BTC/USDT,1\n",
		"2024-01-01T00:00:00Z,BTC/USDT,1,1,up,0.5\n",
	} {
		_, err := ReadCSVSource(strings.NewReader(in), 0)
		assert.Error(t, err, in)
	}
}

func TestTraderCycleOpensAndTakesProfit(t *testing.T) {
	t.Parallel()

	src, err := ReadCSVSource(strings.NewReader(recording), 0)
	require.NoError(t, err)
	j := &memJournal{}
	tr := newTrader(t, "BTC/USDT", src, src, j, signal.DefaultThresholds())
	ctx := context.Background()

	c, err := tr.Cycle(ctx)
	require.NoError(t, err)
	assert.NoError(t, c.Fallback)
	assert.Equal(t, signal.Buy, c.Signal.Action)
	assert.True(t, c.Signal.Synthetic)
	require.NotNil(t, c.Outcome.Opened)
	// fixed_stop sizing wants 40 units; BTC/USDT is capped at 10% of balance
	assert.InDelta(t, 10.0, c.Outcome.Opened.Quantity, 1e-9)
	assert.InDelta(t, 95.0, c.Outcome.Opened.StopLoss, 1e-9)
	assert.InDelta(t, 110.0, c.Outcome.Opened.TakeProfit, 1e-9)

	c, err = tr.Cycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, signal.Hold, c.Signal.Action)
	require.NotNil(t, c.Exit)
	assert.Equal(t, position.TakeProfit, c.Exit.ExitReason)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC), c.Exit.ClosedAt)
	assert.InDelta(t, 10107.89, tr.Manager().Balance(), 1e-9)

	trades, equity := j.counts()
	assert.Equal(t, 1, trades)
	assert.Equal(t, 2, equity)
	assert.Equal(t, "paper", j.trades[0].RunID)
	assert.InDelta(t, 9999.0, j.equity[0].Balance, 1e-9)

	// no recorded prediction: predictor failure holds
	c, err = tr.Cycle(ctx)
	require.NoError(t, err)
	var derr *signal.DecisionError
	require.ErrorAs(t, c.Fallback, &derr)
	assert.Equal(t, signal.PredictorFailed, derr.Fallback)
	assert.Equal(t, signal.Hold, c.Signal.Action)

	_, err = tr.Cycle(ctx)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestTraderCycleFiltersLowConfidence(t *testing.T) {
	t.Parallel()

	store := market.NewStore()
	store.Set(market.Snapshot{Symbol: "ETH/USDT", Time: time.Now(), Price: 50})
	model := predict.PredictorFunc(func(context.Context, string, features.Set) (predict.Prediction, error) {
		return predict.Prediction{Direction: 1, Confidence: 0.4}, nil
	})

	tr := newTrader(t, "ETH/USDT", store, model, &memJournal{}, signal.Thresholds{Buy: 0.3, Sell: 0.3})
	c, err := tr.Cycle(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Filtered)
	assert.Equal(t, signal.Hold, c.Signal.Action)
	assert.Nil(t, c.Outcome.Opened)
}

func TestTraderCycleSnapshotFailureHolds(t *testing.T) {
	t.Parallel()

	tr := newTrader(t, "BTC/USDT", market.NewStore(), predict.PredictorFunc(func(context.Context, string, features.Set) (predict.Prediction, error) {
		t.Fatal("predictor must not be called")
		return predict.Prediction{}, nil
	}), &memJournal{}, signal.DefaultThresholds())

	c, err := tr.Cycle(context.Background())
	require.NoError(t, err)
	var derr *signal.DecisionError
	require.ErrorAs(t, c.Fallback, &derr)
	assert.Equal(t, signal.BadSnapshot, derr.Fallback)
	assert.ErrorIs(t, c.Fallback, market.ErrNoData)
}

func TestTraderCycleModelPanicHolds(t *testing.T) {
	t.Parallel()

	store := market.NewStore()
	store.Set(market.Snapshot{Symbol: "BTC/USDT", Time: time.Now(), Price: 100})
	tr := newTrader(t, "BTC/USDT", store, predict.PredictorFunc(func(context.Context, string, features.Set) (predict.Prediction, error) {
		panic("model blew up")
	}), &memJournal{}, signal.DefaultThresholds())

	c, err := tr.Cycle(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Fallback, predict.ErrPanic)
	assert.Equal(t, signal.Hold, c.Signal.Action)
}

func TestSessionRunsUntilExhausted(t *testing.T) {
	t.Parallel()

	src, err := ReadCSVSource(strings.NewReader(recording), 0)
	require.NoError(t, err)
	j := &memJournal{}

	var traders []*Trader
	for _, sym := range src.Symbols() {
		traders = append(traders, newTrader(t, sym, src, src, j, signal.DefaultThresholds()))
	}

	var mu sync.Mutex
	cycles := map[string]int{}
	s := New(traders, WithInterval(time.Millisecond), WithCycleHook(func(sym string, _ Cycle) {
		mu.Lock()
		cycles[sym]++
		mu.Unlock()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.Equal(t, map[string]int{"BTC/USDT": 3, "ETH/USDT": 1}, cycles)
	assert.Equal(t, Inactive, s.State())

	_, equity := j.counts()
	assert.Equal(t, 4, equity)
}

type endless struct{}

func (endless) Snapshot(context.Context, string) (market.Snapshot, error) {
	return market.Snapshot{Symbol: "BTC/USDT", Time: time.Now(), Price: 100}, nil
}

func TestSessionPauseResumeStop(t *testing.T) {
	t.Parallel()

	hold := predict.PredictorFunc(func(context.Context, string, features.Set) (predict.Prediction, error) {
		return predict.Prediction{}, nil
	})
	tr := newTrader(t, "BTC/USDT", endless{}, hold, &memJournal{}, signal.DefaultThresholds())

	var mu sync.Mutex
	n := 0
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return n
	}
	s := New([]*Trader{tr}, WithInterval(time.Millisecond), WithCycleHook(func(string, Cycle) {
		mu.Lock()
		n++
		mu.Unlock()
	}))

	assert.ErrorIs(t, s.Pause(), ErrNotRunning)
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, func() bool { return count() > 2 }, 2*time.Second, time.Millisecond)
	require.NoError(t, s.Pause())
	assert.Equal(t, Paused, s.State())
	assert.Error(t, s.Pause())

	// let an in-flight cycle finish, then the count must stay put
	time.Sleep(20 * time.Millisecond)
	frozen := count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, frozen, count())

	require.NoError(t, s.Resume())
	require.Eventually(t, func() bool { return count() > frozen }, 2*time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.Equal(t, Inactive, s.State())
}

func TestSessionRestarts(t *testing.T) {
	t.Parallel()

	s := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, Inactive, s.State())
	assert.NoError(t, s.Run(ctx), "a stopped session can run again")
}
