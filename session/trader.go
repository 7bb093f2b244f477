package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rustyeddy/sigtrader/features"
	"github.com/rustyeddy/sigtrader/journal"
	"github.com/rustyeddy/sigtrader/market"
	"github.com/rustyeddy/sigtrader/position"
	"github.com/rustyeddy/sigtrader/predict"
	"github.com/rustyeddy/sigtrader/risk"
	"github.com/rustyeddy/sigtrader/signal"
)

// ErrExhausted is returned by a source with no more data. It ends the
// trader's loop.
var ErrExhausted = errors.New("session: source exhausted")

// Cycle is what one pass of the decision pipeline did.
type Cycle struct {
	Signal   signal.Signal
	Outcome  position.Outcome
	Exit     *position.Trade
	Filtered bool  // signal failed the sizer's confidence check
	Fallback error // *signal.DecisionError when the signal is a fallback HOLD
}

type TraderOption func(*Trader)

func WithJournal(j journal.Journal) TraderOption {
	return func(t *Trader) {
		if j != nil {
			t.journal = j
		}
	}
}

func WithRunID(id string) TraderOption {
	return func(t *Trader) { t.runID = id }
}

func WithMinHistory(n int) TraderOption {
	return func(t *Trader) { t.minHistory = n }
}

// WithPrices shares a price store between traders. Each trader publishes its
// snapshots there and monitors its manager's open positions against it.
func WithPrices(st *market.Store) TraderOption {
	return func(t *Trader) {
		if st != nil {
			t.prices = st
		}
	}
}

func WithTraderLogger(l *zap.Logger) TraderOption {
	return func(t *Trader) {
		if l != nil {
			t.log = l
		}
	}
}

// Trader runs the decision pipeline for one symbol and owns that symbol's
// Manager.
type Trader struct {
	symbol     string
	source     market.SnapshotSource
	model      predict.Predictor
	scorer     *signal.Scorer
	sizer      *risk.Sizer
	mgr        *position.Manager
	journal    journal.Journal
	prices     *market.Store
	runID      string
	minHistory int
	log        *zap.Logger
}

// NewTrader wires a trader. model is wrapped in a predict.Guard unless it
// already is one. Closed trades are written to the journal through a
// manager listener.
func NewTrader(symbol string, source market.SnapshotSource, model predict.Predictor, scorer *signal.Scorer, sizer *risk.Sizer, mgr *position.Manager, opts ...TraderOption) *Trader {
	t := &Trader{
		symbol:  symbol,
		source:  source,
		model:   model,
		scorer:  scorer,
		sizer:   sizer,
		mgr:     mgr,
		journal: journal.Discard{},
		prices:  market.NewStore(),
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(t)
	}
	t.log = t.log.With(zap.String("symbol", symbol))
	if _, ok := model.(*predict.Guard); !ok {
		t.model = predict.NewGuard(model, predict.WithLogger(t.log))
	}

	mgr.AddListener(position.ListenerFuncs{Closed: func(tr position.Trade) {
		if tr.Symbol != t.symbol {
			return
		}
		if err := t.journal.RecordTrade(journal.FromTrade(tr, t.runID)); err != nil {
			t.log.Error("journal trade failed", zap.String("trade_id", tr.ID), zap.Error(err))
		}
	}})
	return t
}

func (t *Trader) Symbol() string             { return t.symbol }
func (t *Trader) Manager() *position.Manager { return t.mgr }

// Cycle fetches a snapshot, predicts, scores, filters, executes and then
// monitors stops and targets at the latest published prices. Collaborator failures
// become a HOLD; only ErrExhausted and context errors from the source are
// returned.
func (t *Trader) Cycle(ctx context.Context) (Cycle, error) {
	snap, err := t.source.Snapshot(ctx, t.symbol)
	if err != nil {
		if errors.Is(err, ErrExhausted) || ctx.Err() != nil {
			return Cycle{}, err
		}
		sig, derr := t.scorer.Hold(t.symbol, nil, signal.BadSnapshot, err)
		t.log.Warn("snapshot unavailable", zap.Error(err))
		return Cycle{Signal: sig, Fallback: derr}, nil
	}

	var c Cycle
	c.Signal, c.Fallback = t.decide(ctx, &snap)
	if c.Fallback != nil {
		t.log.Info("holding", zap.Error(c.Fallback))
	}

	if _, tradable := c.Signal.Action.Side(); tradable && !t.sizer.ValidateSignal(c.Signal) {
		t.log.Info("signal below min confidence", zap.String("action", string(c.Signal.Action)))
		c.Signal.Action = signal.Hold
		c.Filtered = true
	}

	c.Outcome = t.mgr.Execute(c.Signal)
	if snap.Validate() == nil {
		t.prices.Set(snap)
		for _, tr := range t.mgr.Monitor(ctx, t.prices) {
			tr := tr
			if tr.Symbol == t.symbol {
				c.Exit = &tr
			}
		}
		t.recordEquity(snap)
	}
	return c, nil
}

func (t *Trader) decide(ctx context.Context, snap *market.Snapshot) (signal.Signal, error) {
	set, err := features.Extract(snap, t.minHistory)
	if err != nil {
		return t.scorer.Hold(t.symbol, snap, signal.BadSnapshot, err)
	}
	pred, err := t.model.Predict(ctx, t.symbol, set)
	if err != nil {
		return t.scorer.Hold(t.symbol, snap, signal.PredictorFailed, err)
	}
	return t.scorer.Decide(t.symbol, snap, &pred)
}

func (t *Trader) recordEquity(snap market.Snapshot) {
	balance := t.mgr.Balance()
	equity := balance
	if p, ok := t.mgr.Position(t.symbol); ok {
		equity += p.UnrealizedPnL(snap.Price)
	}
	err := t.journal.RecordEquity(journal.EquitySnapshot{
		RunID:   t.runID,
		Symbol:  t.symbol,
		Time:    snap.Time,
		Balance: balance,
		Equity:  equity,
	})
	if err != nil {
		t.log.Error("journal equity failed", zap.Error(err))
	}
}
