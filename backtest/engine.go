package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/sigtrader/pkg/id"
	"github.com/rustyeddy/sigtrader/position"
	"github.com/rustyeddy/sigtrader/risk"
	"github.com/rustyeddy/sigtrader/signal"
)

var (
	ErrInvalidParams = errors.New("backtest: invalid params")
	ErrBadBar        = errors.New("backtest: bad bar")
)

// Bar is one replayed decision point. Bars must be sorted by Time with no
// duplicate or zero timestamps; Run does not sort them.
type Bar struct {
	Time       time.Time     `json:"time"`
	Price      float64       `json:"price"`
	Volume     float64       `json:"volume"`
	Action     signal.Action `json:"action"`
	Confidence *float64      `json:"confidence,omitempty"`
	StopLoss   *float64      `json:"stop_loss,omitempty"`
	TakeProfit *float64      `json:"take_profit,omitempty"`
}

// Params are the replay knobs. Percentages are in percent units.
type Params struct {
	StopLossPct             float64     `json:"stop_loss_pct" mapstructure:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct           float64     `json:"take_profit_pct" mapstructure:"take_profit_pct" yaml:"take_profit_pct"`
	FeePct                  float64     `json:"fee_pct" mapstructure:"fee_pct" yaml:"fee_pct"`
	PositionSizePct         float64     `json:"position_size_pct" mapstructure:"position_size_pct" yaml:"position_size_pct"`
	RiskPerTrade            float64     `json:"risk_per_trade" mapstructure:"risk_per_trade" yaml:"risk_per_trade"`
	Method                  risk.Method `json:"sizing_method" mapstructure:"sizing_method" yaml:"sizing_method"`
	MinConfidence           float64     `json:"min_confidence" mapstructure:"min_confidence" yaml:"min_confidence"`
	MinTradeIntervalSeconds int         `json:"min_trade_interval_seconds" mapstructure:"min_trade_interval_seconds" yaml:"min_trade_interval_seconds"`
	CloseAtEnd              bool        `json:"close_at_end" mapstructure:"close_at_end" yaml:"close_at_end"`
	Seed                    int64       `json:"seed" mapstructure:"seed" yaml:"seed"`
}

// DefaultParams mirrors the classic replay: 2% stop, 4% target, 0.1% fee
// per leg, 10% of balance per entry.
func DefaultParams() Params {
	return Params{
		StopLossPct:     2,
		TakeProfitPct:   4,
		FeePct:          0.1,
		PositionSizePct: 10,
		RiskPerTrade:    0.02,
		Method:          risk.Notional,
	}
}

func (p Params) Validate() error {
	if err := p.riskConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if err := p.positionConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

// riskConfig has no per-symbol caps; a replay sizes exactly as asked.
func (p Params) riskConfig() risk.Config {
	return risk.Config{
		RiskPerTrade:    p.RiskPerTrade,
		PositionSizePct: p.PositionSizePct,
		StopLossPct:     p.StopLossPct,
		TakeProfitPct:   p.TakeProfitPct,
		MinConfidence:   p.MinConfidence,
		Method:          p.Method,
	}
}

func (p Params) positionConfig() position.Config {
	return position.Config{MinIntervalSeconds: p.MinTradeIntervalSeconds, FeePct: p.FeePct}
}

type EquityPoint struct {
	Time    time.Time `json:"time"`
	Balance float64   `json:"balance"`
}

type Result struct {
	Symbol         string             `json:"symbol"`
	InitialCapital float64            `json:"initial_capital"`
	FinalBalance   float64            `json:"final_balance"`
	Params         Params             `json:"params"`
	Start          time.Time          `json:"start"`
	End            time.Time          `json:"end"`
	Trades         []position.Trade   `json:"-"`
	Equity         []EquityPoint      `json:"-"`
	Open           *position.Position `json:"-"`
	Metrics        Metrics            `json:"metrics"`
}

type Option func(*runner)

type runner struct {
	log *zap.Logger
}

func WithLogger(l *zap.Logger) Option {
	return func(r *runner) {
		if l != nil {
			r.log = l
		}
	}
}

// Run replays bars for symbol. Per bar it records the balance, executes the
// bar's signal and then checks the stop and target at the bar price. Run
// shares no state between calls; the same inputs give the same Result,
// trade IDs included.
func Run(ctx context.Context, symbol string, bars []Bar, initialCapital float64, params Params, opts ...Option) (Result, error) {
	r := runner{log: zap.NewNop()}
	for _, o := range opts {
		o(&r)
	}

	if symbol == "" {
		return Result{}, fmt.Errorf("%w: symbol is required", ErrInvalidParams)
	}
	if initialCapital <= 0 || math.IsNaN(initialCapital) || math.IsInf(initialCapital, 0) {
		return Result{}, fmt.Errorf("%w: initial capital must be positive, got %v", ErrInvalidParams, initialCapital)
	}
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	// Trade IDs and throttling are derived from bar times.
	for i, b := range bars {
		if b.Time.IsZero() {
			return Result{}, fmt.Errorf("%w: bar %d has no time", ErrBadBar, i)
		}
	}

	sizer := risk.NewSizer(params.riskConfig(), risk.WithLogger(r.log))
	mgr := position.NewManager(params.positionConfig(), sizer, initialCapital,
		position.WithIDs(id.NewGenerator(params.Seed)),
		position.WithLogger(r.log),
	)

	res := Result{
		Symbol:         symbol,
		InitialCapital: initialCapital,
		Params:         params,
		Equity:         make([]EquityPoint, 0, len(bars)),
	}

	var last *Bar
	for i, b := range bars {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if i == 0 {
			res.Start = b.Time
		}
		res.End = b.Time

		res.Equity = append(res.Equity, EquityPoint{Time: b.Time, Balance: mgr.Balance()})

		if !(b.Price > 0) || math.IsInf(b.Price, 0) {
			r.log.Warn("bar skipped", zap.String("symbol", symbol), zap.Time("time", b.Time), zap.Float64("price", b.Price))
			continue
		}
		last = &bars[i]

		sig := signal.Signal{
			Symbol:     symbol,
			Action:     b.Action,
			Confidence: b.Confidence,
			StopLoss:   b.StopLoss,
			TakeProfit: b.TakeProfit,
			Time:       b.Time,
			Price:      b.Price,
		}
		if _, tradable := b.Action.Side(); tradable && params.MinConfidence > 0 && !sizer.ValidateSignal(sig) {
			sig.Action = signal.Hold
		}

		if out := mgr.Execute(sig); out.Closed != nil {
			res.Trades = append(res.Trades, *out.Closed)
		}
		if t := mgr.Check(symbol, b.Price, b.Time); t != nil {
			res.Trades = append(res.Trades, *t)
		}
	}

	if pos, ok := mgr.Position(symbol); ok {
		if params.CloseAtEnd && last != nil {
			// settle at the last usable price, stamped with the final bar
			t, err := mgr.Close(symbol, last.Price, res.End)
			if err != nil {
				return Result{}, err
			}
			res.Trades = append(res.Trades, t)
		} else {
			res.Open = &pos
		}
	}

	res.FinalBalance = mgr.Balance()
	res.Metrics = ComputeMetrics(initialCapital, res.FinalBalance, res.Trades, res.Equity)

	r.log.Info("backtest complete",
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("final_balance", res.FinalBalance),
	)
	return res, nil
}
