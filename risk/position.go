package risk

import (
	"math"

	"go.uber.org/zap"
)

// SizePosition returns the quantity that loses riskFraction of balance when
// price moves from entry to stop. A zero stop distance sizes to zero.
func SizePosition(balance, riskFraction, entry, stop float64) float64 {
	dist := abs(entry - stop)
	if dist == 0 || balance <= 0 || riskFraction <= 0 {
		return 0
	}
	return balance * riskFraction / dist
}

// SizeByVolatility divides the risk budget by a per-unit volatility estimate
// expressed in price units.
func SizeByVolatility(balance, riskFraction, volatility float64) float64 {
	if volatility <= 0 || math.IsNaN(volatility) || balance <= 0 || riskFraction <= 0 {
		return 0
	}
	return balance * riskFraction / volatility
}

// SizeByNotional spends pct percent of balance at price.
func SizeByNotional(balance, pct, price float64) float64 {
	if price <= 0 || balance <= 0 || pct <= 0 {
		return 0
	}
	return balance * pct / 100 / price
}

// Request carries the inputs any sizing method may need.
type Request struct {
	Symbol     string
	Balance    float64
	Entry      float64
	Stop       float64
	Volatility float64
}

// Scored is anything carrying an optional confidence.
type Scored interface {
	ConfidenceValue() (float64, bool)
}

type Option func(*Sizer)

func WithLogger(l *zap.Logger) Option {
	return func(s *Sizer) {
		if l != nil {
			s.log = l
		}
	}
}

// Sizer applies one Config. It holds no mutable state and is safe for
// concurrent use.
type Sizer struct {
	cfg Config
	log *zap.Logger
}

func NewSizer(cfg Config, opts ...Option) *Sizer {
	s := &Sizer{cfg: cfg, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sizer) Config() Config { return s.cfg }

// Quantity sizes req with the configured method and clamps the result to the
// symbol's position limit. Degenerate inputs size to zero.
func (s *Sizer) Quantity(req Request) float64 {
	var q float64
	switch s.cfg.Method {
	case Volatility:
		q = SizeByVolatility(req.Balance, s.cfg.RiskPerTrade, req.Volatility)
	case Notional:
		q = SizeByNotional(req.Balance, s.cfg.PositionSizePct, req.Entry)
	default:
		q = SizePosition(req.Balance, s.cfg.RiskPerTrade, req.Entry, req.Stop)
	}

	if q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		s.log.Warn("sizing degenerate",
			zap.String("symbol", req.Symbol),
			zap.String("method", string(s.cfg.Method)),
			zap.Float64("entry", req.Entry),
			zap.Float64("stop", req.Stop),
			zap.Float64("volatility", req.Volatility),
		)
		return 0
	}

	if limit := s.PositionLimit(req.Symbol, req.Balance, req.Entry); limit > 0 && q > limit {
		s.log.Info("quantity capped",
			zap.String("symbol", req.Symbol),
			zap.Float64("quantity", q),
			zap.Float64("limit", limit),
		)
		q = limit
	}
	return q
}

// LimitPct returns the notional cap for symbol as a fraction of balance.
func (s *Sizer) LimitPct(symbol string) float64 {
	if pct, ok := s.cfg.LimitPct[symbol]; ok {
		return pct
	}
	return s.cfg.DefaultLimitPct
}

// PositionLimit converts the symbol's notional cap into a quantity at price.
// Zero means unlimited.
func (s *Sizer) PositionLimit(symbol string, balance, price float64) float64 {
	pct := s.LimitPct(symbol)
	if pct <= 0 || price <= 0 || balance <= 0 {
		return 0
	}
	return balance * pct / price
}

// StopLossFor places the stop StopLossPct away from entry, below for longs
// and above for shorts. It returns 0 when no stop is configured.
func (s *Sizer) StopLossFor(entry float64, side Side) float64 {
	if s.cfg.StopLossPct <= 0 {
		return 0
	}
	return entry * (1 - float64(side)*s.cfg.StopLossPct/100)
}

func (s *Sizer) TakeProfitFor(entry float64, side Side) float64 {
	if s.cfg.TakeProfitPct <= 0 {
		return 0
	}
	return entry * (1 + float64(side)*s.cfg.TakeProfitPct/100)
}

// ValidateSignal rejects signals with no confidence or one below
// MinConfidence. It is applied after the scorer and does not share its
// thresholds.
func (s *Sizer) ValidateSignal(sig Scored) bool {
	if sig == nil {
		return false
	}
	c, ok := sig.ConfidenceValue()
	if !ok || math.IsNaN(c) {
		return false
	}
	return c >= s.cfg.MinConfidence
}
