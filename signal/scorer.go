package signal

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/rustyeddy/sigtrader/features"
	"github.com/rustyeddy/sigtrader/market"
	"github.com/rustyeddy/sigtrader/predict"
	"github.com/rustyeddy/sigtrader/risk"
)

// FallbackConfidence is attached to every HOLD produced by a fallback branch.
const FallbackConfidence = 0.5

var (
	ErrNoPrediction     = errors.New("signal: no prediction")
	ErrInvalidThreshold = errors.New("signal: invalid threshold")
)

// Fallback names the branch that produced a safe HOLD.
type Fallback string

const (
	BadSnapshot       Fallback = "bad_snapshot"
	MissingPrediction Fallback = "missing_prediction"
	BadPrediction     Fallback = "bad_prediction"
	PredictorFailed   Fallback = "predictor_failed"
)

// DecisionError reports that the returned signal is a fallback HOLD and why.
type DecisionError struct {
	Symbol   string
	Fallback Fallback
	Err      error
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("signal %s: %s: %v", e.Symbol, e.Fallback, e.Err)
}

func (e *DecisionError) Unwrap() error { return e.Err }

type Thresholds struct {
	Buy  float64 `mapstructure:"buy_threshold" yaml:"buy_threshold" json:"buy_threshold"`
	Sell float64 `mapstructure:"sell_threshold" yaml:"sell_threshold" json:"sell_threshold"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Buy: 0.6, Sell: 0.6}
}

func (t Thresholds) Validate() error {
	for name, v := range map[string]float64{"buy_threshold": t.Buy, "sell_threshold": t.Sell} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be in [0,1], got %v", ErrInvalidThreshold, name, v)
		}
	}
	return nil
}

// Levels proposes exit prices for a fresh entry. *risk.Sizer satisfies it.
type Levels interface {
	StopLossFor(entry float64, side risk.Side) float64
	TakeProfitFor(entry float64, side risk.Side) float64
}

type Option func(*Scorer)

func WithLevels(l Levels) Option {
	return func(s *Scorer) { s.levels = l }
}

func WithMinHistory(n int) Option {
	return func(s *Scorer) { s.minHistory = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scorer) {
		if l != nil {
			s.log = l
		}
	}
}

// Scorer maps a prediction and a snapshot to a Signal. It keeps no state
// between calls.
type Scorer struct {
	th         Thresholds
	levels     Levels
	minHistory int
	log        *zap.Logger
}

func NewScorer(th Thresholds, opts ...Option) *Scorer {
	s := &Scorer{th: th, minHistory: features.DefaultMinHistory, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scorer) Thresholds() Thresholds { return s.th }

// Hold builds the fallback signal for symbol.
func (s *Scorer) Hold(symbol string, snap *market.Snapshot, fb Fallback, cause error) (Signal, error) {
	sig := Signal{Symbol: symbol, Action: Hold, Confidence: Float(FallbackConfidence)}
	if snap != nil {
		sig.Time = snap.Time
		sig.Price = snap.Price
	}
	return sig, &DecisionError{Symbol: symbol, Fallback: fb, Err: cause}
}

// Decide scores one cycle. When it returns a non-nil error the Signal is a
// HOLD with FallbackConfidence and the error is a *DecisionError. A HOLD
// below threshold is a normal decision, not an error.
func (s *Scorer) Decide(symbol string, snap *market.Snapshot, pred *predict.Prediction) (Signal, error) {
	if err := snap.Validate(); err != nil {
		return s.Hold(symbol, snap, BadSnapshot, err)
	}
	if pred == nil {
		return s.Hold(symbol, snap, MissingPrediction, ErrNoPrediction)
	}
	if err := pred.Validate(); err != nil {
		return s.Hold(symbol, snap, BadPrediction, err)
	}

	set, err := features.Extract(snap, s.minHistory)
	if err != nil {
		return s.Hold(symbol, snap, BadSnapshot, err)
	}

	sig := Signal{
		Symbol:     symbol,
		Action:     Hold,
		Confidence: Float(pred.Confidence),
		Time:       snap.Time,
		Price:      snap.Price,
		Volatility: set.Volatility,
		Synthetic:  set.Synthetic,
		Features:   &set,
	}

	switch {
	case pred.Direction > 0 && pred.Confidence >= s.th.Buy:
		sig.Action = Buy
	case pred.Direction < 0 && pred.Confidence >= s.th.Sell:
		sig.Action = Sell
	}

	if side, ok := sig.Action.Side(); ok && s.levels != nil {
		if sl := s.levels.StopLossFor(snap.Price, side); sl > 0 {
			sig.StopLoss = Float(sl)
		}
		if tp := s.levels.TakeProfitFor(snap.Price, side); tp > 0 {
			sig.TakeProfit = Float(tp)
		}
	}
	if set.Synthetic {
		s.log.Debug("decision on synthetic history",
			zap.String("symbol", symbol),
			zap.String("action", string(sig.Action)),
		)
	}
	return sig, nil
}

// Score is Decide with fallbacks logged and swallowed. It always returns a
// usable Signal.
func (s *Scorer) Score(symbol string, snap *market.Snapshot, pred *predict.Prediction) Signal {
	sig, err := s.Decide(symbol, snap, pred)
	if err != nil {
		s.log.Info("holding", zap.String("symbol", symbol), zap.Error(err))
	}
	return sig
}
