// Package predict is the boundary to the model collaborator. Everything a
// model returns passes through Validate before the scorer sees it.
package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/sigtrader/features"
)

var (
	ErrInvalidPrediction = errors.New("predict: invalid prediction")
	ErrTimeout           = errors.New("predict: timed out")
	ErrPanic             = errors.New("predict: model panicked")
)

type Prediction struct {
	Direction  int     `json:"direction"`
	Confidence float64 `json:"confidence"`
}

func (p Prediction) Validate() error {
	switch p.Direction {
	case -1, 0, 1:
	default:
		return fmt.Errorf("%w: direction %d", ErrInvalidPrediction, p.Direction)
	}
	if math.IsNaN(p.Confidence) || math.IsInf(p.Confidence, 0) || p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v", ErrInvalidPrediction, p.Confidence)
	}
	return nil
}

// Predictor is the model collaborator.
type Predictor interface {
	Predict(ctx context.Context, symbol string, f features.Set) (Prediction, error)
}

type PredictorFunc func(ctx context.Context, symbol string, f features.Set) (Prediction, error)

func (fn PredictorFunc) Predict(ctx context.Context, symbol string, f features.Set) (Prediction, error) {
	return fn(ctx, symbol, f)
}

const DefaultTimeout = 2 * time.Second

// Guard wraps a Predictor with a deadline, panic recovery and payload
// validation. A Guard never returns a Prediction that fails Validate.
type Guard struct {
	next    Predictor
	timeout time.Duration
	log     *zap.Logger
}

type GuardOption func(*Guard)

func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

func NewGuard(next Predictor, opts ...GuardOption) *Guard {
	g := &Guard{next: next, timeout: DefaultTimeout, log: zap.NewNop()}
	for _, o := range opts {
		o(g)
	}
	return g
}

type result struct {
	p   Prediction
	err error
}

// Predict calls the wrapped model in its own goroutine so a model that
// ignores its context still cannot stall the cycle past the timeout.
func (g *Guard) Predict(ctx context.Context, symbol string, f features.Set) (Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
		}()
		p, err := g.next.Predict(ctx, symbol, f)
		ch <- result{p: p, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = fmt.Errorf("%w after %s: %v", ErrTimeout, g.timeout, ctx.Err())
	}

	if res.err == nil {
		res.err = res.p.Validate()
	}
	if res.err != nil {
		g.log.Warn("prediction rejected",
			zap.String("symbol", symbol),
			zap.Bool("synthetic", f.Synthetic),
			zap.Error(res.err),
		)
		return Prediction{}, res.err
	}
	return res.p, nil
}
