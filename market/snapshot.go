package market

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrMissingField = errors.New("market: snapshot missing required field")

// Snapshot is one observation of a symbol. History is chronological and
// does not include Price. Snapshots are treated as immutable once built.
type Snapshot struct {
	Symbol  string
	Time    time.Time
	Price   float64
	Volume  float64
	History []float64
}

// Validate reports the first required field that is absent or unusable.
func (s *Snapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", ErrMissingField)
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("%w: symbol", ErrMissingField)
	}
	if s.Time.IsZero() {
		return fmt.Errorf("%w: time", ErrMissingField)
	}
	if s.Price <= 0 || math.IsNaN(s.Price) || math.IsInf(s.Price, 0) {
		return fmt.Errorf("%w: price %v", ErrMissingField, s.Price)
	}
	return nil
}

// Series returns a copy of History with Price appended.
func (s *Snapshot) Series() []float64 {
	out := make([]float64, 0, len(s.History)+1)
	out = append(out, s.History...)
	return append(out, s.Price)
}

// DefaultVolatilityPct is used when there is not enough history to estimate.
const DefaultVolatilityPct = 1.0

// Volatility is the sample standard deviation of absolute price changes over
// the series, in price units. With fewer than two changes it falls back to
// DefaultVolatilityPct of the current price.
func (s *Snapshot) Volatility() float64 {
	series := s.Series()
	if len(series) < 3 {
		return s.Price * DefaultVolatilityPct / 100
	}
	diffs := make([]float64, 0, len(series)-1)
	for i := 1; i < len(series); i++ {
		diffs = append(diffs, math.Abs(series[i]-series[i-1]))
	}
	sd := StdDev(diffs)
	if sd == 0 {
		return s.Price * DefaultVolatilityPct / 100
	}
	return sd
}

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev is the sample (n-1) standard deviation. It is 0 for fewer than two
// values.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}
