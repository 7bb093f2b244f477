package indicators

import (
	"fmt"
	"math"
)

func checkPeriod(n, period int) error {
	if period <= 0 {
		return fmt.Errorf("period must be positive, got %d", period)
	}
	if n < period {
		return fmt.Errorf("%w: need %d, got %d", ErrNotEnoughData, period, n)
	}
	return nil
}

// MA calculates the Simple Moving Average of the last period prices.
func MA(prices []float64, period int) (float64, error) {
	if err := checkPeriod(len(prices), period); err != nil {
		return 0, err
	}

	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period), nil
}

// EMASeries returns the recursive EMA at every point, seeded with the first
// price (no SMA warmup). The result has the same length as prices.
func EMASeries(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	if len(prices) == 0 || period <= 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = prices[0]
	for i := 1; i < len(prices); i++ {
		out[i] = alpha*prices[i] + (1-alpha)*out[i-1]
	}
	return out
}

// StdDev is the sample (n-1) standard deviation of the last period prices.
func StdDev(prices []float64, period int) (float64, error) {
	if err := checkPeriod(len(prices), period); err != nil {
		return 0, err
	}
	if period < 2 {
		return 0, nil
	}
	mean, _ := MA(prices, period)
	ss := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		d := prices[i] - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(period-1)), nil
}
