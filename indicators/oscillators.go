package indicators

import "fmt"

// RSI is the simple-average Relative Strength Index over the last window
// price changes. It needs window+1 prices. A window with no losses reads 100,
// one with no movement at all reads 50.
func RSI(prices []float64, window int) (float64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive, got %d", window)
	}
	if len(prices) < window+1 {
		return 0, fmt.Errorf("%w: rsi needs %d prices, got %d", ErrNotEnoughData, window+1, len(prices))
	}

	var gain, loss float64
	for i := len(prices) - window; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(window)
	loss /= float64(window)

	switch {
	case gain == 0 && loss == 0:
		return 50, nil
	case loss == 0:
		return 100, nil
	}
	rs := gain / loss
	return 100 - 100/(1+rs), nil
}

type MACDResult struct {
	MACD   []float64
	Signal []float64
	Hist   []float64
}

// MACD computes the MACD line (fast EMA - slow EMA), its signal EMA and the
// histogram. It refuses series shorter than slow so a meaningful line is
// never reported from a handful of points.
func MACD(prices []float64, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow {
		return MACDResult{}, fmt.Errorf("bad macd windows %d/%d/%d", fast, slow, signal)
	}
	if len(prices) < slow {
		return MACDResult{}, fmt.Errorf("%w: macd needs %d prices, got %d", ErrNotEnoughData, slow, len(prices))
	}

	f := EMASeries(prices, fast)
	s := EMASeries(prices, slow)
	line := make([]float64, len(prices))
	for i := range prices {
		line[i] = f[i] - s[i]
	}
	sig := EMASeries(line, signal)
	hist := make([]float64, len(prices))
	for i := range prices {
		hist[i] = line[i] - sig[i]
	}
	return MACDResult{MACD: line, Signal: sig, Hist: hist}, nil
}

type Bands struct {
	Upper, Middle, Lower float64
}

// Bollinger returns the bands k sample standard deviations around the SMA of
// the last window prices.
func Bollinger(prices []float64, window int, k float64) (Bands, error) {
	mid, err := MA(prices, window)
	if err != nil {
		return Bands{}, err
	}
	sd, err := StdDev(prices, window)
	if err != nil {
		return Bands{}, err
	}
	return Bands{Upper: mid + k*sd, Middle: mid, Lower: mid - k*sd}, nil
}
