// Package features turns a market snapshot into the indicator context fed
// to the prediction model and attached to every signal.
package features

import (
	"math"

	"github.com/rustyeddy/sigtrader/indicators"
	"github.com/rustyeddy/sigtrader/market"
)

const (
	RSIWindow       = 14
	MACDFast        = 12
	MACDSlow        = 26
	MACDSignal      = 9
	BollingerWindow = 20
	BollingerK      = 2.0

	// DefaultMinHistory is the slowest indicator window.
	DefaultMinHistory = MACDSlow

	// SequenceLen is the number of most recent rows handed to the model.
	SequenceLen = 5
)

// syntheticShape is the fixed series used in place of missing history,
// expressed as multiples of the current price.
var syntheticShape = [...]float64{0.97, 0.98, 0.99, 1.00, 1.01}

// SyntheticHistory anchors the fixed synthetic series on price.
func SyntheticHistory(price float64) []float64 {
	out := make([]float64, len(syntheticShape))
	for i, m := range syntheticShape {
		out[i] = price * m
	}
	return out
}

// Row is one step of the model input sequence.
type Row struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	RSI    float64 `json:"rsi"`
	MACD   float64 `json:"macd"`
	Signal float64 `json:"macd_signal"`
	Upper  float64 `json:"bb_upper"`
	Middle float64 `json:"bb_middle"`
	Lower  float64 `json:"bb_lower"`
}

// Values flattens the row in model column order.
func (r Row) Values() []float64 {
	return []float64{r.Price, r.Volume, r.RSI, r.MACD, r.Signal, r.Upper, r.Middle, r.Lower}
}

// Set is the indicator context for one decision.
type Set struct {
	Row

	Volatility float64 `json:"volatility"`

	// Sequence holds up to SequenceLen rows, most recent first.
	Sequence []Row `json:"sequence"`

	// Synthetic is true when the price series was manufactured because the
	// snapshot history was shorter than the required window. Indicator values
	// derived from it must not be treated as fresh.
	Synthetic bool `json:"synthetic"`

	// Fallback is true when at least one indicator could not be computed and
	// was replaced by its neutral value.
	Fallback bool `json:"fallback"`
}

// Extract builds the feature set for snap. History shorter than minHistory
// (DefaultMinHistory when <= 0) is replaced by SyntheticHistory anchored on
// the snapshot price. Extract never fails on short data; it reports what it
// did through Synthetic and Fallback.
func Extract(snap *market.Snapshot, minHistory int) (Set, error) {
	if err := snap.Validate(); err != nil {
		return Set{}, err
	}
	if minHistory <= 0 {
		minHistory = DefaultMinHistory
	}

	var set Set
	series := snap.Series()
	if len(snap.History) < minHistory {
		series = SyntheticHistory(snap.Price)
		set.Synthetic = true
	}

	n := len(series)
	rows := SequenceLen
	if n < rows {
		rows = n
	}

	macd, macdErr := indicators.MACD(series, MACDFast, MACDSlow, MACDSignal)

	set.Sequence = make([]Row, 0, rows)
	for i := 0; i < rows; i++ {
		end := n - i
		prefix := series[:end]
		row := Row{Price: series[end-1], Volume: snap.Volume}

		if v, err := indicators.RSI(prefix, RSIWindow); err == nil && !math.IsNaN(v) {
			row.RSI = v
		} else {
			row.RSI = 50
			set.Fallback = true
		}

		if macdErr == nil {
			row.MACD = macd.MACD[end-1]
			row.Signal = macd.Signal[end-1]
		} else {
			set.Fallback = true
		}

		if b, err := indicators.Bollinger(prefix, BollingerWindow, BollingerK); err == nil {
			row.Upper, row.Middle, row.Lower = b.Upper, b.Middle, b.Lower
		} else {
			row.Upper = snap.Price * 1.02
			row.Middle = snap.Price
			row.Lower = snap.Price * 0.98
			set.Fallback = true
		}

		set.Sequence = append(set.Sequence, row)
	}

	set.Row = set.Sequence[0]
	set.Row.Price = snap.Price
	set.Volatility = snap.Volatility()
	return set, nil
}
