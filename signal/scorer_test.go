package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sigtrader/market"
	"github.com/rustyeddy/sigtrader/predict"
	"github.com/rustyeddy/sigtrader/risk"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func snap(price float64) *market.Snapshot {
	return &market.Snapshot{Symbol: "BTC/USDT", Time: t0, Price: price, Volume: 1}
}

func TestDecide_Mapping(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultThresholds())

	tests := []struct {
		name string
		pred predict.Prediction
		want Action
	}{
		{"buy at threshold", predict.Prediction{Direction: 1, Confidence: 0.6}, Buy},
		{"buy below threshold", predict.Prediction{Direction: 1, Confidence: 0.59}, Hold},
		{"sell", predict.Prediction{Direction: -1, Confidence: 0.9}, Sell},
		{"sell below threshold", predict.Prediction{Direction: -1, Confidence: 0.2}, Hold},
		{"flat confident", predict.Prediction{Direction: 0, Confidence: 1}, Hold},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			pred := tt.pred
			sig, err := s.Decide("BTC/USDT", snap(100), &pred)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig.Action)
			c, ok := sig.ConfidenceValue()
			require.True(t, ok)
			assert.Equal(t, tt.pred.Confidence, c)
			assert.Equal(t, t0, sig.Time)
		})
	}
}

func TestDecide_AsymmetricThresholds(t *testing.T) {
	t.Parallel()

	s := NewScorer(Thresholds{Buy: 0.9, Sell: 0.3})

	sig, err := s.Decide("X", snap(10), &predict.Prediction{Direction: 1, Confidence: 0.8})
	require.NoError(t, err)
	assert.Equal(t, Hold, sig.Action)

	sig, err = s.Decide("X", snap(10), &predict.Prediction{Direction: -1, Confidence: 0.3})
	require.NoError(t, err)
	assert.Equal(t, Sell, sig.Action)
}

func TestDecide_Fallbacks(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultThresholds())
	good := &predict.Prediction{Direction: 1, Confidence: 0.9}

	tests := []struct {
		name string
		snap *market.Snapshot
		pred *predict.Prediction
		fb   Fallback
	}{
		{"no prediction", snap(100), nil, MissingPrediction},
		{"nil snapshot", nil, good, BadSnapshot},
		{"no price", &market.Snapshot{Symbol: "BTC/USDT", Time: t0}, good, BadSnapshot},
		{"malformed prediction", snap(100), &predict.Prediction{Direction: 5, Confidence: 0.9}, BadPrediction},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sig, err := s.Decide("BTC/USDT", tt.snap, tt.pred)
			require.Error(t, err)

			var de *DecisionError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.fb, de.Fallback)

			assert.Equal(t, Hold, sig.Action)
			require.NotNil(t, sig.Confidence)
			assert.Equal(t, FallbackConfidence, *sig.Confidence)

			// Score never surfaces the error
			assert.Equal(t, sig, s.Score("BTC/USDT", tt.snap, tt.pred))
		})
	}

	_, err := s.Decide("BTC/USDT", snap(100), nil)
	assert.ErrorIs(t, err, ErrNoPrediction)
}

func TestDecide_LevelsFromSizer(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultThresholds(), WithLevels(risk.NewSizer(risk.DefaultConfig())))

	buy, err := s.Decide("BTC/USDT", snap(50000), &predict.Prediction{Direction: 1, Confidence: 0.9})
	require.NoError(t, err)
	require.NotNil(t, buy.StopLoss)
	require.NotNil(t, buy.TakeProfit)
	assert.InDelta(t, 47500.0, *buy.StopLoss, 1e-6)
	assert.InDelta(t, 55000.0, *buy.TakeProfit, 1e-6)

	sell, err := s.Decide("BTC/USDT", snap(50000), &predict.Prediction{Direction: -1, Confidence: 0.9})
	require.NoError(t, err)
	assert.InDelta(t, 52500.0, *sell.StopLoss, 1e-6)
	assert.InDelta(t, 45000.0, *sell.TakeProfit, 1e-6)

	hold, err := s.Decide("BTC/USDT", snap(50000), &predict.Prediction{Direction: 0, Confidence: 0.9})
	require.NoError(t, err)
	assert.Nil(t, hold.StopLoss)
	assert.Nil(t, hold.TakeProfit)
}

func TestDecide_SyntheticFlag(t *testing.T) {
	t.Parallel()

	s := NewScorer(DefaultThresholds())
	sig, err := s.Decide("BTC/USDT", snap(100), &predict.Prediction{Direction: 1, Confidence: 0.7})
	require.NoError(t, err)
	assert.True(t, sig.Synthetic)
	require.NotNil(t, sig.Features)
	assert.True(t, sig.Features.Synthetic)

	hist := make([]float64, 30)
	for i := range hist {
		hist[i] = 90 + float64(i%4)
	}
	full := &market.Snapshot{Symbol: "BTC/USDT", Time: t0, Price: 100, History: hist}
	sig, err = s.Decide("BTC/USDT", full, &predict.Prediction{Direction: 1, Confidence: 0.7})
	require.NoError(t, err)
	assert.False(t, sig.Synthetic)
}

func TestThresholdsValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, DefaultThresholds().Validate())
	assert.ErrorIs(t, Thresholds{Buy: 1.1, Sell: 0.5}.Validate(), ErrInvalidThreshold)
	assert.ErrorIs(t, Thresholds{Buy: 0.5, Sell: -0.1}.Validate(), ErrInvalidThreshold)
}

func TestActionSide(t *testing.T) {
	t.Parallel()

	side, ok := Buy.Side()
	assert.True(t, ok)
	assert.Equal(t, risk.Long, side)

	side, ok = Sell.Side()
	assert.True(t, ok)
	assert.Equal(t, risk.Short, side)

	_, ok = Hold.Side()
	assert.False(t, ok)

	a, err := ParseAction("sell")
	require.NoError(t, err)
	assert.Equal(t, Sell, a)

	_, err = ParseAction("FLIP")
	assert.Error(t, err)
}
