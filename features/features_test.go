package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/sigtrader/market"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSyntheticHistory(t *testing.T) {
	t.Parallel()

	got := SyntheticHistory(100)
	want := []float64{97, 98, 99, 100, 101}
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-9)
	}
}

func TestExtract_ShortHistoryIsSynthetic(t *testing.T) {
	t.Parallel()

	snap := &market.Snapshot{Symbol: "BTC/USDT", Time: t0, Price: 50000, Volume: 3, History: []float64{49900, 49950}}
	set, err := Extract(snap, 0)
	require.NoError(t, err)

	assert.True(t, set.Synthetic)
	assert.True(t, set.Fallback)
	require.Len(t, set.Sequence, SequenceLen)

	// most recent first
	assert.InDelta(t, 50500.0, set.Sequence[0].Price, 1e-6)
	assert.InDelta(t, 48500.0, set.Sequence[4].Price, 1e-6)

	// neutral values
	assert.Equal(t, 50.0, set.RSI)
	assert.Equal(t, 0.0, set.MACD)
	assert.InDelta(t, 51000.0, set.Upper, 1e-6)
	assert.InDelta(t, 49000.0, set.Lower, 1e-6)
	assert.Equal(t, 50000.0, set.Price)
	assert.Equal(t, 3.0, set.Volume)
}

func TestExtract_FullHistory(t *testing.T) {
	t.Parallel()

	hist := make([]float64, 40)
	for i := range hist {
		hist[i] = 100 + float64(i%7)
	}
	snap := &market.Snapshot{Symbol: "ETH/USDT", Time: t0, Price: 103, History: hist}

	set, err := Extract(snap, 0)
	require.NoError(t, err)

	assert.False(t, set.Synthetic)
	assert.False(t, set.Fallback)
	require.Len(t, set.Sequence, SequenceLen)
	assert.Equal(t, 103.0, set.Sequence[0].Price)
	assert.Equal(t, hist[39], set.Sequence[1].Price)
	assert.Greater(t, set.Upper, set.Middle)
	assert.Less(t, set.Lower, set.Middle)
	assert.Len(t, set.Values(), 8)
}

func TestExtract_DoesNotMutateSnapshot(t *testing.T) {
	t.Parallel()

	hist := []float64{1, 2, 3}
	snap := &market.Snapshot{Symbol: "X", Time: t0, Price: 4, History: hist}
	_, err := Extract(snap, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, snap.History)
}

func TestExtract_InvalidSnapshot(t *testing.T) {
	t.Parallel()

	_, err := Extract(&market.Snapshot{Symbol: "X", Time: t0}, 0)
	assert.ErrorIs(t, err, market.ErrMissingField)

	_, err = Extract(nil, 0)
	assert.ErrorIs(t, err, market.ErrMissingField)
}
