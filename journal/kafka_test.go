package journal

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func posInf() float64 { return math.Inf(1) }

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublishesTradesKeyedBySymbol(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	k := NewKafka(context.Background(), w)

	require.NoError(t, k.RecordTrade(sampleTrade()))
	require.NoError(t, k.RecordEquity(EquitySnapshot{Symbol: "ETH/USDT", Balance: 5}))
	require.NoError(t, k.Close())
	assert.True(t, w.closed)

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "BTC/USDT", string(w.msgs[0].Key))
	assert.Equal(t, "ETH/USDT", string(w.msgs[1].Key))

	ev, err := DecodeEvent(w.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, EventTrade, ev.Kind)
	require.NotNil(t, ev.Trade)
	assert.Equal(t, "T1", ev.Trade.TradeID)
	assert.Nil(t, ev.Equity)

	ev, err = DecodeEvent(w.msgs[1])
	require.NoError(t, err)
	assert.Equal(t, EventEquity, ev.Kind)
	assert.InDelta(t, 5.0, ev.Equity.Balance, 1e-9)
}

func TestKafkaWriteError(t *testing.T) {
	t.Parallel()

	k := NewKafka(context.Background(), &fakeWriter{err: errors.New("broker down")})
	err := k.RecordTrade(sampleTrade())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewKafkaWriter(t *testing.T) {
	t.Parallel()

	w := NewKafkaWriter("localhost:9092", "trades")
	assert.Equal(t, "trades", w.Topic)
	assert.Equal(t, "localhost:9092", w.Addr.String())
}
