package journal

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the journal needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Event is the envelope published for every ledger record.
type Event struct {
	Kind   string          `json:"kind"`
	Trade  *TradeRecord    `json:"trade,omitempty"`
	Equity *EquitySnapshot `json:"equity,omitempty"`
}

const (
	EventTrade  = "trade"
	EventEquity = "equity"
)

// Kafka publishes records as JSON keyed by symbol.
type Kafka struct {
	ctx     context.Context
	w       MessageWriter
	timeout time.Duration
}

func NewKafkaWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func NewKafka(ctx context.Context, w MessageWriter) *Kafka {
	return &Kafka{ctx: ctx, w: w, timeout: 5 * time.Second}
}

func (k *Kafka) publish(key string, ev Event) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	ctx, cancel := context.WithTimeout(k.ctx, k.timeout)
	defer cancel()

	err = k.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: payload})
	return errors.Wrapf(err, "publish %s event", ev.Kind)
}

func (k *Kafka) RecordTrade(t TradeRecord) error {
	return k.publish(t.Symbol, Event{Kind: EventTrade, Trade: &t})
}

func (k *Kafka) RecordEquity(e EquitySnapshot) error {
	return k.publish(e.Symbol, Event{Kind: EventEquity, Equity: &e})
}

func (k *Kafka) Close() error {
	return k.w.Close()
}

// DecodeEvent parses a message written by Kafka.
func DecodeEvent(msg kafka.Message) (Event, error) {
	var ev Event
	if err := sonic.Unmarshal(msg.Value, &ev); err != nil {
		return Event{}, errors.Wrap(err, "decode event")
	}
	return ev, nil
}
