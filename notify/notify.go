package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/sigtrader/position"
)

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Message is one human-facing trade event. PnLPct is nil for entries.
type Message struct {
	Symbol   string
	Action   string
	Price    float64
	Quantity float64
	PnLPct   *float64
	Reason   string
	Time     time.Time
}

// Opened describes a new position.
func Opened(p position.Position) Message {
	action := "BUY"
	if p.Side < 0 {
		action = "SELL"
	}
	return Message{
		Symbol:   p.Symbol,
		Action:   action,
		Price:    p.EntryPrice,
		Quantity: p.Quantity,
		Time:     p.OpenedAt,
	}
}

// Closed describes an exit. The action is the side of the closing fill.
func Closed(t position.Trade) Message {
	action := "SELL"
	if t.Side < 0 {
		action = "BUY"
	}
	pct := t.PnLPct
	return Message{
		Symbol:   t.Symbol,
		Action:   action,
		Price:    t.ExitPrice,
		Quantity: t.Quantity,
		PnLPct:   &pct,
		Reason:   string(t.ExitReason),
		Time:     t.ClosedAt,
	}
}

// Format renders msg as plain text.
func Format(msg Message) string {
	icon := "🟢"
	if msg.Action == "SELL" {
		icon = "🔴"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", icon, msg.Action, msg.Symbol)
	fmt.Fprintf(&b, "Price: %.5f\n", msg.Price)
	fmt.Fprintf(&b, "Quantity: %.6f", msg.Quantity)
	if msg.PnLPct != nil {
		fmt.Fprintf(&b, "\nPnL: %+.2f%%", *msg.PnLPct)
	}
	if msg.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", msg.Reason)
	}
	if !msg.Time.IsZero() {
		fmt.Fprintf(&b, "\nTime: %s", msg.Time.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// Log writes notifications to a zap logger.
type Log struct {
	L *zap.Logger
}

func (l Log) Notify(_ context.Context, msg Message) error {
	log := l.L
	if log == nil {
		log = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("symbol", msg.Symbol),
		zap.String("action", msg.Action),
		zap.Float64("price", msg.Price),
		zap.Float64("quantity", msg.Quantity),
	}
	if msg.PnLPct != nil {
		fields = append(fields, zap.Float64("pnl_pct", *msg.PnLPct))
	}
	if msg.Reason != "" {
		fields = append(fields, zap.String("reason", msg.Reason))
	}
	log.Info("trade notification", fields...)
	return nil
}

// Listener forwards lifecycle transitions of a position.Manager to n.
// Errors are logged and never reach the manager.
func Listener(ctx context.Context, n Notifier, log *zap.Logger) position.Listener {
	if log == nil {
		log = zap.NewNop()
	}
	send := func(msg Message) {
		if err := n.Notify(ctx, msg); err != nil {
			log.Warn("notify failed", zap.String("symbol", msg.Symbol), zap.Error(err))
		}
	}
	return position.ListenerFuncs{
		Opened: func(p position.Position) { send(Opened(p)) },
		Closed: func(t position.Trade) { send(Closed(t)) },
	}
}
