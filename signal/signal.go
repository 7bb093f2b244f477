package signal

import (
	"fmt"
	"time"

	"github.com/rustyeddy/sigtrader/features"
	"github.com/rustyeddy/sigtrader/risk"
)

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Hold Action = "HOLD"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case Buy, Sell, Hold:
		return Action(s), nil
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	case "hold", "":
		return Hold, nil
	}
	return Hold, fmt.Errorf("signal: unknown action %q", s)
}

// Side maps BUY to LONG and SELL to SHORT. HOLD has no side.
func (a Action) Side() (risk.Side, bool) {
	switch a {
	case Buy:
		return risk.Long, true
	case Sell:
		return risk.Short, true
	}
	return 0, false
}

// Signal is one decision for one symbol. Optional fields are nil when unset.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Action     Action    `json:"action"`
	Confidence *float64  `json:"confidence,omitempty"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	Time       time.Time `json:"time"`

	// Price is the price the decision was made at.
	Price      float64 `json:"price"`
	Volatility float64 `json:"volatility,omitempty"`

	// Synthetic mirrors Features.Synthetic so consumers can spot decisions
	// made on a manufactured price series without digging into the context.
	Synthetic bool          `json:"synthetic"`
	Features  *features.Set `json:"-"`
}

func (s Signal) ConfidenceValue() (float64, bool) {
	if s.Confidence == nil {
		return 0, false
	}
	return *s.Confidence, true
}

func (s Signal) String() string {
	c := "n/a"
	if s.Confidence != nil {
		c = fmt.Sprintf("%.2f", *s.Confidence)
	}
	return fmt.Sprintf("%s %s@%.5f conf=%s", s.Symbol, s.Action, s.Price, c)
}

func Float(v float64) *float64 { return &v }
