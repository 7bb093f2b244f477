package risk

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidConfig = errors.New("risk: invalid config")

// Side is the direction of an exposure. Its value is the sign applied to
// price moves when computing PnL.
type Side int

const (
	Long  Side = 1
	Short Side = -1
)

func (s Side) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "NONE"
	}
}

// ParseSide accepts LONG/SHORT as well as the BUY/SELL action names.
func ParseSide(s string) (Side, error) {
	switch s {
	case "LONG", "long", "BUY", "buy":
		return Long, nil
	case "SHORT", "short", "SELL", "sell":
		return Short, nil
	}
	return 0, fmt.Errorf("risk: unknown side %q", s)
}

// Method selects how a quantity is derived from the account balance.
type Method string

const (
	FixedStop  Method = "fixed_stop" // risk / |entry - stop|
	Volatility Method = "volatility" // risk / volatility
	Notional   Method = "notional"   // position_size_pct of balance / entry
)

func (m Method) Valid() bool {
	switch m {
	case FixedStop, Volatility, Notional:
		return true
	}
	return false
}

type Config struct {
	// Fractions of balance.
	RiskPerTrade float64 `mapstructure:"risk_per_trade" yaml:"risk_per_trade" json:"risk_per_trade"`

	// Percentages (5 means 5%).
	PositionSizePct float64 `mapstructure:"position_size_pct" yaml:"position_size_pct" json:"position_size_pct"`
	StopLossPct     float64 `mapstructure:"stop_loss_pct" yaml:"stop_loss_pct" json:"stop_loss_pct"`
	TakeProfitPct   float64 `mapstructure:"take_profit_pct" yaml:"take_profit_pct" json:"take_profit_pct"`

	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
	Method        Method  `mapstructure:"sizing_method" yaml:"sizing_method" json:"sizing_method"`

	// Per-symbol notional caps as a fraction of balance. A zero cap disables it.
	LimitPct        map[string]float64 `mapstructure:"limit_pct" yaml:"limit_pct,omitempty" json:"limit_pct,omitempty"`
	DefaultLimitPct float64            `mapstructure:"default_limit_pct" yaml:"default_limit_pct" json:"default_limit_pct"`
}

func DefaultConfig() Config {
	return Config{
		RiskPerTrade:    0.02,
		PositionSizePct: 10,
		StopLossPct:     5,
		TakeProfitPct:   10,
		MinConfidence:   0.6,
		Method:          FixedStop,
		LimitPct:        map[string]float64{"BTC/USDT": 0.10},
		DefaultLimitPct: 0.05,
	}
}

func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
	}
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

	if !finite(c.RiskPerTrade) || c.RiskPerTrade <= 0 || c.RiskPerTrade > 1 {
		return bad("risk_per_trade must be in (0,1], got %v", c.RiskPerTrade)
	}
	for name, v := range map[string]float64{
		"position_size_pct": c.PositionSizePct,
		"stop_loss_pct":     c.StopLossPct,
		"take_profit_pct":   c.TakeProfitPct,
	} {
		if !finite(v) || v < 0 || v > 100 {
			return bad("%s must be in [0,100], got %v", name, v)
		}
	}
	if !finite(c.MinConfidence) || c.MinConfidence < 0 || c.MinConfidence > 1 {
		return bad("min_confidence must be in [0,1], got %v", c.MinConfidence)
	}
	if !c.Method.Valid() {
		return bad("unknown sizing_method %q", c.Method)
	}
	if c.Method == Notional && c.PositionSizePct <= 0 {
		return bad("notional sizing needs position_size_pct > 0")
	}
	if c.DefaultLimitPct < 0 || c.DefaultLimitPct > 1 {
		return bad("default_limit_pct must be in [0,1], got %v", c.DefaultLimitPct)
	}
	for sym, v := range c.LimitPct {
		if v < 0 || v > 1 {
			return bad("limit_pct[%s] must be in [0,1], got %v", sym, v)
		}
	}
	return nil
}

// Intent is a fully sized order about to be opened.
type Intent struct {
	Symbol   string
	Side     Side
	Quantity float64

	Entry      float64
	Stop       float64 // 0 when no stop is attached
	TakeProfit float64 // 0 when no target is attached

	Balance float64
	FeePct  float64
}
