package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/sigtrader/backtest"
	"github.com/rustyeddy/sigtrader/pkg/logger"
	"github.com/rustyeddy/sigtrader/position"
	"github.com/rustyeddy/sigtrader/risk"
	"github.com/rustyeddy/sigtrader/signal"
)

// EnvPrefix namespaces environment overrides: TRADER_RISK_FEE_PCT sets
// risk.fee_pct.
const EnvPrefix = "TRADER"

var ErrInvalid = errors.New("config: invalid")

// Config is the complete runtime configuration.
type Config struct {
	Account  AccountConfig             `mapstructure:"account" yaml:"account" json:"account"`
	Symbols  []string                  `mapstructure:"symbols" yaml:"symbols" json:"symbols"`
	Risk     risk.Config               `mapstructure:"risk" yaml:"risk" json:"risk"`
	Signal   signal.Thresholds         `mapstructure:"signal" yaml:"signal" json:"signal"`
	Position position.Config           `mapstructure:"position" yaml:"position" json:"position"`
	Override map[string]SymbolOverride `mapstructure:"override" yaml:"override,omitempty" json:"override,omitempty"`
	Backtest backtest.Params           `mapstructure:"backtest" yaml:"backtest" json:"backtest"`
	Session  SessionConfig             `mapstructure:"session" yaml:"session" json:"session"`
	Journal  JournalConfig             `mapstructure:"journal" yaml:"journal" json:"journal"`
	Notify   NotifyConfig              `mapstructure:"notify" yaml:"notify" json:"notify"`
	Log      logger.Config             `mapstructure:"log" yaml:"log" json:"log"`
}

type AccountConfig struct {
	Currency string  `mapstructure:"currency" yaml:"currency" json:"currency"`
	Balance  float64 `mapstructure:"balance" yaml:"balance" json:"balance"`
}

// SymbolOverride replaces individual values for one symbol. Nil fields keep
// the global value.
type SymbolOverride struct {
	BuyThreshold  *float64 `mapstructure:"buy_threshold" yaml:"buy_threshold,omitempty" json:"buy_threshold,omitempty"`
	SellThreshold *float64 `mapstructure:"sell_threshold" yaml:"sell_threshold,omitempty" json:"sell_threshold,omitempty"`
	RiskPerTrade  *float64 `mapstructure:"risk_per_trade" yaml:"risk_per_trade,omitempty" json:"risk_per_trade,omitempty"`
	StopLossPct   *float64 `mapstructure:"stop_loss_pct" yaml:"stop_loss_pct,omitempty" json:"stop_loss_pct,omitempty"`
	TakeProfitPct *float64 `mapstructure:"take_profit_pct" yaml:"take_profit_pct,omitempty" json:"take_profit_pct,omitempty"`
	MinConfidence *float64 `mapstructure:"min_confidence" yaml:"min_confidence,omitempty" json:"min_confidence,omitempty"`
	LimitPct      *float64 `mapstructure:"limit_pct" yaml:"limit_pct,omitempty" json:"limit_pct,omitempty"`
	FeePct        *float64 `mapstructure:"fee_pct" yaml:"fee_pct,omitempty" json:"fee_pct,omitempty"`
}

type SessionConfig struct {
	Interval     time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	CycleTimeout time.Duration `mapstructure:"cycle_timeout" yaml:"cycle_timeout" json:"cycle_timeout"`
	MinHistory   int           `mapstructure:"min_history" yaml:"min_history" json:"min_history"`
	MaxHistory   int           `mapstructure:"max_history" yaml:"max_history" json:"max_history"`
	// DataPath is the recorded snapshot CSV replayed by paper mode.
	DataPath string `mapstructure:"data_path" yaml:"data_path" json:"data_path"`
	RunID    string `mapstructure:"run_id" yaml:"run_id" json:"run_id"`
}

// JournalConfig selects the primary trade journal. Kafka publishing is
// added on top of it when brokers are configured.
type JournalConfig struct {
	Type       string      `mapstructure:"type" yaml:"type" json:"type"` // none|csv|sqlite|postgres
	TradesFile string      `mapstructure:"trades_file" yaml:"trades_file,omitempty" json:"trades_file,omitempty"`
	EquityFile string      `mapstructure:"equity_file" yaml:"equity_file,omitempty" json:"equity_file,omitempty"`
	DBPath     string      `mapstructure:"db_path" yaml:"db_path,omitempty" json:"db_path,omitempty"`
	DSN        string      `mapstructure:"dsn" yaml:"dsn,omitempty" json:"dsn,omitempty"`
	Kafka      KafkaConfig `mapstructure:"kafka" yaml:"kafka" json:"kafka"`
}

type KafkaConfig struct {
	Broker string `mapstructure:"broker" yaml:"broker" json:"broker"`
	Topic  string `mapstructure:"topic" yaml:"topic" json:"topic"`
}

func (k KafkaConfig) Enabled() bool { return k.Broker != "" }

type NotifyConfig struct {
	Telegram  TelegramConfig `mapstructure:"telegram" yaml:"telegram" json:"telegram"`
	QueueSize int            `mapstructure:"queue_size" yaml:"queue_size" json:"queue_size"`
	// PerSecond limits outgoing messages. Zero means unlimited.
	PerSecond float64 `mapstructure:"per_second" yaml:"per_second" json:"per_second"`
	Burst     int     `mapstructure:"burst" yaml:"burst" json:"burst"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token" yaml:"token" json:"token"`
	ChatID int64  `mapstructure:"chat_id" yaml:"chat_id" json:"chat_id"`
}

func (t TelegramConfig) Enabled() bool { return t.Token != "" }

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			Currency: "USDT",
			Balance:  10000,
		},
		Symbols:  []string{"BTC/USDT"},
		Risk:     risk.DefaultConfig(),
		Signal:   signal.DefaultThresholds(),
		Position: position.DefaultConfig(),
		Backtest: backtest.DefaultParams(),
		Session: SessionConfig{
			Interval:     time.Minute,
			CycleTimeout: 30 * time.Second,
			MaxHistory:   200,
			RunID:        "paper",
		},
		Journal: JournalConfig{
			Type:   "sqlite",
			DBPath: "./trader.sqlite",
		},
		Notify: NotifyConfig{
			QueueSize: 64,
			PerSecond: 1,
			Burst:     5,
		},
		Log: logger.Config{Level: "info", Format: "console"},
	}
}

// Load reads path (YAML or JSON, by extension) over the defaults and applies
// TRADER_* environment overrides. An empty path loads defaults and
// environment only. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Seeding viper with the defaults registers every key, which is what
	// lets AutomaticEnv see keys the file does not mention.
	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, errors.Wrap(err, "marshal defaults")
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, errors.Wrap(err, "read defaults")
	}

	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			v.SetConfigType(strings.ToLower(ext))
		}
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// normalize upper-cases symbol keys. Viper folds map keys to lower case.
func (c *Config) normalize() {
	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if len(c.Risk.LimitPct) > 0 {
		limits := make(map[string]float64, len(c.Risk.LimitPct))
		for k, v := range c.Risk.LimitPct {
			limits[strings.ToUpper(k)] = v
		}
		c.Risk.LimitPct = limits
	}
	if len(c.Override) > 0 {
		over := make(map[string]SymbolOverride, len(c.Override))
		for k, v := range c.Override {
			over[strings.ToUpper(k)] = v
		}
		c.Override = over
	}
}

// SaveToFile saves configuration to a file (YAML for .yaml/.yml, JSON
// otherwise).
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = sonic.ConfigStd.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write config file")
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
	}

	if c.Account.Currency == "" {
		return bad("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return bad("account.balance must be positive")
	}
	if len(c.Symbols) == 0 {
		return bad("at least one symbol is required")
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if err := c.Signal.Validate(); err != nil {
		return err
	}
	if err := c.Position.Validate(); err != nil {
		return err
	}
	if err := c.Backtest.Validate(); err != nil {
		return err
	}
	for sym := range c.Override {
		if _, err := c.ForSymbol(sym); err != nil {
			return err
		}
	}

	if c.Session.Interval < 0 || c.Session.CycleTimeout < 0 {
		return bad("session interval and cycle_timeout must be >= 0")
	}
	if c.Session.MinHistory < 0 || c.Session.MaxHistory < 0 {
		return bad("session min_history and max_history must be >= 0")
	}

	switch c.Journal.Type {
	case "", "none":
	case "csv":
		if c.Journal.TradesFile == "" || c.Journal.EquityFile == "" {
			return bad("journal trades_file and equity_file required for CSV type")
		}
	case "sqlite":
		if c.Journal.DBPath == "" {
			return bad("journal db_path required for SQLite type")
		}
	case "postgres":
		if c.Journal.DSN == "" {
			return bad("journal dsn required for Postgres type")
		}
	default:
		return bad("journal.type must be one of none, csv, sqlite, postgres; got %q", c.Journal.Type)
	}
	if c.Journal.Kafka.Enabled() && c.Journal.Kafka.Topic == "" {
		return bad("journal.kafka.topic required when a broker is set")
	}

	if c.Notify.QueueSize < 0 || c.Notify.PerSecond < 0 || c.Notify.Burst < 0 {
		return bad("notify queue_size, per_second and burst must be >= 0")
	}
	if c.Notify.Telegram.Enabled() && c.Notify.Telegram.ChatID == 0 {
		return bad("notify.telegram.chat_id required when a token is set")
	}
	return nil
}

// Symbol is the effective configuration of one traded symbol.
type Symbol struct {
	Name       string
	Risk       risk.Config
	Thresholds signal.Thresholds
	Position   position.Config
}

// ForSymbol merges the override for symbol, if any, over the global values
// and validates the result.
func (c *Config) ForSymbol(symbol string) (Symbol, error) {
	s := Symbol{
		Name:       symbol,
		Risk:       c.Risk,
		Thresholds: c.Signal,
		Position:   c.Position,
	}

	o, ok := c.Override[strings.ToUpper(symbol)]
	if ok {
		set := func(dst *float64, v *float64) {
			if v != nil {
				*dst = *v
			}
		}
		set(&s.Thresholds.Buy, o.BuyThreshold)
		set(&s.Thresholds.Sell, o.SellThreshold)
		set(&s.Risk.RiskPerTrade, o.RiskPerTrade)
		set(&s.Risk.StopLossPct, o.StopLossPct)
		set(&s.Risk.TakeProfitPct, o.TakeProfitPct)
		set(&s.Risk.MinConfidence, o.MinConfidence)
		set(&s.Position.FeePct, o.FeePct)
		if o.LimitPct != nil {
			limits := make(map[string]float64, len(c.Risk.LimitPct)+1)
			for k, v := range c.Risk.LimitPct {
				limits[k] = v
			}
			limits[symbol] = *o.LimitPct
			s.Risk.LimitPct = limits
		}
	}

	if err := s.Risk.Validate(); err != nil {
		return Symbol{}, errors.Wrapf(err, "symbol %s", symbol)
	}
	if err := s.Thresholds.Validate(); err != nil {
		return Symbol{}, errors.Wrapf(err, "symbol %s", symbol)
	}
	if err := s.Position.Validate(); err != nil {
		return Symbol{}, errors.Wrapf(err, "symbol %s", symbol)
	}
	return s, nil
}
