package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/sigtrader/config"
	"github.com/rustyeddy/sigtrader/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Signal-driven trade decisions, sizing and replay",
	Long: `Trader turns model predictions into trade decisions, sizes them against
account risk, manages the resulting positions and replays signal datasets
to measure how a parameter set would have performed.

It provides tools for:
  - Backtesting signal datasets with stop loss, take profit and fees
  - Comparing parameter sets over the same dataset
  - Paper trading the live pipeline over recorded snapshots
  - Querying the trade journal`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	cfgFile  string
	logLevel string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); TRADER_* env vars override it")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
}

// loadConfig reads the config and installs the process logger.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, err := logger.Init(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// parseDate accepts YYYY-MM-DD (UTC midnight) or RFC3339. Empty is the zero
// time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}
