package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/sigtrader/config"
	"github.com/rustyeddy/sigtrader/internal/app"
	"github.com/rustyeddy/sigtrader/pkg/logger"
)

var paperCmd = &cobra.Command{
	Use:   "paper",
	Short: "Run the live decision pipeline over recorded snapshots",
	Long: `Paper runs the full live pipeline (features, prediction, scoring, sizing,
position management, journal and notifications) against a recorded CSV of
market snapshots and model predictions. No orders leave the process.

Recording columns:
  time,symbol,price,volume[,direction,confidence]

Example:
  trader paper --data recordings/2024-05.csv --interval 1s`,
	Args: cobra.NoArgs,
	RunE: runPaper,
}

var (
	paperData     string
	paperInterval time.Duration
	paperDB       string
	paperRunID    string
	paperSymbols  []string
)

func init() {
	rootCmd.AddCommand(paperCmd)

	f := paperCmd.Flags()
	f.StringVar(&paperData, "data", "", "recorded snapshot CSV (default: session.data_path)")
	f.DurationVar(&paperInterval, "interval", 0, "cycle interval (default: session.interval)")
	f.StringVarP(&paperDB, "db", "d", "", "SQLite journal (overrides the journal section)")
	f.StringVar(&paperRunID, "run-id", "", "run ID written with every journal row")
	f.StringSliceVar(&paperSymbols, "symbols", nil, "symbols to trade (default: config symbols)")
}

func runPaper(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	over := func(c *config.Config) {
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if flags.Changed("data") {
			c.Session.DataPath = paperData
		}
		if flags.Changed("interval") {
			c.Session.Interval = paperInterval
		}
		if flags.Changed("db") {
			c.Journal = config.JournalConfig{Type: "sqlite", DBPath: paperDB, Kafka: c.Journal.Kafka}
		}
		if flags.Changed("run-id") {
			c.Session.RunID = paperRunID
		}
		if flags.Changed("symbols") {
			c.Symbols = paperSymbols
		}
	}

	ctx := cmd.Context()
	a := app.Paper(ctx, app.ConfigPath(cfgFile), over)
	if err := a.Err(); err != nil {
		return err
	}

	done := a.Done()
	if err := a.Start(ctx); err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		return err
	}
	logger.Info("paper session finished")
	return nil
}
