package cmd

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/sigtrader/backtest"
	"github.com/rustyeddy/sigtrader/journal"
	"github.com/rustyeddy/sigtrader/risk"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query trade journal data",
	Long: `Query and display trade journal records from a SQLite database.

Subcommands:
  trade   - Details of a single trade
  trades  - All trades of a run
  today   - Trades closed today
  day     - Trades closed on a given day
  run     - Summary of a recorded backtest run

Examples:
  trader journal trade 01HX3Y...
  trader journal trades --run paper
  trader journal day 2024-01-15`,
}

var journalTradeCmd = &cobra.Command{
	Use:   "trade <trade-id>",
	Short: "Get details of a specific trade",
	Args:  cobra.ExactArgs(1),
	RunE: withJournal(func(cmd *cobra.Command, j *journal.SQLite, args []string) error {
		rec, err := j.GetTrade(args[0])
		if err != nil {
			return errors.Wrap(err, "get trade")
		}
		fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(rec))
		return nil
	}),
}

var journalTradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List the trades of a run",
	Args:  cobra.NoArgs,
	RunE: withJournal(func(cmd *cobra.Command, j *journal.SQLite, args []string) error {
		recs, err := j.ListTrades(journalRunID)
		if err != nil {
			return errors.Wrap(err, "query trades")
		}
		if journalSide != "" {
			side, err := risk.ParseSide(journalSide)
			if err != nil {
				return err
			}
			kept := recs[:0]
			for _, r := range recs {
				if r.Side == side.String() {
					kept = append(kept, r)
				}
			}
			recs = kept
		}
		fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradesOrg(recs))
		return nil
	}),
}

var journalTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "List trades closed today",
	Args:  cobra.NoArgs,
	RunE: withJournal(func(cmd *cobra.Command, j *journal.SQLite, args []string) error {
		return printDay(cmd, j, time.Now().In(time.Local).Format("2006-01-02"))
	}),
}

var journalDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "List trades closed on a specific day",
	Args:  cobra.ExactArgs(1),
	RunE: withJournal(func(cmd *cobra.Command, j *journal.SQLite, args []string) error {
		return printDay(cmd, j, args[0])
	}),
}

var journalRunCmd = &cobra.Command{
	Use:   "run <run-id>",
	Short: "Show a recorded backtest run",
	Args:  cobra.ExactArgs(1),
	RunE: withJournal(func(cmd *cobra.Command, j *journal.SQLite, args []string) error {
		run, err := j.GetRun(args[0])
		if err != nil {
			return errors.Wrap(err, "get run")
		}
		backtest.PrintSummary(cmd.OutOrStdout(), run)
		return nil
	}),
}

var (
	journalDBPath string
	journalRunID  string
	journalSide   string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalTradeCmd, journalTradesCmd, journalTodayCmd, journalDayCmd, journalRunCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "./trader.sqlite", "path to SQLite journal DB")
	journalTradesCmd.Flags().StringVar(&journalRunID, "run", "", "run ID (required)")
	journalTradesCmd.Flags().StringVar(&journalSide, "side", "", "only LONG or SHORT trades (BUY/SELL accepted)")
	_ = journalTradesCmd.MarkFlagRequired("run")
}

func withJournal(fn func(*cobra.Command, *journal.SQLite, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		j, err := journal.NewSQLite(journalDBPath)
		if err != nil {
			return errors.Wrap(err, "open db")
		}
		defer j.Close()
		return fn(cmd, j, args)
	}
}

func printDay(cmd *cobra.Command, j *journal.SQLite, day string) error {
	start, end, err := dayBounds(time.Local, day)
	if err != nil {
		return errors.Wrap(err, "date")
	}
	recs, err := j.ListTradesClosedBetween(start, end)
	if err != nil {
		return errors.Wrap(err, "query trades")
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradesOrg(recs))
	return nil
}

func dayBounds(loc *time.Location, day string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}
