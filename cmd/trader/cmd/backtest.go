package cmd

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rustyeddy/sigtrader/backtest"
	"github.com/rustyeddy/sigtrader/journal"
	"github.com/rustyeddy/sigtrader/pkg/id"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay a signal dataset and report performance",
	Long: `Backtest replays a CSV of pre-computed signals bar by bar, applying stop
loss, take profit and fees, and reports the trade ledger, equity curve and
performance metrics.

Dataset columns:
  time,symbol,price,volume,action[,confidence,stop_loss,take_profit]

Example:
  trader backtest --bars data/btc.csv --out results/ --db ./trader.sqlite`,
	Args: cobra.NoArgs,
	RunE: runBacktest,
}

var (
	btBarsPath string
	btSymbol   string
	btFrom     string
	btTo       string
	btCapital  float64
	btOutDir   string
	btDBPath   string
	btOrgPath  string
	btName     string
	btRunID    string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	f := backtestCmd.Flags()
	f.StringVarP(&btBarsPath, "bars", "b", "", "path to signal CSV (required)")
	f.StringVarP(&btSymbol, "symbol", "s", "", "symbol to replay (default: first symbol in the file)")
	f.StringVar(&btFrom, "from", "", "first bar time, YYYY-MM-DD or RFC3339")
	f.StringVar(&btTo, "to", "", "end of the replay (exclusive), YYYY-MM-DD or RFC3339")
	f.Float64Var(&btCapital, "capital", 0, "initial capital (default: account.balance)")
	f.StringVarP(&btOutDir, "out", "o", "", "directory for trades.csv, equity.csv and report.json")
	f.StringVarP(&btDBPath, "db", "d", "", "SQLite journal to record the run into")
	f.StringVar(&btOrgPath, "org", "", "write an org-mode report to this path")
	f.StringVar(&btName, "name", "", "human readable run name")
	f.StringVar(&btRunID, "run-id", "", "run ID (default: a new ULID)")
	addParamFlags(f)

	_ = backtestCmd.MarkFlagRequired("bars")
}

// Replay parameter flags shared by backtest and compare. They override the
// backtest section of the config only when set.
var (
	pStopLoss      float64
	pTakeProfit    float64
	pFee           float64
	pSizePct       float64
	pMinConfidence float64
	pCloseAtEnd    bool
	pSeed          int64
)

func addParamFlags(f *pflag.FlagSet) {
	f.Float64Var(&pStopLoss, "stop-loss", 0, "stop loss percent")
	f.Float64Var(&pTakeProfit, "take-profit", 0, "take profit percent")
	f.Float64Var(&pFee, "fee", 0, "fee percent per leg")
	f.Float64Var(&pSizePct, "size-pct", 0, "position size as percent of balance")
	f.Float64Var(&pMinConfidence, "min-confidence", 0, "drop entries below this confidence")
	f.BoolVar(&pCloseAtEnd, "close-at-end", false, "close the open position on the last bar")
	f.Int64Var(&pSeed, "seed", 0, "seed for trade IDs")
}

func applyParamFlags(f *pflag.FlagSet, p backtest.Params) backtest.Params {
	if f.Changed("stop-loss") {
		p.StopLossPct = pStopLoss
	}
	if f.Changed("take-profit") {
		p.TakeProfitPct = pTakeProfit
	}
	if f.Changed("fee") {
		p.FeePct = pFee
	}
	if f.Changed("size-pct") {
		p.PositionSizePct = pSizePct
	}
	if f.Changed("min-confidence") {
		p.MinConfidence = pMinConfidence
	}
	if f.Changed("close-at-end") {
		p.CloseAtEnd = pCloseAtEnd
	}
	if f.Changed("seed") {
		p.Seed = pSeed
	}
	return p
}

// loadBars reads the dataset named by the shared flags.
func loadBars(path, symbol, from, to string) ([]backtest.Bar, string, error) {
	start, err := parseDate(from)
	if err != nil {
		return nil, "", err
	}
	end, err := parseDate(to)
	if err != nil {
		return nil, "", err
	}
	bars, sym, err := backtest.LoadBarsCSV(path, backtest.CSVFilter{Symbol: symbol, From: start, To: end})
	if err != nil {
		return nil, "", err
	}
	if len(bars) == 0 {
		return nil, "", errors.Errorf("no bars in %s for the requested symbol and range", path)
	}
	return bars, sym, nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	params := applyParamFlags(cmd.Flags(), cfg.Backtest)
	capital := cfg.Account.Balance
	if cmd.Flags().Changed("capital") {
		capital = btCapital
	}

	bars, sym, err := loadBars(btBarsPath, btSymbol, btFrom, btTo)
	if err != nil {
		return errors.Wrap(err, "load bars")
	}

	res, err := backtest.Run(cmd.Context(), sym, bars, capital, params, backtest.WithLogger(log))
	if err != nil {
		return errors.Wrap(err, "backtest")
	}
	if err := backtest.Reconcile(res); err != nil {
		log.Warn("ledger does not reconcile", zap.Error(err))
	}

	runID := btRunID
	if runID == "" {
		runID = id.New()
	}
	run := res.Run(runID, btName, btBarsPath)

	if btOutDir != "" {
		if err := backtest.WriteFiles(btOutDir, res); err != nil {
			return errors.Wrap(err, "write reports")
		}
	}

	if btDBPath != "" {
		if err := recordRun(btDBPath, res, run); err != nil {
			return err
		}
	}

	if btOrgPath != "" {
		run.OrgPath = btOrgPath
		if err := run.WriteBacktestOrg(); err != nil {
			return errors.Wrap(err, "write org report")
		}
	}

	backtest.PrintSummary(cmd.OutOrStdout(), run)
	if res.Open != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s position still open at the last bar\n", res.Open.Symbol)
	}
	return nil
}

func recordRun(path string, res backtest.Result, run journal.BacktestRun) error {
	j, err := journal.NewSQLite(path)
	if err != nil {
		return errors.Wrap(err, "open db")
	}
	defer j.Close()

	if err := res.RecordTo(j, run.RunID); err != nil {
		return errors.Wrap(err, "record ledger")
	}
	return errors.Wrap(j.RecordRun(run), "record run")
}
