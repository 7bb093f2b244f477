package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/sigtrader/backtest"
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Replay one dataset with several parameter sets",
	Long: `Compare runs the backtest once per combination of the listed stop loss,
take profit and position size values, in parallel, and prints one row per
parameter set.

Example:
  trader compare --bars data/btc.csv --sl 1,2,3 --tp 2,4,6`,
	Args: cobra.NoArgs,
	RunE: runCompare,
}

var (
	cmpBarsPath string
	cmpSymbol   string
	cmpFrom     string
	cmpTo       string
	cmpCapital  float64
	cmpSL       []float64
	cmpTP       []float64
	cmpSize     []float64
)

func init() {
	rootCmd.AddCommand(compareCmd)

	f := compareCmd.Flags()
	f.StringVarP(&cmpBarsPath, "bars", "b", "", "path to signal CSV (required)")
	f.StringVarP(&cmpSymbol, "symbol", "s", "", "symbol to replay (default: first symbol in the file)")
	f.StringVar(&cmpFrom, "from", "", "first bar time, YYYY-MM-DD or RFC3339")
	f.StringVar(&cmpTo, "to", "", "end of the replay (exclusive), YYYY-MM-DD or RFC3339")
	f.Float64Var(&cmpCapital, "capital", 0, "initial capital (default: account.balance)")
	f.Float64SliceVar(&cmpSL, "sl", nil, "stop loss percents to try (default: config value)")
	f.Float64SliceVar(&cmpTP, "tp", nil, "take profit percents to try (default: config value)")
	f.Float64SliceVar(&cmpSize, "size", nil, "position size percents to try (default: config value)")

	_ = compareCmd.MarkFlagRequired("bars")
}

// paramGrid expands every combination of the given values over base. An
// empty list keeps the base value.
func paramGrid(base backtest.Params, sl, tp, size []float64) map[string]backtest.Params {
	or := func(vs []float64, def float64) []float64 {
		if len(vs) == 0 {
			return []float64{def}
		}
		return vs
	}

	sets := make(map[string]backtest.Params)
	for _, s := range or(sl, base.StopLossPct) {
		for _, t := range or(tp, base.TakeProfitPct) {
			for _, z := range or(size, base.PositionSizePct) {
				p := base
				p.StopLossPct, p.TakeProfitPct, p.PositionSizePct = s, t, z
				sets[fmt.Sprintf("sl=%g tp=%g size=%g", s, t, z)] = p
			}
		}
	}
	return sets
}

func runCompare(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	capital := cfg.Account.Balance
	if cmd.Flags().Changed("capital") {
		capital = cmpCapital
	}

	bars, sym, err := loadBars(cmpBarsPath, cmpSymbol, cmpFrom, cmpTo)
	if err != nil {
		return errors.Wrap(err, "load bars")
	}

	sets := paramGrid(cfg.Backtest, cmpSL, cmpTP, cmpSize)
	for name, p := range sets {
		if err := p.Validate(); err != nil {
			return errors.Wrapf(err, "parameter set %q", name)
		}
	}

	names, results, err := backtest.Compare(cmd.Context(), sym, bars, capital, sets, log)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "PARAMS\tTRADES\tWIN%%\tRETURN%%\tPF\tMAX DD%%\tSHARPE\tFINAL\n")
	for i, name := range names {
		m := results[i].Metrics
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%s\t%.2f\t%.2f\t%.2f\n",
			name,
			m.TotalTrades,
			m.WinRate*100,
			m.TotalReturnPct,
			backtest.FormatProfitFactor(m.ProfitFactor),
			m.MaxDrawdownPct,
			m.SharpeRatio,
			results[i].FinalBalance,
		)
	}
	return tw.Flush()
}
