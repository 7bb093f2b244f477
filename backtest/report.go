package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/rustyeddy/sigtrader/journal"
	"github.com/rustyeddy/sigtrader/position"
)

var TradesHeader = []string{"id", "entry_time", "exit_time", "side", "entry_price", "exit_price", "quantity", "pnl_pct", "pnl", "commission", "reason"}

var EquityHeader = []string{"time", "balance"}

// TradeReport is the per-trade row of a report.
type TradeReport struct {
	ID         string    `json:"id"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	PnLPct     float64   `json:"pnl_pct"`
	PnL        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
	Reason     string    `json:"reason"`
}

func toReport(t position.Trade) TradeReport {
	return TradeReport{
		ID:         t.ID,
		EntryTime:  t.OpenedAt.UTC(),
		ExitTime:   t.ClosedAt.UTC(),
		Side:       t.Side.String(),
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Quantity:   t.Quantity,
		PnLPct:     t.PnLPct,
		PnL:        t.PnL,
		Commission: t.Commission,
		Reason:     string(t.ExitReason),
	}
}

// Report is the JSON document written by WriteJSON.
type Report struct {
	Result
	Trades []TradeReport `json:"trades"`
	Equity []EquityPoint `json:"equity"`
}

func (r Result) Report() Report {
	trades := make([]TradeReport, 0, len(r.Trades))
	for _, t := range r.Trades {
		trades = append(trades, toReport(t))
	}
	equity := make([]EquityPoint, 0, len(r.Equity))
	for _, p := range r.Equity {
		equity = append(equity, EquityPoint{Time: p.Time.UTC(), Balance: p.Balance})
	}
	return Report{Result: r, Trades: trades, Equity: equity}
}

func ff(x float64) string { return strconv.FormatFloat(x, 'f', 6, 64) }

func WriteTradesCSV(w io.Writer, r Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TradesHeader); err != nil {
		return err
	}
	for _, t := range r.Trades {
		tr := toReport(t)
		if err := cw.Write([]string{
			tr.ID,
			tr.EntryTime.Format(time.RFC3339Nano),
			tr.ExitTime.Format(time.RFC3339Nano),
			tr.Side,
			ff(tr.EntryPrice),
			ff(tr.ExitPrice),
			ff(tr.Quantity),
			ff(tr.PnLPct),
			ff(tr.PnL),
			ff(tr.Commission),
			tr.Reason,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteEquityCSV(w io.Writer, r Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(EquityHeader); err != nil {
		return err
	}
	for _, p := range r.Equity {
		if err := cw.Write([]string{p.Time.UTC().Format(time.RFC3339Nano), ff(p.Balance)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the full report. Infinite profit factors are encoded
// as "+Inf".
func WriteJSON(w io.Writer, r Result) error {
	data, err := sonic.ConfigStd.MarshalIndent(r.Report(), "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode report")
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// WriteFiles writes trades.csv, equity.csv and report.json under dir.
func WriteFiles(dir string, r Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	for name, write := range map[string]func(io.Writer, Result) error{
		"trades.csv":  WriteTradesCSV,
		"equity.csv":  WriteEquityCSV,
		"report.json": WriteJSON,
	} {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "create %s", path)
		}
		if err := write(f, r); err != nil {
			f.Close()
			return errors.Wrapf(err, "write %s", path)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Run summarises the result as a journal row.
func (r Result) Run(runID, name, dataset string) journal.BacktestRun {
	params, _ := sonic.ConfigStd.Marshal(r.Params)
	return journal.BacktestRun{
		RunID:        runID,
		Created:      time.Now(),
		Name:         name,
		Symbol:       r.Symbol,
		Dataset:      dataset,
		Params:       params,
		Start:        r.Start,
		End:          r.End,
		Trades:       r.Metrics.TotalTrades,
		Wins:         r.Metrics.WinningTrades,
		Losses:       r.Metrics.LosingTrades,
		StartBalance: r.InitialCapital,
		EndBalance:   r.FinalBalance,
		NetPL:        r.FinalBalance - r.InitialCapital,
		ReturnPct:    r.Metrics.TotalReturnPct,
		WinRate:      r.Metrics.WinRate,
		ProfitFactor: r.Metrics.ProfitFactor,
		MaxDDPct:     r.Metrics.MaxDrawdownPct,
		Sharpe:       r.Metrics.SharpeRatio,
	}
}

// RecordTo writes every trade and equity point to j.
func (r Result) RecordTo(j journal.Journal, runID string) error {
	for _, t := range r.Trades {
		if err := j.RecordTrade(journal.FromTrade(t, runID)); err != nil {
			return err
		}
	}
	for _, p := range r.Equity {
		if err := j.RecordEquity(journal.EquitySnapshot{
			RunID:   runID,
			Symbol:  r.Symbol,
			Time:    p.Time,
			Balance: p.Balance,
			Equity:  p.Balance,
		}); err != nil {
			return err
		}
	}
	return nil
}

func PrintSummary(w io.Writer, r journal.BacktestRun) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:        %s\n", r.RunID)
	if r.Name != "" {
		fmt.Fprintf(w, "Name:          %s\n", r.Name)
	}
	fmt.Fprintf(w, "Symbol:        %s\n", r.Symbol)
	fmt.Fprintf(w, "Dataset:       %s\n", r.Dataset)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", r.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", r.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", r.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", r.WinRate*100)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Balance: %.2f\n", r.StartBalance)
	fmt.Fprintf(w, "End Balance:   %.2f\n", r.EndBalance)
	fmt.Fprintf(w, "Net P/L:       %.2f\n", r.NetPL)
	fmt.Fprintf(w, "Return:        %.2f%%\n", r.ReturnPct)
	fmt.Fprintf(w, "Profit Factor: %s\n", FormatProfitFactor(r.ProfitFactor))
	fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", r.MaxDDPct)
	fmt.Fprintf(w, "Sharpe:        %.2f\n", r.Sharpe)

	if r.OrgPath != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Org Report:    %s\n", r.OrgPath)
	}
}

// FormatProfitFactor renders pf with two decimals, or "+Inf".
func FormatProfitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return infString
	}
	return fmt.Sprintf("%.2f", pf)
}
