package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	TradeHeader  = []string{"trade_id", "run_id", "symbol", "side", "quantity", "entry_price", "exit_price", "open_time", "close_time", "pnl", "pnl_pct", "commission", "reason"}
	EquityHeader = []string{"run_id", "symbol", "time", "balance", "equity"}
)

type CSVJournal struct {
	mu     sync.Mutex
	trades *csv.Writer
	equity *csv.Writer
	tf, ef *os.File
}

func NewCSV(tradesPath, equityPath string) (*CSVJournal, error) {
	tf, err := os.Create(tradesPath)
	if err != nil {
		return nil, errors.Wrap(err, "create trades csv")
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		tf.Close()
		return nil, errors.Wrap(err, "create equity csv")
	}

	j := &CSVJournal{trades: csv.NewWriter(tf), equity: csv.NewWriter(ef), tf: tf, ef: ef}
	if err := j.writeRow(j.trades, TradeHeader); err != nil {
		j.Close()
		return nil, err
	}
	if err := j.writeRow(j.equity, EquityHeader); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func (j *CSVJournal) writeRow(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return errors.Wrap(err, "write csv row")
	}
	w.Flush()
	return errors.Wrap(w.Error(), "flush csv")
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writeRow(j.trades, TradeRow(t))
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writeRow(j.equity, []string{
		e.RunID,
		e.Symbol,
		e.Time.UTC().Format(time.RFC3339Nano),
		f(e.Balance),
		f(e.Equity),
	})
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.trades.Flush()
	if err := j.trades.Error(); err != nil {
		return err
	}
	j.equity.Flush()
	if err := j.equity.Error(); err != nil {
		return err
	}

	if err := j.tf.Close(); err != nil {
		return err
	}
	return j.ef.Close()
}

// TradeRow renders t in TradeHeader column order.
func TradeRow(t TradeRecord) []string {
	return []string{
		t.TradeID,
		t.RunID,
		t.Symbol,
		t.Side,
		f(t.Quantity),
		f(t.EntryPrice),
		f(t.ExitPrice),
		t.OpenTime.UTC().Format(time.RFC3339Nano),
		t.CloseTime.UTC().Format(time.RFC3339Nano),
		f(t.PnL),
		f(t.PnLPct),
		f(t.Commission),
		t.Reason,
	}
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
