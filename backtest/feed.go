package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/rustyeddy/sigtrader/signal"
)

// CSVFilter narrows the rows LoadBarsCSV keeps. An empty Symbol locks onto
// the first symbol seen. Zero From/To leave that end open; To is exclusive.
type CSVFilter struct {
	Symbol string
	From   time.Time
	To     time.Time
}

// LoadBarsCSV reads a replay dataset:
//
//	time,symbol,price,volume,action[,confidence,stop_loss,take_profit]
//
// where time is RFC3339 or RFC3339Nano. A header row ("time,...") is
// allowed and empty rows are skipped. It returns the bars and the symbol
// they belong to.
func LoadBarsCSV(path string, f CSVFilter) ([]Bar, string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "open %s", path)
	}
	defer fh.Close()

	bars, sym, err := ReadBarsCSV(fh, f)
	if err != nil {
		return nil, "", errors.Wrapf(err, "read %s", path)
	}
	return bars, sym, nil
}

func ReadBarsCSV(r io.Reader, f CSVFilter) ([]Bar, string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var (
		bars     []Bar
		symbol   = f.Symbol
		sawFirst bool
		line     int
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", err
		}
		line++
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}

		if !sawFirst {
			sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "time") {
				continue
			}
		}

		sym, b, ok, err := parseBarRow(row)
		if err != nil {
			return nil, "", fmt.Errorf("line %d: %w", line, err)
		}
		if !ok {
			continue
		}
		if symbol == "" {
			symbol = sym
		}
		if sym != symbol || !inRange(b.Time, f.From, f.To) {
			continue
		}
		bars = append(bars, b)
	}
	return bars, symbol, nil
}

func parseBarRow(row []string) (string, Bar, bool, error) {
	// Need at least: time,symbol,price,volume,action
	if len(row) < 5 {
		return "", Bar{}, false, nil
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}

	if row[0] == "" || row[1] == "" {
		return "", Bar{}, false, nil
	}
	t, err := parseTime(row[0])
	if err != nil {
		return "", Bar{}, false, err
	}

	price, err := parseFinite(row[2])
	if err != nil {
		return "", Bar{}, false, fmt.Errorf("bad price %q: %w", row[2], err)
	}
	var vol float64
	if row[3] != "" {
		if vol, err = parseFinite(row[3]); err != nil {
			return "", Bar{}, false, fmt.Errorf("bad volume %q: %w", row[3], err)
		}
	}
	action, err := signal.ParseAction(row[4])
	if err != nil {
		return "", Bar{}, false, err
	}

	b := Bar{Time: t, Price: price, Volume: vol, Action: action}
	opt := []struct {
		name string
		dst  **float64
	}{
		{"confidence", &b.Confidence},
		{"stop_loss", &b.StopLoss},
		{"take_profit", &b.TakeProfit},
	}
	for i, o := range opt {
		col := 5 + i
		if col >= len(row) || row[col] == "" {
			continue
		}
		v, err := parseFinite(row[col])
		if err != nil {
			return "", Bar{}, false, fmt.Errorf("bad %s %q: %w", o.name, row[col], err)
		}
		*o.dst = &v
	}
	return row[1], b, true, nil
}

var errNotFinite = errors.New("not a finite number")

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}

// parseTime accepts RFC3339 or RFC3339Nano.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
		}
		t = t2
	}
	return t, nil
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
