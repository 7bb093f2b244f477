package session

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rustyeddy/sigtrader/features"
	"github.com/rustyeddy/sigtrader/market"
	"github.com/rustyeddy/sigtrader/predict"
)

var ErrNoRecordedPrediction = errors.New("session: no recorded prediction")

// DefaultMaxHistory bounds the rolling price history handed out per symbol.
const DefaultMaxHistory = 200

type recorded struct {
	snap market.Snapshot
	pred *predict.Prediction
}

// CSVSource replays recorded cycles for paper trading:
//
//	time,symbol,price,volume[,direction,confidence]
//
// Each Snapshot call advances the symbol by one row and carries the prices
// of earlier rows as history. The optional prediction columns are served by
// Predict for the row most recently handed out.
type CSVSource struct {
	mu         sync.Mutex
	rows       map[string][]recorded
	pos        map[string]int
	history    map[string][]float64
	current    map[string]recorded
	maxHistory int
}

func LoadCSVSource(path string, maxHistory int) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	src, err := ReadCSVSource(f, maxHistory)
	return src, errors.Wrapf(err, "read %s", path)
}

func ReadCSVSource(r io.Reader, maxHistory int) (*CSVSource, error) {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	src := &CSVSource{
		rows:       make(map[string][]recorded),
		pos:        make(map[string]int),
		history:    make(map[string][]float64),
		current:    make(map[string]recorded),
		maxHistory: maxHistory,
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(row) == 0 {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}

		rec, err := parseRecorded(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		src.rows[rec.snap.Symbol] = append(src.rows[rec.snap.Symbol], rec)
	}
	return src, nil
}

func parseRecorded(row []string) (recorded, error) {
	if len(row) < 4 {
		return recorded{}, fmt.Errorf("need at least time,symbol,price,volume, got %d columns", len(row))
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}

	t, err := time.Parse(time.RFC3339Nano, row[0])
	if err != nil {
		return recorded{}, fmt.Errorf("bad time %q: %w", row[0], err)
	}
	if row[1] == "" {
		return recorded{}, fmt.Errorf("empty symbol")
	}
	price, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return recorded{}, fmt.Errorf("bad price %q: %w", row[2], err)
	}
	var vol float64
	if row[3] != "" {
		if vol, err = strconv.ParseFloat(row[3], 64); err != nil {
			return recorded{}, fmt.Errorf("bad volume %q: %w", row[3], err)
		}
	}

	rec := recorded{snap: market.Snapshot{Symbol: row[1], Time: t, Price: price, Volume: vol}}
	if len(row) >= 6 && row[4] != "" {
		dir, err := strconv.Atoi(row[4])
		if err != nil {
			return recorded{}, fmt.Errorf("bad direction %q: %w", row[4], err)
		}
		conf, err := strconv.ParseFloat(row[5], 64)
		if err != nil {
			return recorded{}, fmt.Errorf("bad confidence %q: %w", row[5], err)
		}
		rec.pred = &predict.Prediction{Direction: dir, Confidence: conf}
	}
	return rec, nil
}

// Symbols lists the symbols in the recording, sorted.
func (s *CSVSource) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rows))
	for sym := range s.rows {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s *CSVSource) Snapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return market.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.rows[symbol]
	if !ok {
		return market.Snapshot{}, fmt.Errorf("%s: %w", symbol, market.ErrNoData)
	}
	i := s.pos[symbol]
	if i >= len(rows) {
		return market.Snapshot{}, fmt.Errorf("%s: %w", symbol, ErrExhausted)
	}
	s.pos[symbol] = i + 1

	rec := rows[i]
	snap := rec.snap
	snap.History = append([]float64(nil), s.history[symbol]...)

	h := append(s.history[symbol], rec.snap.Price)
	if len(h) > s.maxHistory {
		h = h[len(h)-s.maxHistory:]
	}
	s.history[symbol] = h
	s.current[symbol] = rec
	return snap, nil
}

// Price is the price of the row most recently handed out for symbol.
func (s *CSVSource) Price(_ context.Context, symbol string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.current[symbol]
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, market.ErrNoData)
	}
	return rec.snap.Price, nil
}

// Predict serves the recorded prediction of the current row.
func (s *CSVSource) Predict(_ context.Context, symbol string, _ features.Set) (predict.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.current[symbol]
	if !ok || rec.pred == nil {
		return predict.Prediction{}, fmt.Errorf("%s: %w", symbol, ErrNoRecordedPrediction)
	}
	return *rec.pred, nil
}
