package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNoData = errors.New("market: no data for symbol")

type SnapshotSource interface {
	Snapshot(ctx context.Context, symbol string) (Snapshot, error)
}

type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// QuoteSource is a PriceSource that also knows when the price was observed.
type QuoteSource interface {
	PriceSource
	Quote(ctx context.Context, symbol string) (float64, time.Time, error)
}

// Store keeps the latest snapshot per symbol. It satisfies QuoteSource so a
// position monitor can read prices published by the data collaborator.
type Store struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

func NewStore() *Store {
	return &Store{snaps: make(map[string]Snapshot)}
}

func (st *Store) Set(s Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.snaps[s.Symbol] = s
}

func (st *Store) Get(symbol string) (Snapshot, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.snaps[symbol]
	if !ok {
		return Snapshot{}, ErrNoData
	}
	return s, nil
}

func (st *Store) Snapshot(_ context.Context, symbol string) (Snapshot, error) {
	return st.Get(symbol)
}

func (st *Store) Price(_ context.Context, symbol string) (float64, error) {
	s, err := st.Get(symbol)
	if err != nil {
		return 0, err
	}
	return s.Price, nil
}

func (st *Store) Quote(_ context.Context, symbol string) (float64, time.Time, error) {
	s, err := st.Get(symbol)
	if err != nil {
		return 0, time.Time{}, err
	}
	return s.Price, s.Time, nil
}
