package backtest

import (
	"errors"
	"fmt"
	"math"
)

var ErrReconcile = errors.New("backtest: balance does not reconcile")

// ReconcileTolerance absorbs float accumulation error.
const ReconcileTolerance = 1e-6

// Reconcile checks final == initial + sum(pnl) - sum(commission), counting
// the entry commission of a position still open at the end.
func Reconcile(r Result) error {
	want := r.InitialCapital
	for _, t := range r.Trades {
		want += t.PnL - t.Commission
	}
	if r.Open != nil {
		want -= r.Open.EntryCommission
	}

	tol := ReconcileTolerance * math.Max(1, math.Abs(r.InitialCapital))
	if math.Abs(want-r.FinalBalance) > tol {
		return fmt.Errorf("%w: final %.8f, ledger %.8f", ErrReconcile, r.FinalBalance, want)
	}
	return nil
}
