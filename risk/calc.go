package risk

import "math"

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PlannedRisk is the account-currency loss if the stop is hit.
func PlannedRisk(quantity, entry, stop float64) float64 {
	if stop == 0 {
		return 0
	}
	return quantity * abs(entry-stop)
}

func RR(entry, stop, takeProfit float64) float64 {
	risk := abs(entry - stop)
	if risk == 0 || takeProfit == 0 {
		return 0
	}
	return abs(takeProfit-entry) / risk
}

func RiskPct(plannedRisk, balance float64) float64 {
	if balance <= 0 {
		return math.Inf(1)
	}
	return plannedRisk / balance
}

// Commission is the fee paid on one leg of a fill. feePct is a percentage.
func Commission(quantity, price, feePct float64) float64 {
	return quantity * price * feePct / 100
}
