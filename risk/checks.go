package risk

import (
	"fmt"
	"strings"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	PlannedRisk    float64
	PlannedRiskPct float64
	PlannedRR      float64
	Commission     float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Codes joins the violation codes for logging.
func (d Decision) Codes() string {
	codes := make([]string, 0, len(d.Violations))
	for _, v := range d.Violations {
		codes = append(codes, v.Code)
	}
	return strings.Join(codes, ",")
}

// Check is the last admission step before a position is opened.
func (s *Sizer) Check(in Intent) Decision {
	d := Decision{Allowed: true}

	if in.Entry <= 0 {
		d.add("NO_ENTRY", "entry must be positive")
		return d
	}
	if in.Quantity <= 0 {
		d.add("NO_UNITS", "quantity must be positive")
		return d
	}
	if in.Side != Long && in.Side != Short {
		d.add("NO_SIDE", "side must be LONG or SHORT")
		return d
	}

	if in.Stop == 0 && s.cfg.Method == FixedStop {
		d.add("NO_STOP", "fixed_stop sizing needs a stop")
	}
	if in.Stop != 0 && float64(in.Side)*(in.Entry-in.Stop) <= 0 {
		d.add("STOP_WRONG_SIDE",
			fmt.Sprintf("stop %.5f is not on the losing side of entry %.5f for %s", in.Stop, in.Entry, in.Side))
	}
	if in.TakeProfit != 0 && float64(in.Side)*(in.TakeProfit-in.Entry) <= 0 {
		d.add("TAKE_WRONG_SIDE",
			fmt.Sprintf("take profit %.5f is not on the winning side of entry %.5f for %s", in.TakeProfit, in.Entry, in.Side))
	}

	d.Commission = Commission(in.Quantity, in.Entry, in.FeePct)
	if d.Commission > in.Balance {
		d.add("COMMISSION_EXCEEDS_BALANCE",
			fmt.Sprintf("entry commission %.2f exceeds balance %.2f", d.Commission, in.Balance))
	}

	d.PlannedRisk = PlannedRisk(in.Quantity, in.Entry, in.Stop)
	d.PlannedRiskPct = RiskPct(d.PlannedRisk, in.Balance)
	d.PlannedRR = RR(in.Entry, in.Stop, in.TakeProfit)

	return d
}
