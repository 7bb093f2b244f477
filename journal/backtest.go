package journal

import (
	"bytes"
	"database/sql"
	"math"
	"os"
	"text/template"
	"time"

	"github.com/pkg/errors"
)

// BacktestRun is one row of backtest_runs and the data behind the Org report.
type BacktestRun struct {
	RunID   string
	Created time.Time
	Name    string
	Symbol  string
	Dataset string
	Params  []byte // JSON encoded replay parameters

	Start time.Time
	End   time.Time

	Trades int
	Wins   int
	Losses int

	StartBalance float64
	EndBalance   float64

	NetPL        float64
	ReturnPct    float64
	WinRate      float64
	ProfitFactor float64
	MaxDDPct     float64
	Sharpe       float64

	OrgPath   string
	EquityPNG string

	Notes       []string
	NextActions []string
}

var backtestOrgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"isInf":  func(x float64) bool { return math.IsInf(x, 1) },
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
}

// RenderOrg executes BacktestOrgTemplate for v.
func (v *BacktestRun) RenderOrg() ([]byte, error) {
	t, err := template.New("backtest").Funcs(backtestOrgFuncs).Parse(BacktestOrgTemplate)
	if err != nil {
		return nil, errors.Wrap(err, "parse org template")
	}

	buf := new(bytes.Buffer)
	if err := t.Execute(buf, v); err != nil {
		return nil, errors.Wrap(err, "render org template")
	}
	return buf.Bytes(), nil
}

func (v *BacktestRun) WriteBacktestOrg() error {
	if v.OrgPath == "" {
		return errors.New("backtest run has no org path")
	}
	out, err := v.RenderOrg()
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(v.OrgPath, out, 0o644), "write %s", v.OrgPath)
}

// RecordRun stores the run summary. An infinite profit factor is stored as -1.
func (j *SQLite) RecordRun(r BacktestRun) error {
	pf := r.ProfitFactor
	if math.IsInf(pf, 1) {
		pf = -1
	}
	created := r.Created
	if created.IsZero() {
		created = time.Now()
	}
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO backtest_runs
		(run_id, created, name, symbol, dataset, params, start_time, end_time, trades, wins, losses,
		 start_balance, end_balance, return_pct, win_rate, profit_factor, max_dd_pct, sharpe)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, created.UTC(), r.Name, r.Symbol, r.Dataset, string(r.Params),
		r.Start.UTC(), r.End.UTC(), r.Trades, r.Wins, r.Losses,
		r.StartBalance, r.EndBalance, r.ReturnPct, r.WinRate, pf, r.MaxDDPct, r.Sharpe,
	)
	return errors.Wrapf(err, "insert run %s", r.RunID)
}

func (j *SQLite) GetRun(runID string) (BacktestRun, error) {
	var (
		r      BacktestRun
		params string
	)
	err := j.db.QueryRow(`
		SELECT run_id, created, name, symbol, dataset, params, start_time, end_time, trades, wins, losses,
		       start_balance, end_balance, return_pct, win_rate, profit_factor, max_dd_pct, sharpe
		FROM backtest_runs WHERE run_id = ?`, runID).Scan(
		&r.RunID, &r.Created, &r.Name, &r.Symbol, &r.Dataset, &params, &r.Start, &r.End,
		&r.Trades, &r.Wins, &r.Losses, &r.StartBalance, &r.EndBalance,
		&r.ReturnPct, &r.WinRate, &r.ProfitFactor, &r.MaxDDPct, &r.Sharpe,
	)
	if err == sql.ErrNoRows {
		return BacktestRun{}, errors.Wrapf(ErrNotFound, "run %q", runID)
	}
	if err != nil {
		return BacktestRun{}, err
	}
	if r.ProfitFactor < 0 {
		r.ProfitFactor = math.Inf(1)
	}
	r.Params = []byte(params)
	r.NetPL = r.EndBalance - r.StartBalance
	return r, nil
}

const BacktestOrgTemplate = `
* BACKTEST: {{if .Name}}{{.Name}}{{else}}signal replay{{end}} {{.Symbol}}
:PROPERTIES:
:RUN_ID:      {{if .RunID}}{{.RunID}}{{else}}(run-id?){{end}}
:SYMBOL:      {{.Symbol}}
:DATASET:     {{if .Dataset}}{{.Dataset}}{{else}}(dataset?){{end}}
:START_DATE:  {{.Start.Format "2006-01-02"}}
:END_DATE:    {{.End.Format "2006-01-02"}}
:START_BAL:   {{printf "%.2f" .StartBalance}}
:END_BAL:     {{printf "%.2f" .EndBalance}}
:NET_PL:      {{printf "%.2f" .NetPL}}
:RETURN_PCT:  {{printf "%.2f" .ReturnPct}}
:MAX_DD_PCT:  {{printf "%.2f" .MaxDDPct}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WIN_RATE:    {{printf "%.2f" .WinRate}}
:PROFIT_FAC:  {{if isInf .ProfitFactor}}+Inf{{else}}{{printf "%.2f" .ProfitFactor}}{{end}}
:SHARPE:      {{printf "%.2f" .Sharpe}}
:CREATED:     [{{(orTime .Created).Format "2006-01-02 Mon 15:04"}}]
:END:

** Parameters
#+begin_src json
{{printf "%s" .Params}}
#+end_src

** Performance Summary
- Net P/L:          *{{printf "%.2f" .NetPL}}*
- Return:           *{{printf "%.2f" .ReturnPct}}%*
- Max Drawdown:     *{{printf "%.2f" .MaxDDPct}}%*
- Win Rate:         *{{printf "%.2f" (mul100 .WinRate)}}%*
- Profit Factor:    *{{if isInf .ProfitFactor}}+Inf{{else}}{{printf "%.2f" .ProfitFactor}}{{end}}*
- Sharpe:           *{{printf "%.2f" .Sharpe}}*

** Equity Curve
{{- if .EquityPNG }}
[[file:{{.EquityPNG}}]]
{{- else }}
# (optional) insert an exported equity curve image here
{{- end }}

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Wins}} |
| Losses  | {{.Losses}} |
| Total   | {{.Trades}} |

{{- if .Notes }}
** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}

{{- if .NextActions }}
** Notes / Next Actions
{{- range .NextActions }}
- [ ] {{.}}
{{- end }}
{{- end }}
`
