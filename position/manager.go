package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/sigtrader/market"
	"github.com/rustyeddy/sigtrader/pkg/id"
	"github.com/rustyeddy/sigtrader/risk"
	"github.com/rustyeddy/sigtrader/signal"
)

var (
	ErrNoPosition    = errors.New("position: no open position")
	ErrInvalidConfig = errors.New("position: invalid config")
)

type Config struct {
	MinIntervalSeconds int     `mapstructure:"min_trade_interval_seconds" yaml:"min_trade_interval_seconds" json:"min_trade_interval_seconds"`
	FeePct             float64 `mapstructure:"fee_pct" yaml:"fee_pct" json:"fee_pct"`
}

func DefaultConfig() Config {
	return Config{MinIntervalSeconds: 60, FeePct: 0.1}
}

// MinInterval is the re-entry gap after a trade on a symbol.
func (c Config) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalSeconds) * time.Second
}

func (c Config) Validate() error {
	if c.MinIntervalSeconds < 0 {
		return fmt.Errorf("%w: min_trade_interval_seconds must be >= 0, got %d", ErrInvalidConfig, c.MinIntervalSeconds)
	}
	if c.FeePct < 0 || c.FeePct >= 100 {
		return fmt.Errorf("%w: fee_pct must be in [0,100), got %v", ErrInvalidConfig, c.FeePct)
	}
	return nil
}

// Listener observes lifecycle transitions. It is called after the manager
// lock is released, so it may call back into the Manager.
type Listener interface {
	OnPositionOpened(p Position)
	OnTradeClosed(t Trade)
}

// ListenerFuncs adapts plain functions. Nil fields are skipped.
type ListenerFuncs struct {
	Opened func(Position)
	Closed func(Trade)
}

func (l ListenerFuncs) OnPositionOpened(p Position) {
	if l.Opened != nil {
		l.Opened(p)
	}
}

func (l ListenerFuncs) OnTradeClosed(t Trade) {
	if l.Closed != nil {
		l.Closed(t)
	}
}

// Drop reasons reported in Outcome.Dropped.
const (
	DropThrottled    = "throttled"
	DropSameSide     = "same_side"
	DropZeroQuantity = "zero_quantity"
	DropRejected     = "rejected"
	DropBadPrice     = "bad_price"
)

// Outcome reports what Execute did. All fields are zero for a HOLD.
type Outcome struct {
	Opened  *Position
	Closed  *Trade
	Dropped string
}

type state struct {
	pos       *Position
	lastTrade time.Time
	traded    bool
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithIDs sets the trade ID source. Replays pass a seeded id.Generator.
func WithIDs(src id.Source) Option {
	return func(m *Manager) {
		if src != nil {
			m.ids = src
		}
	}
}

// WithClock sets the time used when a signal carries no timestamp and for
// Monitor closes.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithListener(l Listener) Option {
	return func(m *Manager) {
		if l != nil {
			m.listeners = append(m.listeners, l)
		}
	}
}

// Manager owns the open positions and the balance of one account. Every
// read-modify-write of a position happens under mu.
type Manager struct {
	mu        sync.Mutex
	cfg       Config
	sizer     *risk.Sizer
	balance   float64
	states    map[string]*state
	ids       id.Source
	now       func() time.Time
	log       *zap.Logger
	listeners []Listener
}

func NewManager(cfg Config, sizer *risk.Sizer, balance float64, opts ...Option) *Manager {
	m := &Manager{
		cfg:     cfg,
		sizer:   sizer,
		balance: balance,
		states:  make(map[string]*state),
		ids:     id.Clock{},
		now:     time.Now,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Config() Config { return m.cfg }

// AddListener registers l for all future transitions.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) Balance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance
}

// Position returns a copy of the open position for symbol.
func (m *Manager) Position(symbol string) (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[symbol]
	if !ok || st.pos == nil {
		return Position{}, false
	}
	return *st.pos, true
}

// OpenPositions returns copies of all open positions ordered by symbol.
func (m *Manager) OpenPositions() []Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Position, 0, len(m.states))
	for _, st := range m.states {
		if st.pos != nil {
			out = append(out, *st.pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (m *Manager) stateLocked(symbol string) *state {
	st, ok := m.states[symbol]
	if !ok {
		st = &state{}
		m.states[symbol] = st
	}
	return st
}

// Execute applies one signal. HOLD is a no-op. With no open position a
// BUY/SELL opens one unless the re-entry interval since the last trade on the
// symbol has not elapsed. With an open position the same side is dropped and
// the opposite side closes it as a signal reversal; it never flips in the
// same call.
func (m *Manager) Execute(sig signal.Signal) Outcome {
	side, ok := sig.Action.Side()
	if !ok {
		return Outcome{}
	}

	at := sig.Time
	if at.IsZero() {
		at = m.now()
	}

	m.mu.Lock()
	out := m.executeLocked(sig, side, at)
	listeners := m.listeners
	m.mu.Unlock()

	if out.Dropped != "" {
		m.log.Info("decision dropped",
			zap.String("symbol", sig.Symbol),
			zap.String("action", string(sig.Action)),
			zap.String("reason", out.Dropped),
		)
	}
	notify(listeners, out)
	return out
}

func (m *Manager) executeLocked(sig signal.Signal, side risk.Side, at time.Time) Outcome {
	if !validPrice(sig.Price) {
		return Outcome{Dropped: DropBadPrice}
	}

	st := m.stateLocked(sig.Symbol)

	if st.pos != nil {
		if st.pos.Side == side {
			return Outcome{Dropped: DropSameSide}
		}
		t := m.closeLocked(st, sig.Price, at, SignalReversal)
		return Outcome{Closed: &t}
	}

	if st.traded && at.Sub(st.lastTrade) < m.cfg.MinInterval() {
		return Outcome{Dropped: DropThrottled}
	}

	entry := sig.Price
	stop := m.sizer.StopLossFor(entry, side)
	if sig.StopLoss != nil {
		stop = *sig.StopLoss
	}
	take := m.sizer.TakeProfitFor(entry, side)
	if sig.TakeProfit != nil {
		take = *sig.TakeProfit
	}

	qty := m.sizer.Quantity(risk.Request{
		Symbol:     sig.Symbol,
		Balance:    m.balance,
		Entry:      entry,
		Stop:       stop,
		Volatility: sig.Volatility,
	})
	if qty <= 0 {
		return Outcome{Dropped: DropZeroQuantity}
	}

	d := m.sizer.Check(risk.Intent{
		Symbol:     sig.Symbol,
		Side:       side,
		Quantity:   qty,
		Entry:      entry,
		Stop:       stop,
		TakeProfit: take,
		Balance:    m.balance,
		FeePct:     m.cfg.FeePct,
	})
	if !d.Allowed {
		m.log.Warn("entry rejected",
			zap.String("symbol", sig.Symbol),
			zap.String("violations", d.Codes()),
		)
		return Outcome{Dropped: DropRejected}
	}

	pos := &Position{
		Symbol:          sig.Symbol,
		Side:            side,
		EntryPrice:      entry,
		Quantity:        qty,
		StopLoss:        stop,
		TakeProfit:      take,
		OpenedAt:        at,
		EntryCommission: d.Commission,
	}
	m.balance -= d.Commission
	st.pos = pos
	st.lastTrade = at
	st.traded = true

	opened := *pos
	return Outcome{Opened: &opened}
}

// Check evaluates the stop then the take-profit of the open position on
// symbol at price. It returns the closed trade, or nil.
func (m *Manager) Check(symbol string, price float64, at time.Time) *Trade {
	if !validPrice(price) {
		return nil
	}
	if at.IsZero() {
		at = m.now()
	}

	m.mu.Lock()
	st, ok := m.states[symbol]
	if !ok || st.pos == nil {
		m.mu.Unlock()
		return nil
	}

	var reason ExitReason
	switch {
	case st.pos.hitStopLoss(price):
		reason = StopLoss
	case st.pos.hitTakeProfit(price):
		reason = TakeProfit
	default:
		m.mu.Unlock()
		return nil
	}

	t := m.closeLocked(st, price, at, reason)
	listeners := m.listeners
	m.mu.Unlock()

	notify(listeners, Outcome{Closed: &t})
	return &t
}

// Monitor runs Check for every open position at the price from prices. A
// symbol whose price cannot be fetched is skipped for this cycle and stays
// open. Exits are stamped with the quote time when prices is a
// market.QuoteSource, otherwise with the manager clock.
func (m *Manager) Monitor(ctx context.Context, prices market.PriceSource) []Trade {
	var closed []Trade
	for _, p := range m.OpenPositions() {
		if ctx.Err() != nil {
			break
		}
		px, at, err := quote(ctx, prices, p.Symbol)
		if err != nil {
			m.log.Warn("monitor skipped",
				zap.String("symbol", p.Symbol),
				zap.Error(err),
			)
			continue
		}
		if t := m.Check(p.Symbol, px, at); t != nil {
			closed = append(closed, *t)
		}
	}
	return closed
}

func quote(ctx context.Context, prices market.PriceSource, symbol string) (float64, time.Time, error) {
	if qs, ok := prices.(market.QuoteSource); ok {
		return qs.Quote(ctx, symbol)
	}
	px, err := prices.Price(ctx, symbol)
	return px, time.Time{}, err
}

// Close exits the open position on symbol at price with reason manual.
func (m *Manager) Close(symbol string, price float64, at time.Time) (Trade, error) {
	if !validPrice(price) {
		return Trade{}, fmt.Errorf("position: close %s: bad price %v", symbol, price)
	}
	if at.IsZero() {
		at = m.now()
	}

	m.mu.Lock()
	st, ok := m.states[symbol]
	if !ok || st.pos == nil {
		m.mu.Unlock()
		return Trade{}, fmt.Errorf("close %s: %w", symbol, ErrNoPosition)
	}
	t := m.closeLocked(st, price, at, Manual)
	listeners := m.listeners
	m.mu.Unlock()

	notify(listeners, Outcome{Closed: &t})
	return t, nil
}

// closeLocked settles the position and moves the symbol back to NONE before
// the re-entry timer is reset.
func (m *Manager) closeLocked(st *state, price float64, at time.Time, reason ExitReason) Trade {
	pos := st.pos

	pnl := pos.UnrealizedPnL(price)
	exitComm := risk.Commission(pos.Quantity, price, m.cfg.FeePct)
	if m.balance+pnl-exitComm < 0 {
		m.log.Warn("loss exceeds balance, clamping",
			zap.String("symbol", pos.Symbol),
			zap.Float64("pnl", pnl),
			zap.Float64("balance", m.balance),
		)
		if pnl < -m.balance {
			pnl = -m.balance
		}
		exitComm = m.balance + pnl
	}
	m.balance += pnl - exitComm

	t := Trade{
		ID:         m.ids.At(at),
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Quantity:   pos.Quantity,
		OpenedAt:   pos.OpenedAt,
		ClosedAt:   at,
		ExitReason: reason,
		PnLPct:     pnlPct(pos.Side, pos.EntryPrice, price),
		PnL:        pnl,
		Commission: pos.EntryCommission + exitComm,
	}

	st.pos = nil
	st.lastTrade = at
	st.traded = true
	return t
}

// validPrice rejects zero, negative, NaN and infinite prices.
func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0)
}

func notify(listeners []Listener, out Outcome) {
	for _, l := range listeners {
		if out.Closed != nil {
			l.OnTradeClosed(*out.Closed)
		}
		if out.Opened != nil {
			l.OnPositionOpened(*out.Opened)
		}
	}
}
