package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type State int

const (
	Inactive State = iota
	Active
	Paused
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Paused:
		return "paused"
	}
	return "inactive"
}

var ErrNotRunning = errors.New("session: not running")

const (
	DefaultInterval     = time.Minute
	DefaultCycleTimeout = 30 * time.Second
)

type Option func(*Session)

func WithInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithCycleTimeout bounds a single cycle. The cycle context is detached from
// the session context, so stopping never interrupts a cycle halfway.
func WithCycleTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.cycleTimeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCycleHook is called after every cycle, from the trader's goroutine.
func WithCycleHook(fn func(symbol string, c Cycle)) Option {
	return func(s *Session) { s.hook = fn }
}

// Session runs one goroutine per trader. Pause, Resume and Stop take effect
// between cycles.
type Session struct {
	traders      []*Trader
	interval     time.Duration
	cycleTimeout time.Duration
	log          *zap.Logger
	hook         func(string, Cycle)

	mu    sync.Mutex
	state State
	stop  chan struct{}
}

func New(traders []*Trader, opts ...Option) *Session {
	s := &Session{
		traders:      traders,
		interval:     DefaultInterval,
		cycleTimeout: DefaultCycleTimeout,
		log:          zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run blocks until ctx is done, Stop is called or every trader's source is
// exhausted.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Inactive {
		s.mu.Unlock()
		return fmt.Errorf("session: already %s", s.state)
	}
	s.state = Active
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	s.log.Info("session started", zap.Int("traders", len(s.traders)), zap.Duration("interval", s.interval))

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.traders {
		t := t
		g.Go(func() error {
			s.loop(gctx, stop, t)
			return nil
		})
	}
	err := g.Wait()

	s.mu.Lock()
	s.state = Inactive
	s.mu.Unlock()
	s.log.Info("session stopped")
	return err
}

func (s *Session) loop(ctx context.Context, stop <-chan struct{}, t *Trader) {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()

	for {
		if s.State() == Active {
			if done := s.runCycle(ctx, t); done {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-tick.C:
		}
	}
}

// runCycle reports whether the trader has nothing left to do.
func (s *Session) runCycle(ctx context.Context, t *Trader) (done bool) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cycleTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cycle panicked", zap.String("symbol", t.Symbol()), zap.Any("panic", r))
			done = false
		}
	}()

	c, err := t.Cycle(cctx)
	if err != nil {
		if errors.Is(err, ErrExhausted) {
			s.log.Info("source exhausted", zap.String("symbol", t.Symbol()))
			return true
		}
		s.log.Warn("cycle failed", zap.String("symbol", t.Symbol()), zap.Error(err))
		return false
	}
	if s.hook != nil {
		s.hook(t.Symbol(), c)
	}
	return false
}

func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		return fmt.Errorf("pause: %w (state %s)", ErrNotRunning, s.state)
	}
	s.state = Paused
	s.log.Info("session paused")
	return nil
}

func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused {
		return fmt.Errorf("resume: session is %s, not paused", s.state)
	}
	s.state = Active
	s.log.Info("session resumed")
	return nil
}

// Stop ends the loops after any in-flight cycle completes. Run returns once
// they have.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Inactive || s.stop == nil {
		return ErrNotRunning
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return nil
}
