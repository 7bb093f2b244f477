package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultQueueSize   = 64
	DefaultSendTimeout = 10 * time.Second
)

type AsyncOption func(*Async)

func WithQueueSize(n int) AsyncOption {
	return func(a *Async) {
		if n > 0 {
			a.size = n
		}
	}
}

// WithRate limits deliveries to r per second with the given burst.
func WithRate(r float64, burst int) AsyncOption {
	return func(a *Async) {
		if r > 0 && burst > 0 {
			a.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

func WithAsyncLogger(l *zap.Logger) AsyncOption {
	return func(a *Async) {
		if l != nil {
			a.log = l
		}
	}
}

// Async decouples delivery from the caller. Notify never blocks: when the
// queue is full the message is dropped and counted.
type Async struct {
	next    Notifier
	size    int
	limiter *rate.Limiter
	log     *zap.Logger

	queue   chan Message
	dropped atomic.Int64

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAsync(next Notifier, opts ...AsyncOption) *Async {
	a := &Async{
		next:    next,
		size:    DefaultQueueSize,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     zap.NewNop(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	a.queue = make(chan Message, a.size)
	return a
}

// Start runs the delivery loop until ctx is cancelled or Close is called.
func (a *Async) Start(ctx context.Context) {
	a.once.Do(func() {
		ctx, a.cancel = context.WithCancel(ctx)
		go a.loop(ctx)
	})
}

func (a *Async) loop(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case msg := <-a.queue:
			if err := a.limiter.Wait(ctx); err != nil {
				a.deliver(msg)
				a.drain()
				return
			}
			a.deliver(msg)
		}
	}
}

// drain delivers what is already queued without waiting on the limiter.
func (a *Async) drain() {
	for {
		select {
		case msg := <-a.queue:
			a.deliver(msg)
		default:
			return
		}
	}
}

func (a *Async) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultSendTimeout)
	defer cancel()
	if err := a.next.Notify(ctx, msg); err != nil {
		a.log.Warn("notification failed",
			zap.String("symbol", msg.Symbol),
			zap.String("action", msg.Action),
			zap.Error(err),
		)
	}
}

func (a *Async) Notify(_ context.Context, msg Message) error {
	select {
	case a.queue <- msg:
	default:
		n := a.dropped.Add(1)
		a.log.Warn("notification dropped, queue full",
			zap.String("symbol", msg.Symbol),
			zap.Int64("dropped", n),
		)
	}
	return nil
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Close stops the loop after flushing queued messages. It is a no-op if
// Start was never called.
func (a *Async) Close() error {
	a.once.Do(func() {})
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	return nil
}

// Multi delivers to every notifier and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
