package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	// Seed a PRNG from crypto/rand so live trade IDs are unpredictable.
	// ulid.Monotonic keeps IDs generated within the same millisecond
	// lexicographically increasing.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string stamped with the current wall clock.
func New() string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), mono)
	if err != nil {
		// Only possible if time goes backwards within the monotonic window.
		panic(err)
	}
	return id.String()
}

// Source hands out trade identifiers for a given event time.
type Source interface {
	At(t time.Time) string
}

// Clock is the live Source: it ignores the event time and uses New.
type Clock struct{}

func (Clock) At(time.Time) string { return New() }

// Generator produces reproducible ULIDs. Two generators built with the same
// seed return the same sequence for the same sequence of timestamps, which is
// what replays need for byte-identical ledgers.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	last    uint64
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
	}
}

// At returns the next ULID stamped with t. Timestamps earlier than the last
// one handed out are clamped so the sequence stays sortable.
func (g *Generator) At(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ms uint64
	if t.After(time.Unix(0, 0)) {
		ms = ulid.Timestamp(t.UTC())
	}
	if ms < g.last {
		ms = g.last
	}
	g.last = ms

	id, err := ulid.New(ms, g.entropy)
	if err != nil {
		panic(err)
	}
	return id.String()
}
