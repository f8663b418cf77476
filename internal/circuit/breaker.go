// Package circuit implements a circuit breaker the proxy wraps around its
// RPC calls to the server, so a hung or fast-failing server degrades calls
// to a wire EIO instead of blocking every open()/close() indefinitely.
// Grounded on the teacher's generic circuit breaker implementation.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes breaker behavior.
type Config struct {
	MaxRequests   uint32        `yaml:"max_requests"`
	Interval      time.Duration `yaml:"interval"`
	Timeout       time.Duration `yaml:"timeout"`
	ReadyToTrip   func(counts Counts) bool
	OnStateChange func(name string, from, to State)
}

// Counts tracks request outcomes within the current window.
type Counts struct {
	Requests             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker implements the circuit breaker pattern around a single upstream
// (in this module: the one server a proxy talks to).
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// New creates a Breaker with sensible defaults applied to any zero fields.
func New(name string, config Config) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = func(c Counts) bool {
			return c.Requests >= 5 && c.ConsecutiveFailures >= 5
		}
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

// ErrOpen is returned by Execute when the breaker is open or the half-open
// trial quota is exhausted.
var ErrOpen = errors.New("circuit breaker open: server unreachable")

// Execute runs fn if the breaker currently allows requests through.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentStateLocked(now)

	if state == StateOpen {
		return ErrOpen
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests {
		return ErrOpen
	}
	b.counts.Requests++
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentStateLocked(now)

	if err == nil {
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.setStateLocked(StateClosed, now)
		}
		return
	}

	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0

	switch state {
	case StateClosed:
		if b.config.ReadyToTrip(b.counts) {
			b.setStateLocked(StateOpen, now)
		}
	case StateHalfOpen:
		b.setStateLocked(StateOpen, now)
	}
}

func (b *Breaker) currentStateLocked(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts = Counts{}
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setStateLocked(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) setStateLocked(state State, now time.Time) {
	prev := b.state
	if prev == state {
		return
	}
	b.state = state
	b.counts = Counts{}

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked(time.Now())
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}
