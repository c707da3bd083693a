package circuitbreaker

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// State is the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Defaults.
const (
	DefaultFailureThreshold = 5
	DefaultWindow           = 60 * time.Second
	DefaultRecoveryTimeout  = 60 * time.Second
)

// Config tunes a breaker. Zero values fall back to the defaults.
type Config struct {
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold int
	// Window bounds a failure streak, measured from its first failure.
	Window time.Duration
	// RecoveryTimeout is the cool-down before a half-open trial call.
	RecoveryTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return c
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name         string     `json:"name"`
	State        State      `json:"state"`
	FailureCount int        `json:"failure_count"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
}

// StateChangeFunc observes transitions. It runs with the breaker lock held
// and must not call back into the breaker.
type StateChangeFunc func(name string, from, to State)

// Breaker guards a single destination. All methods are safe for concurrent use.
type Breaker struct {
	name     string
	cfg      Config
	clock    clock.Clock
	onChange StateChangeFunc

	mu          sync.Mutex
	state       State
	failures    int
	streakStart time.Time
	openedAt    time.Time
}

// New creates a closed breaker.
func New(name string, cfg Config, clk clock.Clock, onChange StateChangeFunc) *Breaker {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Breaker{
		name:     name,
		cfg:      cfg.withDefaults(),
		clock:    clk,
		onChange: onChange,
		state:    StateClosed,
	}
}

// CanExecute reports whether a call may proceed. Once the cool-down has
// elapsed on an open breaker, exactly one caller is let through as the
// half-open trial call; everyone else is refused until that trial is recorded.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes a half-open breaker and clears the failure streak.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.failures = 0
		b.openedAt = time.Time{}
		b.transition(StateClosed)
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure extends the failure streak and opens the breaker when the
// threshold is reached inside the window. A failed half-open trial call reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case StateHalfOpen:
		b.failures++
		b.openedAt = now
		b.transition(StateOpen)
	case StateClosed:
		if b.failures == 0 || now.Sub(b.streakStart) > b.cfg.Window {
			b.failures = 0
			b.streakStart = now
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = now
			b.transition(StateOpen)
		}
	case StateOpen:
		b.failures++
	}
}

// Stats returns the current state and failure count.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Name: b.name, State: b.state, FailureCount: b.failures}
	if !b.openedAt.IsZero() {
		at := b.openedAt
		s.OpenedAt = &at
	}
	return s
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onChange != nil && from != to {
		b.onChange(b.name, from, to)
	}
}
