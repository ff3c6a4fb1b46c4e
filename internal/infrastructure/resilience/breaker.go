package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls outright.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures breaker behavior. Zero values select defaults.
type Settings struct {
	// FailureThreshold is the consecutive failure count that trips the
	// breaker open.
	FailureThreshold uint32
	// CooldownPeriod is how long the breaker stays open before probing.
	CooldownPeriod time.Duration
	// ProbeRequests is how many trial calls the half-open state admits.
	ProbeRequests uint32
	// OnStateChange is invoked on every transition.
	OnStateChange func(name string, from, to State)
}

// Breaker guards calls to an unreliable dependency. After
// FailureThreshold consecutive failures it rejects calls for
// CooldownPeriod, then admits ProbeRequests trials; the trials all
// succeeding closes it again, any trial failing reopens it.
type Breaker struct {
	name     string
	settings Settings

	mu     sync.Mutex
	state  State
	fails  uint32
	trials uint32
	hits   uint32
	expiry time.Time
}

// New creates a breaker.
func New(name string, settings Settings) *Breaker {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.CooldownPeriod == 0 {
		settings.CooldownPeriod = 30 * time.Second
	}
	if settings.ProbeRequests == 0 {
		settings.ProbeRequests = 1
	}
	return &Breaker{name: name, settings: settings}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.observe(time.Now())
}

// Do runs fn if the breaker admits the call, recording the outcome.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.observe(time.Now()) {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.trials >= b.settings.ProbeRequests {
			return ErrCircuitOpen
		}
		b.trials++
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.observe(now)

	if !success {
		switch state {
		case StateClosed:
			b.fails++
			if b.fails >= b.settings.FailureThreshold {
				b.transition(StateOpen, now)
			}
		case StateHalfOpen:
			b.transition(StateOpen, now)
		}
		return
	}

	switch state {
	case StateClosed:
		b.fails = 0
	case StateHalfOpen:
		b.hits++
		if b.hits >= b.settings.ProbeRequests {
			b.transition(StateClosed, now)
		}
	}
}

// observe returns the current state, moving open to half-open once the
// cooldown elapsed. Callers hold b.mu.
func (b *Breaker) observe(now time.Time) State {
	if b.state == StateOpen && b.expiry.Before(now) {
		b.transition(StateHalfOpen, now)
	}
	return b.state
}

func (b *Breaker) transition(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.fails = 0
	b.trials = 0
	b.hits = 0
	if state == StateOpen {
		b.expiry = now.Add(b.settings.CooldownPeriod)
	}
	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, state)
	}
}
