// Package resilience provides the circuit breaker and retry layer that
// keeps a single bad data provider from degrading a whole investigation.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state — calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many failures — calls are rejected without
	// touching the network.
	CircuitOpen
	// CircuitHalfOpen allows exactly one in-flight probe to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is
// open, or because a half-open probe is already in flight.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5.
	FailureThreshold int

	// CoolDown is how long the circuit stays open before a probe is
	// allowed. Default: 30s.
	CoolDown time.Duration

	// OnStateChange is called (outside the breaker lock) when the circuit
	// transitions between states.
	OnStateChange func(source string, from, to CircuitState)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		CoolDown:         30 * time.Second,
	}
}

// Breaker is the circuit breaker for a single data source. Mutated only by
// the federation executor on call completion; shared across investigations.
type Breaker struct {
	source string
	cfg    BreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBreaker creates a breaker for the named source.
func NewBreaker(source string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	return &Breaker{
		source:  source,
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Allow decides whether a call may proceed. CLOSED always allows. OPEN
// allows nothing until the cool-down elapses, then transitions to HALF_OPEN
// and admits a single probe; concurrent callers short-circuit with
// ErrCircuitOpen while the probe is out. Every non-error return must be
// paired with a Record call.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	switch b.state {
	case CircuitClosed:
		b.mu.Unlock()
		return nil

	case CircuitOpen:
		if b.nowFunc().Sub(b.openedAt) < b.cfg.CoolDown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		notify := b.transition(CircuitHalfOpen)
		b.probeInFlight = true
		b.mu.Unlock()
		notify()
		return nil

	case CircuitHalfOpen:
		if b.probeInFlight {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probeInFlight = true
		b.mu.Unlock()
		return nil
	}

	b.mu.Unlock()
	return nil
}

// Record reports the outcome of a call admitted by Allow. Success resets
// the failure counter and closes the breaker; failure increments the
// counter and opens the breaker once the threshold is reached. A failed
// half-open probe re-opens immediately.
func (b *Breaker) Record(err error) {
	b.mu.Lock()

	b.probeInFlight = false
	notify := func() {}

	if err == nil {
		b.consecutiveFailures = 0
		if b.state != CircuitClosed {
			notify = b.transition(CircuitClosed)
		}
		b.mu.Unlock()
		notify()
		return
	}

	b.consecutiveFailures++
	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.openedAt = b.nowFunc()
			notify = b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.openedAt = b.nowFunc()
		notify = b.transition(CircuitOpen)
	}
	b.mu.Unlock()
	notify()
}

// AbortProbe discards a call admitted by Allow whose outcome says nothing
// about the source, such as a raced FASTEST loser or an investigation
// cancel. Clears the in-flight probe slot so a later caller can probe
// again; counts neither success nor failure.
func (b *Breaker) AbortProbe() {
	b.mu.Lock()
	b.probeInFlight = false
	b.mu.Unlock()
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen without
// calling fn when the breaker rejects the call.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err)
	return err
}

// State returns the current circuit state, accounting for cool-down expiry.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.CoolDown {
		return CircuitHalfOpen
	}
	return b.state
}

// Counters returns the failure count and raw state for observability.
func (b *Breaker) Counters() (consecutiveFailures int, state CircuitState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFailures, b.state
}

// Reset forces the breaker back to closed. Used by tests and manual
// recovery tooling.
func (b *Breaker) Reset() {
	b.mu.Lock()
	notify := func() {}
	if b.state != CircuitClosed {
		notify = b.transition(CircuitClosed)
	}
	b.consecutiveFailures = 0
	b.probeInFlight = false
	b.mu.Unlock()
	notify()
}

// transition must be called with b.mu held; the returned func fires the
// state-change hook and must be called after the lock is released.
func (b *Breaker) transition(to CircuitState) func() {
	from := b.state
	b.state = to
	if b.cfg.OnStateChange == nil || from == to {
		return func() {}
	}
	hook := b.cfg.OnStateChange
	return func() { hook(b.source, from, to) }
}

// SourceBreakers is the process-wide registry of per-source breakers. It is
// the only cross-investigation shared mutable state besides the source
// registry: a provider outage is learned once, not per investigation. The
// registry lock only guards the map; each breaker carries its own lock so
// unrelated sources never serialize on each other.
type SourceBreakers struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewSourceBreakers creates a registry of per-source circuit breakers.
func NewSourceBreakers(cfg BreakerConfig) *SourceBreakers {
	return &SourceBreakers{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for the source id, creating one if needed.
func (sb *SourceBreakers) Get(sourceID string) *Breaker {
	sb.mu.RLock()
	b, ok := sb.breakers[sourceID]
	sb.mu.RUnlock()
	if ok {
		return b
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	// Double-check after acquiring write lock.
	if b, ok = sb.breakers[sourceID]; ok {
		return b
	}
	b = NewBreaker(sourceID, sb.cfg)
	sb.breakers[sourceID] = b
	return b
}

// States returns a snapshot of all breaker states.
func (sb *SourceBreakers) States() map[string]CircuitState {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	states := make(map[string]CircuitState, len(sb.breakers))
	for id, b := range sb.breakers {
		states[id] = b.State()
	}
	return states
}
