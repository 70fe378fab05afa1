// Package resilience guards calls to the model, search and embedding
// services with per-service circuit breakers and bounded retries.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is the position of a circuit breaker.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses.
	StateOpen
	// StateHalfOpen lets probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected by an open circuit.
var ErrOpen = eris.New("resilience: circuit open")

// BreakerPolicy configures a circuit breaker.
type BreakerPolicy struct {
	// Failures is the number of consecutive failures that open the circuit.
	Failures int
	// Cooldown is how long the circuit stays open before a probe.
	Cooldown time.Duration
	// Probes is the number of successful half-open calls that close it.
	Probes int
}

// DefaultBreakerPolicy opens after 5 failures for 30s.
func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{Failures: 5, Cooldown: 30 * time.Second, Probes: 1}
}

func (p BreakerPolicy) withDefaults() BreakerPolicy {
	def := DefaultBreakerPolicy()
	if p.Failures <= 0 {
		p.Failures = def.Failures
	}
	if p.Cooldown <= 0 {
		p.Cooldown = def.Cooldown
	}
	if p.Probes <= 0 {
		p.Probes = def.Probes
	}
	return p
}

// Breaker is the circuit breaker of one service. Cancellation of the
// caller's context never counts as a failure.
type Breaker struct {
	service string
	policy  BreakerPolicy
	now     func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	probes   int
	openedAt time.Time
}

// NewBreaker creates a closed breaker for service.
func NewBreaker(service string, policy BreakerPolicy) *Breaker {
	return &Breaker{service: service, policy: policy.withDefaults(), now: time.Now}
}

// Service returns the name the breaker guards.
func (b *Breaker) Service() string { return b.service }

// State returns the current state, reporting half-open once the cooldown of
// an open circuit has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.policy.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Guard runs fn through b. A nil breaker runs fn directly.
func Guard[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	if b == nil {
		return fn(ctx)
	}
	if err := b.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.openedAt) < b.policy.Cooldown {
		return eris.Wrap(ErrOpen, b.service)
	}
	b.move(StateHalfOpen)
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || errors.Is(err, context.Canceled) {
		switch b.state {
		case StateHalfOpen:
			if err != nil {
				return
			}
			b.probes++
			if b.probes >= b.policy.Probes {
				b.failures = 0
				b.probes = 0
				b.move(StateClosed)
			}
		case StateClosed:
			b.failures = 0
		}
		return
	}

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.policy.Failures {
			b.openedAt = b.now()
			b.move(StateOpen)
		}
	case StateHalfOpen:
		b.probes = 0
		b.openedAt = b.now()
		b.move(StateOpen)
	}
}

func (b *Breaker) move(to State) {
	from := b.state
	b.state = to
	zap.L().Info("resilience: circuit state change",
		zap.String("service", b.service),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("failures", b.failures),
	)
}

// Breakers holds one breaker per service, created on first use.
type Breakers struct {
	policy BreakerPolicy

	mu       sync.RWMutex
	services map[string]*Breaker
}

// NewBreakers creates a registry sharing policy.
func NewBreakers(policy BreakerPolicy) *Breakers {
	return &Breakers{policy: policy, services: make(map[string]*Breaker)}
}

// For returns the breaker of service.
func (bs *Breakers) For(service string) *Breaker {
	bs.mu.RLock()
	b, ok := bs.services[service]
	bs.mu.RUnlock()
	if ok {
		return b
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok = bs.services[service]; ok {
		return b
	}
	b = NewBreaker(service, bs.policy)
	bs.services[service] = b
	return b
}

// Snapshot returns the state name of every breaker created so far.
func (bs *Breakers) Snapshot() map[string]string {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	out := make(map[string]string, len(bs.services))
	for name, b := range bs.services {
		out[name] = b.State().String()
	}
	return out
}
