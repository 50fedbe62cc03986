// Package resilience implements the dependency-protection primitives of
// the core: a per-dependency circuit breaker, a periodic health monitor,
// and an ordered fallback chain (spec §4.13).
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nexuscore/core/internal/audit"
	"github.com/nexuscore/core/internal/observability"
)

// State is a circuit breaker's lifecycle state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned by Execute when the breaker is open and its
// reset timeout hasn't elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// CircuitConfig configures a Breaker.
type CircuitConfig struct {
	// DependencyID identifies what this breaker protects, used as the
	// metrics/audit label.
	DependencyID string

	// FailureThreshold is the number of consecutive failures in the
	// closed state before the breaker opens.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before allowing a
	// single half-open trial call.
	ResetTimeout time.Duration
}

// Breaker is a per-dependency circuit breaker. A single successful call
// while half-open closes it; a failure at any point in half-open reopens
// it immediately (spec §4.13).
type Breaker struct {
	cfg     CircuitConfig
	metrics *observability.Metrics
	auditor *audit.Logger
	now     func() time.Time

	mu              sync.Mutex
	state           State
	failures        int
	lastStateChange time.Time
}

// NewBreaker builds a Breaker. metrics and auditor may be nil.
func NewBreaker(cfg CircuitConfig, metrics *observability.Metrics, auditor *audit.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	b := &Breaker{
		cfg:             cfg,
		metrics:         metrics,
		auditor:         auditor,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
	b.reportState()
	return b
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn under the breaker's protection, rejecting the call
// outright with ErrCircuitOpen if the circuit is open.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn(ctx)
	b.after(err)
	return err
}

// ExecuteWithResult runs a value-returning fn under the breaker's
// protection.
func ExecuteWithResult[T any](b *Breaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.before(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	b.after(err)
	return result, err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastStateChange) >= b.cfg.ResetTimeout {
			b.transition(StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		switch b.state {
		case StateClosed:
			if b.failures >= b.cfg.FailureThreshold {
				b.transition(StateOpen)
			}
		case StateHalfOpen:
			b.transition(StateOpen)
		}
		return
	}

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.transition(StateClosed)
	}
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.lastStateChange = b.now()
	if from == to {
		return
	}
	go b.auditTransition(from, to)
	b.reportState()
}

func (b *Breaker) reportState() {
	if b.metrics == nil {
		return
	}
	var v float64
	switch b.state {
	case StateHalfOpen:
		v = 1
	case StateOpen:
		v = 2
	}
	b.metrics.BreakerState.WithLabelValues(b.cfg.DependencyID).Set(v)
}

func (b *Breaker) auditTransition(from, to State) {
	if b.auditor == nil {
		return
	}
	b.auditor.Log(audit.Entry{
		Category: "resilience", Action: "breaker_state_change", Severity: audit.SeverityWarn,
		Metadata: map[string]any{"dependency": b.cfg.DependencyID, "from": string(from), "to": string(to)},
	})
}

// Reset forces the breaker back to closed, clearing its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

// Registry is a keyed set of breakers sharing defaults, one per
// dependency id.
type Registry struct {
	defaults CircuitConfig
	metrics  *observability.Metrics
	auditor  *audit.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry builds a Registry. metrics and auditor may be nil.
func NewRegistry(defaults CircuitConfig, metrics *observability.Metrics, auditor *audit.Logger) *Registry {
	return &Registry{
		defaults: defaults,
		metrics:  metrics,
		auditor:  auditor,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns or lazily creates the breaker for dependencyID.
func (r *Registry) Get(dependencyID string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[dependencyID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[dependencyID]; ok {
		return b
	}
	cfg := r.defaults
	cfg.DependencyID = dependencyID
	b = NewBreaker(cfg, r.metrics, r.auditor)
	r.breakers[dependencyID] = b
	return b
}

// OpenDependencies returns the dependency ids of every currently open
// breaker.
func (r *Registry) OpenDependencies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []string
	for id, b := range r.breakers {
		if b.State() == StateOpen {
			open = append(open, id)
		}
	}
	return open
}
