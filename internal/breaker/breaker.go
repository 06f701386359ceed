// Package breaker implements a per-host circuit breaker: after enough
// consecutive terminal failures against a host, further admission for
// that host is rejected until a recovery timeout elapses.
package breaker

import (
	"sync"
	"time"
)

// State is one of the circuit breaker's three states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the breaker's tunables, sourced from
// internal/config's spider.* options.
type Config struct {
	// FailureThreshold is the number of consecutive failures that
	// opens the circuit.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before
	// allowing a half-open trial.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns sane defaults: open after 5 consecutive
// failures, half-open after 30s.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

type hostCircuit struct {
	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	halfOpenTrialInFlight bool
}

// Registry tracks one hostCircuit per host, each independently
// synchronized, so contention on one host never blocks another.
type Registry struct {
	cfg Config

	mu     sync.Mutex
	hosts  map[string]*hostCircuit
	nowFn  func() time.Time
}

// New builds a Registry. nowFn may be nil (defaults to time.Now),
// overridable in tests that need deterministic recovery-timeout
// elapsing.
func New(cfg Config, nowFn func() time.Time) *Registry {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Registry{
		cfg:   cfg,
		hosts: make(map[string]*hostCircuit),
		nowFn: nowFn,
	}
}

func (r *Registry) circuitFor(host string) *hostCircuit {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.hosts[host]
	if !ok {
		c = &hostCircuit{}
		r.hosts[host] = c
	}
	return c
}

// Allow reports whether a request against host may be dispatched right
// now, and transitions open -> half-open when the recovery timeout has
// elapsed. Only one half-open trial is allowed in flight at a time;
// concurrent callers while a trial is outstanding are rejected.
func (r *Registry) Allow(host string) bool {
	c := r.circuitFor(host)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Closed:
		return true
	case Open:
		if r.nowFn().Sub(c.openedAt) >= r.cfg.RecoveryTimeout {
			c.state = HalfOpen
			c.halfOpenTrialInFlight = true
			return true
		}
		return false
	case HalfOpen:
		if c.halfOpenTrialInFlight {
			return false
		}
		c.halfOpenTrialInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess resets the host's failure count and closes the
// circuit, whatever state it was in.
func (r *Registry) RecordSuccess(host string) {
	c := r.circuitFor(host)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures = 0
	c.state = Closed
	c.halfOpenTrialInFlight = false
}

// RecordFailure increments the host's consecutive failure count and
// opens the circuit once FailureThreshold is reached, or re-opens
// immediately if the failing request was the half-open trial.
func (r *Registry) RecordFailure(host string) {
	c := r.circuitFor(host)
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == HalfOpen {
		c.state = Open
		c.openedAt = r.nowFn()
		c.halfOpenTrialInFlight = false
		return
	}

	c.consecutiveFailures++
	if c.consecutiveFailures >= r.cfg.FailureThreshold {
		c.state = Open
		c.openedAt = r.nowFn()
	}
}

// StateOf reports a host's current breaker state, for observability.
func (r *Registry) StateOf(host string) State {
	c := r.circuitFor(host)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
