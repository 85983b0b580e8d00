// Package infra provides shared infrastructure for the long-running MCP mode:
// a TTL cache, coalescing of identical in-flight enumerations, and a circuit breaker
// that makes a failing wiki fail fast.
package infra

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// Deduplicator coalesces identical in-flight calls. When several goroutines ask for
// the same key at once, fn runs once and every waiter receives its result.
//
// fn runs under a context detached from any single caller: one caller giving up
// does not fail the others. The shared call is cancelled once every caller has left.
type Deduplicator[V any] struct {
	mu       sync.Mutex
	inflight map[string]*call[V]
}

type call[V any] struct {
	done    chan struct{}
	cancel  context.CancelFunc
	value   V
	err     error
	waiters int // callers still waiting, guarded by Deduplicator.mu
}

// PanicError is returned to every waiter when the shared call panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in shared call: %v", e.Value)
}

// NewDeduplicator creates an empty deduplicator.
func NewDeduplicator[V any]() *Deduplicator[V] {
	return &Deduplicator[V]{inflight: make(map[string]*call[V])}
}

// Do runs fn unless a call with the same key is already running, in which case it
// waits for that call. shared is true when the result came from another caller.
// A caller whose ctx ends stops waiting and gets ctx.Err().
func (d *Deduplicator[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (value V, shared bool, err error) {
	d.mu.Lock()
	c, shared := d.inflight[key]
	if shared {
		c.waiters++
	} else {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c = &call[V]{done: make(chan struct{}), cancel: cancel, waiters: 1}
		d.inflight[key] = c
		go d.run(runCtx, key, c, fn)
	}
	d.mu.Unlock()

	select {
	case <-c.done:
		return c.value, shared, c.err
	case <-ctx.Done():
		d.leave(key, c)
		var zero V
		return zero, shared, ctx.Err()
	}
}

func (d *Deduplicator[V]) run(ctx context.Context, key string, c *call[V], fn func(context.Context) (V, error)) {
	defer func() {
		if rec := recover(); rec != nil {
			var zero V
			c.value, c.err = zero, &PanicError{Value: rec, Stack: debug.Stack()}
		}
		d.forget(key, c)
		c.cancel()
		close(c.done)
	}()
	c.value, c.err = fn(ctx)
}

// leave drops one waiter; the last one out cancels the shared call and unmaps
// the key so later callers start afresh.
func (d *Deduplicator[V]) leave(key string, c *call[V]) {
	d.mu.Lock()
	c.waiters--
	last := c.waiters == 0
	if last && d.inflight[key] == c {
		delete(d.inflight, key)
	}
	d.mu.Unlock()

	if last {
		c.cancel()
	}
}

func (d *Deduplicator[V]) forget(key string, c *call[V]) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inflight[key] == c {
		delete(d.inflight, key)
	}
}

// InFlight returns the number of keys currently executing.
func (d *Deduplicator[V]) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing fast, rejecting requests
	CircuitHalfOpen                     // Probing whether the wiki recovered
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

// BreakerConfig tunes a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long the circuit stays open
	HalfOpenMax      int           // probe requests allowed while half-open
}

// DefaultBreakerConfig opens after 5 consecutive failures and probes again after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      2,
	}
}

// CircuitBreaker tracks consecutive failures against the wiki API and rejects
// requests while the circuit is open.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg BreakerConfig
	now func() time.Time

	state         CircuitState
	failures      int
	lastFailure   time.Time
	halfOpenSince time.Time
	halfOpenCount int
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Allow returns nil if a request may proceed, or ErrCircuitOpen otherwise.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cfg.ResetTimeout {
			return cb.openErrLocked()
		}
		cb.state = CircuitHalfOpen
		cb.halfOpenSince = cb.now()
		cb.halfOpenCount = 1
		return nil
	case CircuitHalfOpen:
		if cb.halfOpenCount >= cb.cfg.HalfOpenMax {
			if cb.now().Sub(cb.halfOpenSince) < cb.cfg.ResetTimeout {
				return cb.openErrLocked()
			}
			// Probes that never reported back free their slots after ResetTimeout.
			cb.halfOpenSince = cb.now()
			cb.halfOpenCount = 0
		}
		cb.halfOpenCount++
		return nil
	default:
		return nil
	}
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = CircuitClosed
	cb.halfOpenCount = 0
}

// RecordFailure counts a failure, opening the circuit at the threshold.
// Any failure while half-open reopens it.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.state = CircuitOpen
		cb.halfOpenCount = 0
	}
}

// Release returns a half-open probe slot without judging the wiki, for requests
// that ended before it could answer (caller cancelled, request never built).
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen && cb.halfOpenCount > 0 {
		cb.halfOpenCount--
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) openErrLocked() *ErrCircuitOpen {
	since := cb.lastFailure
	if cb.state == CircuitHalfOpen {
		since = cb.halfOpenSince
	}
	return &ErrCircuitOpen{
		State:    cb.state.String(),
		RetryAt:  since.Add(cb.cfg.ResetTimeout),
		Failures: cb.failures,
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
type ErrCircuitOpen struct {
	State    string
	RetryAt  time.Time
	Failures int
}

func (e *ErrCircuitOpen) Error() string {
	return "circuit breaker is open: wiki API is failing, retry after " + e.RetryAt.Format(time.RFC3339)
}
