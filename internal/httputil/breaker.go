package httputil

import (
	"sync"
	"time"
)

// Default trip settings for remote hosts. Government portals rate-limit
// aggressively but recover quickly, so the threshold is generous and the
// cooldown short.
const (
	DefaultBreakerThreshold = 8
	DefaultBreakerReset     = 60 * time.Second
)

// State is the breaker position: closed passes traffic, open rejects
// it, half-open lets a single probe through after the cooldown.
type State int

const (
	StateClosed State = iota
	StateOpen
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

// CircuitBreaker guards one remote host or upstream provider. A run of
// consecutive failures opens it; after the cooldown a single probe
// decides between closing again and re-opening.
type CircuitBreaker struct {
	mu       sync.Mutex
	name     string
	state    State
	fails    int
	lastFail time.Time

	threshold int
	cooldown  time.Duration
	onTrip    func(name string)
	clock     func() time.Time
}

// NewCircuitBreaker builds a breaker with the default limits.
func NewCircuitBreaker(name string) *CircuitBreaker {
	return NewCircuitBreakerWithLimits(name, 0, 0)
}

// NewCircuitBreakerWithLimits builds a breaker with a custom failure
// threshold and cooldown. Non-positive values mean the defaults.
func NewCircuitBreakerWithLimits(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerReset
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// Name reports the breaker's identifier, normally a hostname.
func (cb *CircuitBreaker) Name() string { return cb.name }

// SetOnTrip registers fn for every closed-to-open transition, including
// re-opens after a failed probe.
func (cb *CircuitBreaker) SetOnTrip(fn func(name string)) {
	cb.mu.Lock()
	cb.onTrip = fn
	cb.mu.Unlock()
}

// Allow reports whether a request may proceed, moving an expired open
// breaker to half-open on the way.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.clock().Sub(cb.lastFail) < cb.cooldown {
			return false
		}
		cb.state = StateHalfOpen
	}
	return true
}

// RecordSuccess closes the breaker and clears the failure run.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	cb.fails = 0
	cb.state = StateClosed
	cb.mu.Unlock()
}

// RecordFailure counts one failure and opens the breaker at the
// threshold. The trip callback fires outside the lock, once per
// transition.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	cb.fails++
	cb.lastFail = cb.clock()

	var fire func(string)
	if cb.fails >= cb.threshold && cb.state != StateOpen {
		cb.state = StateOpen
		fire = cb.onTrip
	}
	cb.mu.Unlock()

	if fire != nil {
		fire(cb.name)
	}
}

// State reports the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures reports the current consecutive-failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.fails
}

// BreakerSet lazily builds one breaker per remote host, all sharing the
// same limits and trip callback.
type BreakerSet struct {
	mu        sync.Mutex
	perHost   map[string]*CircuitBreaker
	threshold int
	cooldown  time.Duration
	onTrip    func(name string)
}

// NewBreakerSet creates an empty set. onTrip may be nil.
func NewBreakerSet(threshold int, cooldown time.Duration, onTrip func(name string)) *BreakerSet {
	return &BreakerSet{
		perHost:   map[string]*CircuitBreaker{},
		threshold: threshold,
		cooldown:  cooldown,
		onTrip:    onTrip,
	}
}

// For returns the breaker for host, creating it on first use.
func (s *BreakerSet) For(host string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.perHost[host]
	if !ok {
		cb = NewCircuitBreakerWithLimits(host, s.threshold, s.cooldown)
		cb.onTrip = s.onTrip
		s.perHost[host] = cb
	}
	return cb
}

// States snapshots every known host's breaker position.
func (s *BreakerSet) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]State, len(s.perHost))
	for host, cb := range s.perHost {
		out[host] = cb.State()
	}
	return out
}
