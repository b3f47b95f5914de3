package httputil

import (
	"sync"
	"testing"
	"time"
)

// failTimes records n consecutive failures.
func failTimes(cb *CircuitBreaker, n int) {
	for range n {
		cb.RecordFailure()
	}
}

// freezeClock pins the breaker to a controllable instant.
func freezeClock(cb *CircuitBreaker) *time.Time {
	at := time.Now()
	cb.clock = func() time.Time { return at }
	return &at
}

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("pncp.gov.br")

	if got := cb.Name(); got != "pncp.gov.br" {
		t.Errorf("Name() = %q, want pncp.gov.br", got)
	}
	if got := cb.State(); got != StateClosed {
		t.Errorf("State() = %v, want closed", got)
	}
	if got := cb.Failures(); got != 0 {
		t.Errorf("Failures() = %d, want 0", got)
	}
	if !cb.Allow() {
		t.Error("a fresh breaker must allow traffic")
	}
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker("pncp.gov.br")

	failTimes(cb, DefaultBreakerThreshold-1)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("State() after %d failures = %v, want closed", DefaultBreakerThreshold-1, got)
	}

	cb.RecordFailure()
	if got := cb.State(); got != StateOpen {
		t.Fatalf("State() at the threshold = %v, want open", got)
	}
	if cb.Allow() {
		t.Error("an open breaker must reject traffic")
	}
	if got := cb.Failures(); got != DefaultBreakerThreshold {
		t.Errorf("Failures() = %d, want %d", got, DefaultBreakerThreshold)
	}
}

func TestBreakerSuccessClosesAndResets(t *testing.T) {
	cb := NewCircuitBreakerWithLimits("pncp.gov.br", 3, time.Minute)
	failTimes(cb, 3)

	cb.RecordSuccess()

	if got := cb.State(); got != StateClosed {
		t.Errorf("State() after success = %v, want closed", got)
	}
	if got := cb.Failures(); got != 0 {
		t.Errorf("Failures() after success = %d, want 0", got)
	}
	if !cb.Allow() {
		t.Error("a recovered breaker must allow traffic")
	}
}

func TestBreakerCooldownOpensProbeWindow(t *testing.T) {
	cb := NewCircuitBreakerWithLimits("pncp.gov.br", 3, time.Minute)
	at := freezeClock(cb)
	failTimes(cb, 3)

	*at = at.Add(30 * time.Second)
	if cb.Allow() {
		t.Fatal("Allow() within the cooldown must reject")
	}

	*at = at.Add(31 * time.Second)
	if !cb.Allow() {
		t.Fatal("Allow() after the cooldown must admit the probe")
	}
	if got := cb.State(); got != StateHalfOpen {
		t.Errorf("State() after probe admission = %v, want half-open", got)
	}
}

func TestBreakerProbeOutcome(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		cb := NewCircuitBreakerWithLimits("pncp.gov.br", 3, time.Minute)
		at := freezeClock(cb)
		failTimes(cb, 3)
		*at = at.Add(61 * time.Second)
		cb.Allow()

		cb.RecordSuccess()
		if got := cb.State(); got != StateClosed {
			t.Errorf("State() = %v, want closed", got)
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		cb := NewCircuitBreakerWithLimits("pncp.gov.br", 3, time.Minute)
		at := freezeClock(cb)
		failTimes(cb, 3)
		*at = at.Add(61 * time.Second)
		cb.Allow()

		cb.RecordFailure()
		if got := cb.State(); got != StateOpen {
			t.Errorf("State() = %v, want open", got)
		}
	})
}

func TestBreakerTripCallbackOncePerOpen(t *testing.T) {
	var trips []string
	cb := NewCircuitBreakerWithLimits("leiloes.example.com.br", 3, time.Minute)
	cb.SetOnTrip(func(name string) { trips = append(trips, name) })
	at := freezeClock(cb)

	failTimes(cb, 2)
	if len(trips) != 0 {
		t.Fatalf("trips below the threshold = %v, want none", trips)
	}

	cb.RecordFailure()
	if len(trips) != 1 || trips[0] != "leiloes.example.com.br" {
		t.Fatalf("trips at the threshold = %v, want the host once", trips)
	}

	cb.RecordFailure()
	if len(trips) != 1 {
		t.Errorf("trips while already open = %d, want 1", len(trips))
	}

	*at = at.Add(61 * time.Second)
	cb.Allow()
	cb.RecordFailure()
	if len(trips) != 2 {
		t.Errorf("trips after a failed probe = %d, want 2", len(trips))
	}
}

func TestBreakerConcurrencySmoke(t *testing.T) {
	cb := NewCircuitBreaker("pncp.gov.br")

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(4)
		go func() { defer wg.Done(); cb.RecordFailure() }()
		go func() { defer wg.Done(); cb.RecordSuccess() }()
		go func() { defer wg.Done(); cb.Allow() }()
		go func() { defer wg.Done(); cb.State() }()
	}
	wg.Wait()
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestBreakerSetPerHost(t *testing.T) {
	set := NewBreakerSet(3, time.Minute, nil)

	a := set.For("pncp.gov.br")
	b := set.For("leiloes.example.com.br")
	if a == b {
		t.Fatal("hosts must not share a breaker")
	}
	if set.For("pncp.gov.br") != a {
		t.Error("repeated lookup must return the same breaker")
	}

	failTimes(a, 3)

	states := set.States()
	if states["pncp.gov.br"] != StateOpen {
		t.Errorf("pncp.gov.br = %v, want open", states["pncp.gov.br"])
	}
	if states["leiloes.example.com.br"] != StateClosed {
		t.Errorf("leiloes.example.com.br = %v, want closed", states["leiloes.example.com.br"])
	}
}

func TestBreakerSetSharesOnTrip(t *testing.T) {
	var trips []string
	set := NewBreakerSet(2, time.Minute, func(name string) { trips = append(trips, name) })

	failTimes(set.For("sncp.example.gov.br"), 2)

	if len(trips) != 1 || trips[0] != "sncp.example.gov.br" {
		t.Fatalf("trips = %v, want one for sncp.example.gov.br", trips)
	}
}
