package llm

import (
	"fmt"
	"sync"
	"time"
)

// CoolingDownError is returned when a provider's circuit is open.
// Best-effort callers degrade; strict callers surface it.
type CoolingDownError struct {
	Provider string
	Until    time.Time
}

func (e *CoolingDownError) Error() string {
	return fmt.Sprintf("llm: provider %s cooling down until %s",
		e.Provider, e.Until.Format(time.RFC3339))
}

const breakerThreshold = 3

// breaker tracks consecutive failures for one provider and opens the
// circuit for a cooldown period once the threshold is reached. State
// is in-memory only; a cold start always allows one attempt.
type breaker struct {
	mu        sync.Mutex
	provider  string
	cooldown  time.Duration
	failures  int
	coolUntil time.Time
	now       func() time.Time
}

func newBreaker(provider string, cooldown time.Duration) *breaker {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &breaker{provider: provider, cooldown: cooldown, now: time.Now}
}

// allow returns nil when a call may proceed, or *CoolingDownError
// while the circuit is open.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.now().Before(b.coolUntil) {
		return &CoolingDownError{Provider: b.provider, Until: b.coolUntil}
	}
	return nil
}

// record updates the failure counter from a call outcome. Any success
// resets; the third consecutive failure opens the circuit.
func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= breakerThreshold {
		b.coolUntil = b.now().Add(b.cooldown)
		b.failures = 0
	}
}
