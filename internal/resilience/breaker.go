package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrBreakerOpen is returned when a call is rejected because the breaker is
// open. Callers on the signal path treat it like any other signal failure and
// degrade to rule-only scoring.
var ErrBreakerOpen = eris.New("resilience: breaker open")

// Breaker is a minimal circuit breaker: it opens after a run of consecutive
// failures and allows a single probe after a cooldown. One Breaker guards one
// service; safe for concurrent use.
type Breaker struct {
	failureThreshold int
	cooldown         time.Duration

	mu          sync.Mutex
	failures    int
	open        bool
	lastFailure time.Time

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBreaker creates a Breaker that opens after threshold consecutive
// failures and stays open for cooldown before admitting a probe.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: threshold,
		cooldown:         cooldown,
		nowFunc:          time.Now,
	}
}

// Allow reports whether a call may proceed. When the breaker is open it
// returns ErrBreakerOpen until the cooldown elapses, then admits one probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if b.nowFunc().Sub(b.lastFailure) >= b.cooldown {
		return nil // probe
	}
	return ErrBreakerOpen
}

// Record feeds a call result back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.open = false
		return
	}

	b.failures++
	b.lastFailure = b.nowFunc()
	if b.failures >= b.failureThreshold {
		b.open = true
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && b.nowFunc().Sub(b.lastFailure) < b.cooldown
}
