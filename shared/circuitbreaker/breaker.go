// Package circuitbreaker implements a three-state (Closed/Open/HalfOpen)
// guard around a flaky upstream dependency. Failures are counted over a
// sliding window; once the threshold is crossed the breaker opens and all
// calls fail fast until a cooldown elapses.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrOpen is returned by Execute while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// State of the breaker.
type State string

// Breaker states.
const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// halfOpenSuccesses is the number of consecutive successes required to close
// a half-open breaker.
const halfOpenSuccesses = 2

// Config tunes a Breaker.
type Config struct {
	// FailureThreshold is the number of failures within Window that opens
	// the breaker.
	FailureThreshold int
	// Window is the sliding window over which failures are counted.
	Window time.Duration
	// ResetTimeout is how long an open breaker waits before allowing a
	// half-open probe.
	ResetTimeout time.Duration
}

// Breaker guards calls to a single upstream dependency.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu              sync.Mutex
	state           State
	failures        []time.Time
	successCount    int
	reopenNotBefore time.Time
}

// New builds a closed breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg, state: Closed, now: time.Now}
}

// State returns the current breaker state, accounting for an elapsed open
// cooldown.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && !b.now().Before(b.reopenNotBefore) {
		return HalfOpen
	}
	return b.state
}

// Execute runs fn under the breaker. While open it fails fast with ErrOpen;
// otherwise fn's error is recorded and returned unchanged. The breaker does
// not inspect error kinds: any non-nil error counts as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Open {
		return nil
	}
	if b.now().Before(b.reopenNotBefore) {
		return ErrOpen
	}
	b.state = HalfOpen
	b.successCount = 0
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	if err != nil {
		switch b.state {
		case HalfOpen:
			// A single probe failure re-opens and restarts the timer.
			b.open(now)
		default:
			b.failures = append(b.failures, now)
			b.prune(now)
			if len(b.failures) >= b.cfg.FailureThreshold {
				b.open(now)
			}
		}
		return
	}
	if b.state == HalfOpen {
		b.successCount++
		if b.successCount >= halfOpenSuccesses {
			b.state = Closed
			b.failures = nil
			b.successCount = 0
		}
		return
	}
	// Success in the closed state decays failure history implicitly via
	// the sliding window.
	b.prune(now)
}

func (b *Breaker) open(now time.Time) {
	b.state = Open
	b.reopenNotBefore = now.Add(b.cfg.ResetTimeout)
	b.failures = nil
	b.successCount = 0
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for ; i < len(b.failures); i++ {
		if b.failures[i].After(cutoff) {
			break
		}
	}
	b.failures = b.failures[i:]
}
