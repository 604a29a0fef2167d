package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/veilleur-project/veilleur/internal/metrics"
)

// hostThrottle enforces a minimum inter-request delay per host. The
// wait is context-cancellable so a run can be aborted mid-flight.
type hostThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	delay    time.Duration
}

func newHostThrottle(delay time.Duration) *hostThrottle {
	return &hostThrottle{
		limiters: make(map[string]*rate.Limiter),
		delay:    delay,
	}
}

// Wait blocks until the host's limiter grants a slot. A zero delay
// disables throttling entirely.
func (t *hostThrottle) Wait(ctx context.Context, host string) error {
	if t.delay <= 0 {
		return nil
	}
	t.mu.Lock()
	limiter, ok := t.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(t.delay), 1)
		t.limiters[host] = limiter
	}
	t.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveThrottleDelay(host, waited.Seconds())
	}
	return nil
}
