package llm

import (
	"context"
	"sync"
	"time"
)

// tokenBucket enforces a fixed requests-per-minute ceiling. Callers over
// the ceiling wait until a token refills; they are queued, never rejected.
type tokenBucket struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	refill   float64 // tokens per second
	last     time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func newTokenBucket(requestsPerMinute int) *tokenBucket {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	b := &tokenBucket{
		capacity: float64(requestsPerMinute),
		tokens:   float64(requestsPerMinute),
		refill:   float64(requestsPerMinute) / 60.0,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	b.last = b.now()
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until a token is available or the context is cancelled.
func (b *tokenBucket) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()
		b.tokens += now.Sub(b.last).Seconds() * b.refill
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now

		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		deficit := 1 - b.tokens
		wait := time.Duration(deficit / b.refill * float64(time.Second))
		b.mu.Unlock()

		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
