package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// breaker trips after threshold consecutive transient failures and stays
// open for cooldown, so a downed Qdrant fails searches fast instead of
// holding every request through the full retry schedule.
type breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	failures int
	lastFail time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

func (b *breaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return false
	}
	if b.now().Sub(b.lastFail) > b.cooldown {
		// half-open: the next call decides
		b.failures = 0
		return false
	}
	return true
}

func (b *breaker) fail() {
	b.mu.Lock()
	b.failures++
	b.lastFail = b.now()
	b.mu.Unlock()
}

func (b *breaker) succeed() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

// withRetry runs fn until it succeeds, fails permanently, exhausts
// MaxRetries or trips the breaker. Backoff doubles from RetryBackoff.
func (s *QdrantIndex) withRetry(ctx context.Context, op string, fn func() error) error {
	if s.breaker.open() {
		return fmt.Errorf("qdrant %s: %w: circuit open", op, ErrConnectionFailed)
	}

	wait := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		switch {
		case err == nil:
			s.breaker.succeed()
			return nil
		case !IsTransientError(err):
			return fmt.Errorf("qdrant %s: %w", op, err)
		}

		s.breaker.fail()
		if s.breaker.open() {
			return fmt.Errorf("qdrant %s: %w: circuit open after: %v", op, ErrConnectionFailed, err)
		}
		if attempt >= s.config.MaxRetries {
			return fmt.Errorf("qdrant %s: gave up after %d retries: %w", op, attempt, err)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("qdrant %s: %w", op, ctx.Err())
		case <-t.C:
			wait *= 2
		}
	}
}
