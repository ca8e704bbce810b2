package service

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const localLimiterPruneSize = 10000

// LocalAttemptLimiter is the in-process LoginLimiter used when Redis is not
// configured. Each key gets maxAttempts failures, refilled evenly over window.
type LocalAttemptLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	clock    clockwork.Clock
}

func NewLocalAttemptLimiter(maxAttempts int, window time.Duration, clock clockwork.Clock) *LocalAttemptLimiter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &LocalAttemptLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(window / time.Duration(maxAttempts)),
		burst:    maxAttempts,
		clock:    clock,
	}
}

func (l *LocalAttemptLimiter) get(key string) *rate.Limiter {
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

func (l *LocalAttemptLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		return true, nil
	}
	return lim.TokensAt(l.clock.Now()) >= 1, nil
}

func (l *LocalAttemptLimiter) RecordFailure(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if len(l.limiters) >= localLimiterPruneSize {
		l.prune(now)
	}
	l.get(key).AllowN(now, 1)
	return nil
}

func (l *LocalAttemptLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.limiters, key)
	l.mu.Unlock()
	return nil
}

// prune drops keys whose allowance has fully refilled.
func (l *LocalAttemptLimiter) prune(now time.Time) {
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
}
