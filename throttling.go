/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package msglimit

import (
	"fmt"
	"sync"
	"time"
)

// ThrottlingLimiter admits at most one message per user per fixed minimum
// interval. Only the last admitted timestamp is kept per user; it is
// overwritten on each admission and never removed in the default mode, so
// with maxKeys == 0 the tracked user set grows for the lifetime of the
// limiter. Pass maxKeys > 0 to bound memory with LRU eviction of the least
// recently active users.
type ThrottlingLimiter struct {
	minInterval time.Duration

	mu      sync.Mutex
	history *userStore[time.Time]

	now func() time.Time
}

var _ MessageLimiter = (*ThrottlingLimiter)(nil)

// NewThrottlingLimiter creates a new throttling message limiter.
// minInterval is the minimum gap between consecutive admitted messages of
// the same user. maxKeys bounds the number of users tracked simultaneously
// (LRU eviction); 0 means unbounded tracking.
func NewThrottlingLimiter(minInterval time.Duration, maxKeys int) (*ThrottlingLimiter, error) {
	if minInterval <= 0 {
		return nil, fmt.Errorf("min interval should be positive, got %s", minInterval)
	}
	if maxKeys < 0 {
		return nil, fmt.Errorf("max keys should be >= 0, got %d", maxKeys)
	}
	history, err := newUserStore[time.Time](maxKeys)
	if err != nil {
		return nil, err
	}
	return &ThrottlingLimiter{
		minInterval: minInterval,
		history:     history,
		now:         time.Now,
	}, nil
}

// CanSend reports whether the minimum interval has elapsed since the user's
// last admitted message. The interval boundary is inclusive: a message sent
// exactly minInterval after the previous one is admitted. Users with no
// prior messages are always admitted.
func (l *ThrottlingLimiter) CanSend(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canSend(userID, l.now())
}

// Record admits and records a message for the user, overwriting its last
// admitted timestamp. It returns false without any mutation if the minimum
// interval has not elapsed yet.
func (l *ThrottlingLimiter) Record(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.canSend(userID, now) {
		return false
	}
	l.history.set(userID, now)
	return true
}

// TimeUntilNextAllowed reports how long the user should wait until the
// minimum interval elapses. Returns 0 if the user has no recorded messages.
func (l *ThrottlingLimiter) TimeUntilNextAllowed(userID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.history.get(userID)
	if !ok {
		return 0
	}
	wait := l.minInterval - l.now().Sub(last)
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (l *ThrottlingLimiter) canSend(userID string, now time.Time) bool {
	last, ok := l.history.get(userID)
	if !ok {
		return true
	}
	return now.Sub(last) >= l.minInterval
}

func (l *ThrottlingLimiter) algName() string {
	return AlgThrottling
}
