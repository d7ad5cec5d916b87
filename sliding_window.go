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

// SlidingWindowLimiter bounds the number of admitted messages per user
// within a trailing time window of fixed duration.
//
// Timestamps of admitted messages are kept in a per-user log ordered by
// arrival. Entries strictly older than the window are lazily evicted at the
// start of each operation, and a user's log is removed entirely once it
// becomes empty. Each evicted timestamp is visited at most once, so the
// amortized cost of eviction is low.
type SlidingWindowLimiter struct {
	windowSize  time.Duration
	maxRequests int

	mu      sync.Mutex
	history *userStore[[]time.Time]

	now func() time.Time
}

var _ MessageLimiter = (*SlidingWindowLimiter)(nil)

// NewSlidingWindowLimiter creates a new sliding window message limiter.
// windowSize is the trailing window duration, maxRequests is the per-user
// capacity within the window. maxKeys bounds the number of users tracked
// simultaneously (LRU eviction); 0 means unbounded tracking.
func NewSlidingWindowLimiter(windowSize time.Duration, maxRequests, maxKeys int) (*SlidingWindowLimiter, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size should be positive, got %s", windowSize)
	}
	if maxRequests < 1 {
		return nil, fmt.Errorf("max requests should be >= 1, got %d", maxRequests)
	}
	if maxKeys < 0 {
		return nil, fmt.Errorf("max keys should be >= 0, got %d", maxKeys)
	}
	history, err := newUserStore[[]time.Time](maxKeys)
	if err != nil {
		return nil, err
	}
	return &SlidingWindowLimiter{
		windowSize:  windowSize,
		maxRequests: maxRequests,
		history:     history,
		now:         time.Now,
	}, nil
}

// CanSend reports whether one more message from the user would keep its
// in-window count at or below the limit. Stale entries are evicted as part
// of the check, so the call is not free of side effects on internal state,
// but repeated calls without intervening Record calls keep returning the
// same result.
func (l *SlidingWindowLimiter) CanSend(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canSend(userID, l.now())
}

// Record admits and records a message for the user, appending the current
// timestamp to its log. It returns false without any mutation besides
// eviction if the user's window is already full.
func (l *SlidingWindowLimiter) Record(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if !l.canSend(userID, now) {
		return false
	}
	timestamps, _ := l.history.get(userID)
	l.history.set(userID, append(timestamps, now))
	return true
}

// TimeUntilNextAllowed reports how long the user should wait before
// retrying, measured until the most recent recorded message exits the
// window. With maxRequests > 1 this is a conservative estimate: the oldest
// retained entry frees its slot earlier. The reported boundary is
// exclusive: eviction is strict, so a retry at exactly the reported
// instant still finds the timestamp inside the window and is admitted
// only strictly after the wait elapses. Returns 0 if the user has no
// retained history.
func (l *SlidingWindowLimiter) TimeUntilNextAllowed(userID string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictStale(userID, now)
	timestamps, ok := l.history.get(userID)
	if !ok {
		return 0
	}
	wait := l.windowSize - now.Sub(timestamps[len(timestamps)-1])
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (l *SlidingWindowLimiter) canSend(userID string, now time.Time) bool {
	l.evictStale(userID, now)
	timestamps, ok := l.history.get(userID)
	if !ok {
		return true
	}
	return len(timestamps) < l.maxRequests
}

// evictStale removes from the front of the user's log all timestamps
// strictly older than now minus the window. Front removal is correct only
// because the log is maintained in ascending order. The user's entry is
// deleted entirely when the log empties.
func (l *SlidingWindowLimiter) evictStale(userID string, now time.Time) {
	timestamps, ok := l.history.get(userID)
	if !ok {
		return
	}
	cutoff := now.Add(-l.windowSize)
	i := 0
	for i < len(timestamps) && timestamps[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	timestamps = timestamps[i:]
	if len(timestamps) == 0 {
		l.history.delete(userID)
		return
	}
	l.history.set(userID, timestamps)
}

func (l *SlidingWindowLimiter) algName() string {
	return AlgSlidingWindow
}
