/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package msglimit provides per-user message-rate admission control for chat-like services.
//
// Two limiting disciplines with the same external shape are available:
// SlidingWindowLimiter bounds the number of admitted messages per user within
// a trailing time window, and ThrottlingLimiter enforces a minimum interval
// between consecutive admitted messages of the same user.
//
// State is local to a single process instance and keyed by an opaque user
// identifier. Both limiters are safe for concurrent use.
package msglimit

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/lrucache"
)

// Default configuration values for limiters.
const (
	DefaultWindowSize  = 10 * time.Second
	DefaultMaxRequests = 1
	DefaultMinInterval = 10 * time.Second
)

// MessageLimiter defines the admission control contract shared by all limiting algorithms.
type MessageLimiter interface {
	// CanSend reports whether one more message from the user would be admitted now.
	// It is a non-committing pre-check, but it may still prune stale internal state.
	CanSend(userID string) bool

	// Record admits and records a message for the user.
	// It returns false without any mutation if the message should be rejected.
	Record(userID string) bool

	// TimeUntilNextAllowed reports how long a rejected user should wait before retrying.
	// The returned duration is never negative; it is 0 for users with no relevant history.
	TimeUntilNextAllowed(userID string) time.Duration
}

// algorithmNamer is implemented by limiters that can label themselves in metrics.
type algorithmNamer interface {
	algName() string
}

// userStore keeps per-user limiter state either in a plain map (maxKeys == 0, unbounded)
// or in an LRU zone that evicts the least recently used user when maxKeys is exceeded.
type userStore[V any] struct {
	entries map[string]V
	lru     *lrucache.LRUCache[string, V]
}

func newUserStore[V any](maxKeys int) (*userStore[V], error) {
	if maxKeys == 0 {
		return &userStore[V]{entries: make(map[string]V)}, nil
	}
	lru, err := lrucache.New[string, V](maxKeys, nil)
	if err != nil {
		return nil, fmt.Errorf("new LRU in-memory store for user keys: %w", err)
	}
	return &userStore[V]{lru: lru}, nil
}

func (s *userStore[V]) get(userID string) (V, bool) {
	if s.lru != nil {
		return s.lru.Get(userID)
	}
	v, ok := s.entries[userID]
	return v, ok
}

func (s *userStore[V]) set(userID string, value V) {
	if s.lru != nil {
		s.lru.Add(userID, value)
		return
	}
	s.entries[userID] = value
}

func (s *userStore[V]) delete(userID string) {
	if s.lru != nil {
		s.lru.Remove(userID)
		return
	}
	delete(s.entries, userID)
}

func (s *userStore[V]) len() int {
	if s.lru != nil {
		return s.lru.Len()
	}
	return len(s.entries)
}
