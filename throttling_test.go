/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package msglimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ThrottlingLimiterTestSuite contains tests for ThrottlingLimiter.
type ThrottlingLimiterTestSuite struct {
	suite.Suite
	currentTime time.Time
}

func TestThrottlingLimiter(t *testing.T) {
	suite.Run(t, new(ThrottlingLimiterTestSuite))
}

func (ts *ThrottlingLimiterTestSuite) mustMakeLimiter(minInterval time.Duration, maxKeys int) *ThrottlingLimiter {
	limiter, err := NewThrottlingLimiter(minInterval, maxKeys)
	ts.Require().NoError(err)
	ts.currentTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return ts.currentTime }
	return limiter
}

func (ts *ThrottlingLimiterTestSuite) advance(d time.Duration) {
	ts.currentTime = ts.currentTime.Add(d)
}

func (ts *ThrottlingLimiterTestSuite) TestMinIntervalBoundaryIsInclusive() {
	limiter := ts.mustMakeLimiter(time.Second*10, 0)

	ts.True(limiter.Record("B"))

	ts.advance(time.Millisecond * 9900)
	ts.False(limiter.CanSend("B"))
	ts.False(limiter.Record("B"))

	ts.advance(time.Millisecond * 100) // Exactly 10s since the last admitted message.
	ts.True(limiter.CanSend("B"))
	ts.True(limiter.Record("B"))
}

func (ts *ThrottlingLimiterTestSuite) TestTimeUntilNextAllowed() {
	limiter := ts.mustMakeLimiter(time.Second*10, 0)

	ts.Equal(time.Duration(0), limiter.TimeUntilNextAllowed("B"))

	ts.True(limiter.Record("B"))
	ts.advance(time.Second * 3)
	ts.Equal(time.Second*7, limiter.TimeUntilNextAllowed("B"))

	ts.advance(time.Second * 20)
	ts.Equal(time.Duration(0), limiter.TimeUntilNextAllowed("B"))
}

func (ts *ThrottlingLimiterTestSuite) TestRetryAfterReportedWaitSucceeds() {
	limiter := ts.mustMakeLimiter(time.Second*10, 0)

	ts.True(limiter.Record("B"))
	ts.advance(time.Second * 4)
	ts.False(limiter.Record("B"))

	ts.advance(limiter.TimeUntilNextAllowed("B"))
	ts.True(limiter.Record("B")) // The interval boundary is inclusive.
}

func (ts *ThrottlingLimiterTestSuite) TestUsersAreIndependent() {
	limiter := ts.mustMakeLimiter(time.Second*10, 0)

	ts.True(limiter.Record("A"))
	ts.False(limiter.Record("A"))

	ts.True(limiter.Record("B"))
	ts.advance(time.Second * 5)
	ts.True(limiter.Record("C"))
	ts.False(limiter.Record("B"))
}

func (ts *ThrottlingLimiterTestSuite) TestEntryIsKeptAfterIntervalElapses() {
	limiter := ts.mustMakeLimiter(time.Second*10, 0)

	ts.True(limiter.Record("B"))
	ts.advance(time.Second * 30)

	// The user becomes admittable again, but its entry is overwritten, never removed.
	ts.True(limiter.CanSend("B"))
	ts.Equal(1, limiter.history.len())
}

func (ts *ThrottlingLimiterTestSuite) TestMaxKeysBoundsTrackedUsers() {
	limiter := ts.mustMakeLimiter(time.Second*10, 2)

	ts.True(limiter.Record("A"))
	ts.True(limiter.Record("B"))
	ts.True(limiter.Record("C"))
	ts.Equal(2, limiter.history.len())

	ts.True(limiter.CanSend("A"))
	ts.False(limiter.CanSend("C"))
}

func (ts *ThrottlingLimiterTestSuite) TestConstructorValidation() {
	tests := []struct {
		name        string
		minInterval time.Duration
		maxKeys     int
	}{
		{name: "zero min interval", minInterval: 0},
		{name: "negative min interval", minInterval: -time.Second},
		{name: "negative max keys", minInterval: time.Second, maxKeys: -1},
	}
	for _, tt := range tests {
		ts.Run(tt.name, func() {
			limiter, err := NewThrottlingLimiter(tt.minInterval, tt.maxKeys)
			ts.Error(err)
			ts.Nil(limiter)
		})
	}
}

func (ts *ThrottlingLimiterTestSuite) TestConcurrentRecordAdmitsOne() {
	const callers = 100

	limiter, err := NewThrottlingLimiter(time.Minute, 0)
	ts.Require().NoError(err)

	var admitted int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.Record("B") {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	ts.Equal(int64(1), admitted)
}
