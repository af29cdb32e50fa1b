// Package timer is a single-shot, cancellable delayed callback.
package timer

import (
	"sync"
	"time"
)

// Timer runs its callback once after the delay unless cancelled first.
// It does not cancel a previous Timer on its own; owners re-arm by cancelling
// the old handle and starting a new one.
type Timer struct {
	mu        sync.Mutex
	t         *time.Timer
	deadline  time.Time
	cancelled bool
	fired     bool
}

func Start(d time.Duration, fn func()) *Timer {
	tm := &Timer{deadline: time.Now().Add(d)}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.t = time.AfterFunc(d, func() {
		tm.mu.Lock()
		if tm.cancelled {
			tm.mu.Unlock()
			return
		}
		tm.fired = true
		tm.mu.Unlock()
		fn()
	})
	return tm
}

// Cancel is idempotent. It returns true when it prevented the callback from
// running. A callback that has already begun is not waited for.
func (tm *Timer) Cancel() bool {
	if tm == nil {
		return false
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.cancelled || tm.fired {
		return false
	}
	tm.cancelled = true
	tm.t.Stop()
	return true
}

func (tm *Timer) Cancelled() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.cancelled
}

func (tm *Timer) Fired() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.fired
}

func (tm *Timer) Deadline() time.Time { return tm.deadline }

// Remaining is zero once the deadline has passed.
func (tm *Timer) Remaining() time.Duration {
	if d := time.Until(tm.deadline); d > 0 {
		return d
	}
	return 0
}
