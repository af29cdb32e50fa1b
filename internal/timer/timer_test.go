package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartFiresOnce(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	tm := Start(10*time.Millisecond, func() {
		calls.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, tm.Fired())
	assert.False(t, tm.Cancelled())
}

func TestCancelBeforeFire(t *testing.T) {
	var calls atomic.Int32
	tm := Start(20*time.Millisecond, func() { calls.Add(1) })

	require.True(t, tm.Cancel())
	assert.False(t, tm.Cancel(), "second cancel is a no-op")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.True(t, tm.Cancelled())
	assert.False(t, tm.Fired())
}

func TestCancelAfterFireHasNoEffect(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	finished := make(chan struct{})
	tm := Start(time.Millisecond, func() {
		close(started)
		<-release
		close(finished)
	})

	<-started
	assert.False(t, tm.Cancel(), "in-flight callback cannot be cancelled")
	close(release)

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("in-flight callback did not complete")
	}
}

func TestCancelNil(t *testing.T) {
	var tm *Timer
	assert.False(t, tm.Cancel())
}

func TestRemaining(t *testing.T) {
	tm := Start(time.Hour, func() {})
	defer tm.Cancel()

	assert.Greater(t, tm.Remaining(), 59*time.Minute)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tm.Deadline(), time.Second)
}
