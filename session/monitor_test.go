package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flagChecker struct {
	expired atomic.Bool
	checks  atomic.Int64
}

func (f *flagChecker) IsExpired(time.Duration) bool {
	f.checks.Add(1)
	return f.expired.Load()
}

func TestMonitorFiresOnce(t *testing.T) {
	checker := &flagChecker{}
	var fired atomic.Int64
	stop := StartMonitor(checker, time.Minute, 2*time.Millisecond, func() { fired.Add(1) })
	defer stop()

	require.Eventually(t, func() bool { return checker.checks.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Zero(t, fired.Load())

	checker.expired.Store(true)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)

	checks := checker.checks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), fired.Load())
	assert.Equal(t, checks, checker.checks.Load(), "polling stops after expiry")
}

func TestMonitorStop(t *testing.T) {
	checker := &flagChecker{}
	var fired atomic.Int64
	stop := StartMonitor(checker, time.Minute, 2*time.Millisecond, func() { fired.Add(1) })

	stop()
	stop()
	checker.expired.Store(true)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestMonitorStopFromCallback(t *testing.T) {
	checker := &flagChecker{}
	checker.expired.Store(true)
	done := make(chan struct{})
	var stop func()
	ready := make(chan struct{})
	stop = StartMonitor(checker, time.Minute, time.Millisecond, func() {
		<-ready
		stop()
		close(done)
	})
	close(ready)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback did not complete")
	}
}
