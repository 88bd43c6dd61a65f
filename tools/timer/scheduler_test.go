package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAfterFires(t *testing.T) {
	s := NewScheduler()
	defer s.StopAll()

	done := make(chan struct{})
	s.After(10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never fired")
	}
}

func TestTaskCancel(t *testing.T) {
	s := NewScheduler()
	defer s.StopAll()

	var fired atomic.Bool
	task := s.After(20*time.Millisecond, func() { fired.Store(true) })
	task.Cancel()
	task.Cancel()

	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.False(t, task.Reset(time.Millisecond), "canceled task must not re-arm")
}

func TestTaskResetDebounces(t *testing.T) {
	s := NewScheduler()
	defer s.StopAll()

	var firedAt atomic.Int64
	start := time.Now()
	task := s.After(30*time.Millisecond, func() {
		firedAt.Store(int64(time.Since(start)))
	})

	time.Sleep(20 * time.Millisecond)
	assert.True(t, task.Reset(30*time.Millisecond))

	time.Sleep(100 * time.Millisecond)
	got := time.Duration(firedAt.Load())
	assert.GreaterOrEqual(t, got, 45*time.Millisecond, "reset must push the deadline out")
}

func TestEveryTicksUntilStopped(t *testing.T) {
	s := NewScheduler()
	defer s.StopAll()

	var ticks atomic.Int32
	tk := s.Every(10*time.Millisecond, func() { ticks.Add(1) })

	time.Sleep(55 * time.Millisecond)
	tk.Stop()
	n := ticks.Load()
	assert.GreaterOrEqual(t, n, int32(2))

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, n, ticks.Load(), "no ticks after Stop")
}

func TestStopAllRefusesNewWork(t *testing.T) {
	s := NewScheduler()

	var fired atomic.Bool
	s.After(10*time.Millisecond, func() { fired.Store(true) })
	s.StopAll()

	s.After(5*time.Millisecond, func() { fired.Store(true) })
	s.Every(5*time.Millisecond, func() { fired.Store(true) })

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestCallbackPanicIsIsolated(t *testing.T) {
	s := NewScheduler()
	defer s.StopAll()

	done := make(chan struct{})
	s.After(5*time.Millisecond, func() { panic("boom") })
	s.After(15*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second task never fired")
	}
}
