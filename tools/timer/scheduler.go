package timer

import (
	"sync"
	"time"

	"github.com/lexport/chatlink/tools/safe"
)

// Scheduler owns every timer a component arms, so teardown is a single
// StopAll instead of chasing ambient timer handles across methods. Tasks
// are one-shot and resettable (debounce); tickers are periodic.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[*Task]struct{}
	tickers map[*Ticker]struct{}
	stopped bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		tasks:   make(map[*Task]struct{}),
		tickers: make(map[*Ticker]struct{}),
	}
}

// Task is a cancelable one-shot timer handle.
type Task struct {
	mu    sync.Mutex
	timer *time.Timer
	sched *Scheduler
	done  bool
}

// After runs f once after d. The callback is panic-isolated.
func (s *Scheduler) After(d time.Duration, f func()) *Task {
	t := &Task{sched: s}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		t.done = true
		return t
	}
	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		if t.done {
			t.mu.Unlock()
			return
		}
		t.done = true
		t.mu.Unlock()
		s.forget(t)
		safe.Call(f)
	})
	s.tasks[t] = struct{}{}
	s.mu.Unlock()
	return t
}

// Reset re-arms the task for d from now. Returns false when the task has
// already fired or been canceled.
func (t *Task) Reset(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || t.timer == nil {
		return false
	}
	t.timer.Reset(d)
	return true
}

// Cancel stops the task; safe to call more than once.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	if t.sched != nil {
		t.sched.forget(t)
	}
}

// Ticker is a stoppable periodic timer handle.
type Ticker struct {
	stopCh chan struct{}
	once   sync.Once
	sched  *Scheduler
}

// Every runs f every interval until the ticker is stopped.
func (s *Scheduler) Every(interval time.Duration, f func()) *Ticker {
	tk := &Ticker{stopCh: make(chan struct{}), sched: s}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		tk.once.Do(func() { close(tk.stopCh) })
		return tk
	}
	s.tickers[tk] = struct{}{}
	s.mu.Unlock()

	safe.Go(func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-tk.stopCh:
				return
			case <-t.C:
				safe.Call(f)
			}
		}
	})
	return tk
}

// Stop halts the ticker; safe to call more than once.
func (tk *Ticker) Stop() {
	tk.once.Do(func() { close(tk.stopCh) })
	if tk.sched != nil {
		tk.sched.forgetTicker(tk)
	}
}

// StopAll cancels every outstanding task and ticker. The scheduler refuses
// new work afterwards.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	s.stopped = true
	tasks := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		tasks = append(tasks, t)
	}
	tickers := make([]*Ticker, 0, len(s.tickers))
	for tk := range s.tickers {
		tickers = append(tickers, tk)
	}
	s.tasks = make(map[*Task]struct{})
	s.tickers = make(map[*Ticker]struct{})
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	for _, tk := range tickers {
		tk.Stop()
	}
}

func (s *Scheduler) forget(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t)
	s.mu.Unlock()
}

func (s *Scheduler) forgetTicker(tk *Ticker) {
	s.mu.Lock()
	delete(s.tickers, tk)
	s.mu.Unlock()
}
