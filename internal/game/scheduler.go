package game

import (
	"sync"
	"time"
)

// Scheduler runs at most one delayed task per key. Scheduling a key again replaces
// its pending task, and a canceled task never runs.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	stopped bool
}

type task struct {
	timer *time.Timer
}

func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*task)}
}

func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old := s.tasks[key]; old != nil {
		old.timer.Stop()
	}
	t := &task{}
	t.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.tasks[key] != t {
			// replaced or canceled after the timer already fired
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()
		fn()
	})
	s.tasks[key] = t
}

func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.tasks[key]; t != nil {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}

// Pending reports whether key has a task waiting to run.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[key] != nil
}

// Stop cancels every pending task and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}
