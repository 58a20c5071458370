package scheduler

import (
	"sync"
	"time"
)

// Kind names a timer slot. Each kind holds at most one pending timer.
type Kind string

const (
	KindRefresh   Kind = "refresh"
	KindReconnect Kind = "reconnect"
	KindWhale     Kind = "whale"
)

type entry struct {
	timer *time.Timer
}

// Scheduler runs deferred and periodic callbacks keyed by Kind.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[Kind]*entry
	stopped bool
}

func New() *Scheduler {
	return &Scheduler{timers: make(map[Kind]*entry)}
}

// Schedule runs fn once after delay, replacing any pending timer of the same kind.
func (s *Scheduler) Schedule(kind Kind, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduleLocked(kind, delay, fn)
}

// ScheduleIfIdle is Schedule, except it does nothing while a timer of that kind is pending.
func (s *Scheduler) ScheduleIfIdle(kind Kind, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[kind]; ok {
		return false
	}
	return s.scheduleLocked(kind, delay, fn)
}

func (s *Scheduler) scheduleLocked(kind Kind, delay time.Duration, fn func()) bool {
	if s.stopped {
		return false
	}
	s.cancelLocked(kind)

	e := &entry{}
	e.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[kind] != e {
			// replaced or cancelled after the timer already fired
			s.mu.Unlock()
			return
		}
		delete(s.timers, kind)
		s.mu.Unlock()
		fn()
	})
	s.timers[kind] = e
	return true
}

// Every runs fn each interval until the kind is cancelled. The first run is one interval out.
func (s *Scheduler) Every(kind Kind, interval time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.cancelLocked(kind)

	e := &entry{}
	var fire func()
	fire = func() {
		s.mu.Lock()
		if s.timers[kind] != e {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		fn()

		s.mu.Lock()
		if s.timers[kind] == e {
			e.timer = time.AfterFunc(interval, fire)
		}
		s.mu.Unlock()
	}
	e.timer = time.AfterFunc(interval, fire)
	s.timers[kind] = e
}

// Cancel stops the pending timer of kind. It reports whether one was pending.
func (s *Scheduler) Cancel(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(kind)
}

func (s *Scheduler) cancelLocked(kind Kind) bool {
	e, ok := s.timers[kind]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, kind)
	return true
}

// Pending reports whether a timer of kind is armed.
func (s *Scheduler) Pending(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[kind]
	return ok
}

// Stop cancels everything; later Schedule/Every calls are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind := range s.timers {
		s.cancelLocked(kind)
	}
	s.stopped = true
}
