// Package scheduler implements the delayed-runnable scheduler the dispatcher
// uses for backoff retries, per spec.md §4.9.
package scheduler

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Runnable is a unit of deferred work. It has no IsDeleteOnExit opt-out:
// ownership is left to the garbage collector (see Unschedule).
type Runnable interface {
	Run()
}

// handle identifies one scheduled timer for Unschedule.
type handle struct {
	timer    *time.Timer
	canceled *int32
}

// Handle is an opaque reference returned by Schedule.
type Handle = *handle

// DelayedScheduler invokes onWorkAvailable(runnable) after each runnable's
// configured delay, per spec.md §4.9. It does not run work itself; it hands
// fired runnables to onWorkAvailable, typically backed by a goroutine pool
// or channel owned by the caller.
type DelayedScheduler struct {
	mu              sync.Mutex
	onWorkAvailable func(Runnable)
	handles         map[*handle]struct{}
	shutdown        bool
	log             *log.Entry
}

// New constructs a scheduler that dispatches fired runnables to
// onWorkAvailable.
func New(onWorkAvailable func(Runnable), logger *log.Entry) *DelayedScheduler {
	return &DelayedScheduler{
		onWorkAvailable: onWorkAvailable,
		handles:         make(map[*handle]struct{}),
		log:             logger.WithField("component", "delayed-scheduler"),
	}
}

// Schedule arranges for onWorkAvailable(runnable) to be invoked after delay.
// Returns nil if the scheduler has already been shut down.
func (s *DelayedScheduler) Schedule(runnable Runnable, delay time.Duration) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		s.log.Debug("schedule called after shutdown, ignoring")
		return nil
	}

	var canceled int32
	h := &handle{canceled: &canceled}
	h.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, stillTracked := s.handles[h]
		delete(s.handles, h)
		s.mu.Unlock()
		if !stillTracked {
			return
		}
		s.onWorkAvailable(runnable)
	})
	s.handles[h] = struct{}{}
	return h
}

// Unschedule best-effort cancels a pending timer. If the timer already
// fired, this is a no-op: spec.md §4.9 says the runnable still runs unless
// it opts out via isDeleteOnExit=false, which in this Go rendition is the
// caller's own responsibility (Stop() returning false means "already
// fired, your runnable is on its way to onWorkAvailable").
func (s *DelayedScheduler) Unschedule(h Handle) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[h]; !ok {
		return
	}
	delete(s.handles, h)
	h.timer.Stop()
}

// Shutdown cancels all outstanding timers. Idempotent.
func (s *DelayedScheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	for h := range s.handles {
		h.timer.Stop()
	}
	s.handles = make(map[*handle]struct{})
}

// RunnableFunc adapts a plain function to Runnable.
type RunnableFunc func()

func (f RunnableFunc) Run() { f() }
