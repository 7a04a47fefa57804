// Package sequencer implements the task sequencer, a single-worker FIFO
// engine for asynchronous tasks with per-task deadlines, per spec.md §4.8.
package sequencer

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Future is the minimal async handle a task produces: Wait blocks until the
// task's underlying work completes or fails.
type Future interface {
	// Wait blocks until the future resolves, returning its error (nil on
	// success).
	Wait() error
}

// Cancelable is an optional Future extension. If a task's Future implements
// it, Cancel uses it to force the in-flight future to resolve so the worker
// goroutine is not left blocked in Wait() forever — mirroring the original
// TaskSequencer, which holds the same shared future it waits on and can
// force an onError on it during cancel().
type Cancelable interface {
	Future
	CancelWait()
}

// errFuture is an already-resolved Future carrying a fixed error; used for
// the "nothing to do" placeholder described in spec.md §4.8 and the
// original TaskSequencer's nothingToDo().
type errFuture struct{ err error }

func (f errFuture) Wait() error { return f.err }

var errNoTaskAvailable = errors.New("no task available")

// nothingToDo returns the always-resolved placeholder future the sequencer
// holds whenever no real task is in flight — at startup and immediately
// after Cancel.
func nothingToDo() Future {
	return errFuture{err: errNoTaskAvailable}
}

// Task pairs a producer closure with an absolute deadline and an on-timeout
// closure, per spec.md §3/§4.8. Deadline is evaluated only at dequeue time,
// never by a separate timer: a task already running is never interrupted by
// its own deadline passing, but the deadline still applies if the task is
// still waiting in the queue when the worker reaches it.
type Task struct {
	Produce    func() Future
	DeadlineMs int64
	OnTimeout  func()
}

// TaskSequencer consumes tasks FIFO on a single worker goroutine, awaiting
// each task's Future before dequeuing the next, per spec.md §4.8/§5.
type TaskSequencer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []Task
	running bool

	current Future
	worker  sync.WaitGroup

	log *log.Entry
}

// New constructs and starts a TaskSequencer.
func New(logger *log.Entry) *TaskSequencer {
	s := &TaskSequencer{
		running: true,
		current: nothingToDo(),
		log:     logger.WithField("component", "task-sequencer"),
	}
	s.cond = sync.NewCond(&s.mu)
	s.worker.Add(1)
	go s.run()
	return s
}

// Add appends task to the FIFO queue. O(1); never blocks on task execution.
func (s *TaskSequencer) Add(task Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Cancel idempotently stops the worker and drops all pending tasks,
// releasing any memory captured by their closures. After Cancel returns, no
// closure captured by any pending task remains reachable from the
// sequencer, and no further tasks run even if already enqueued.
func (s *TaskSequencer) Cancel() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.tasks = nil // release all captured closures
	current := s.current
	s.cond.Broadcast()
	s.mu.Unlock()

	if c, ok := current.(Cancelable); ok {
		c.CancelWait()
	}

	s.worker.Wait()

	s.mu.Lock()
	s.current = nothingToDo() // release the in-flight future's captured memory too
	s.mu.Unlock()
}

func (s *TaskSequencer) run() {
	defer s.worker.Done()
	for {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.current.Wait()

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return
		}
		for len(s.tasks) == 0 && s.running {
			s.cond.Wait()
		}
		if !s.running {
			s.mu.Unlock()
			return
		}

		next := s.nextRunnableTaskLocked()
		s.mu.Unlock()

		if next == nil {
			s.mu.Lock()
			s.current = nothingToDo()
			s.mu.Unlock()
			continue
		}

		s.current = s.produceLocked(*next)
	}
}

// nextRunnableTaskLocked pops and returns the next task whose deadline has
// not yet passed, invoking OnTimeout and logging for every expired task it
// skips along the way. Caller holds s.mu. Returns nil if the queue is
// empty after skipping expired tasks.
func (s *TaskSequencer) nextRunnableTaskLocked() *Task {
	now := nowMs()
	for len(s.tasks) > 0 {
		t := s.tasks[0]
		s.tasks = s.tasks[1:]
		if t.DeadlineMs > 0 && now > t.DeadlineMs {
			s.log.Warn("task missed its deadline before starting, dropping")
			if t.OnTimeout != nil {
				t.OnTimeout()
			}
			continue
		}
		return &t
	}
	return nil
}

// produceLocked runs a task's producer closure, guarding against a nil
// closure, a panic, or a nil Future result the way the original's run()
// loop guards against an empty factory or thrown exception.
func (s *TaskSequencer) produceLocked(t Task) (future Future) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("task producer panicked, continuing with next task")
			future = nothingToDo()
		}
	}()

	if t.Produce == nil {
		s.log.Error("dropping nil task")
		return nothingToDo()
	}
	f := t.Produce()
	if f == nil {
		s.log.Error("task producer returned a nil future, continuing with next task")
		return nothingToDo()
	}
	return f
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
