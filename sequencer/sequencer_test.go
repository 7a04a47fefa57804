package sequencer

import (
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

// testFuture is a simple resolvable future: Resolve unblocks Wait.
type testFuture struct {
	done chan struct{}
	err  error
	once sync.Once
}

func newTestFuture() *testFuture {
	return &testFuture{done: make(chan struct{})}
}

func (f *testFuture) Wait() error {
	<-f.done
	return f.err
}

func (f *testFuture) Resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *testFuture) CancelWait() {
	f.Resolve(nil)
}

func newEntry() *log.Entry { return log.NewEntry(log.StandardLogger()) }

func TestTaskSequencer_RunsTasksInFIFOOrder(t *testing.T) {
	s := New(newEntry())
	defer s.Cancel()

	var mu sync.Mutex
	var order []string

	makeTask := func(name string) Task {
		return Task{Produce: func() Future {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			f := newTestFuture()
			f.Resolve(nil)
			return f
		}}
	}

	done := make(chan struct{})
	s.Add(makeTask("A"))
	s.Add(Task{Produce: func() Future {
		mu.Lock()
		order = append(order, "B")
		mu.Unlock()
		f := newTestFuture()
		f.Resolve(nil)
		close(done)
		return f
	}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tasks to run")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("expected [A B], got %v", order)
	}
}

func TestTaskSequencer_SecondTaskWaitsForFirstFutureToResolve(t *testing.T) {
	s := New(newEntry())
	defer s.Cancel()

	firstStarted := make(chan struct{})
	firstFuture := newTestFuture()
	secondStarted := make(chan struct{})

	s.Add(Task{Produce: func() Future {
		close(firstStarted)
		return firstFuture
	}})
	s.Add(Task{Produce: func() Future {
		close(secondStarted)
		f := newTestFuture()
		f.Resolve(nil)
		return f
	}})

	<-firstStarted

	select {
	case <-secondStarted:
		t.Fatal("second task must not start before first task's future resolves")
	case <-time.After(50 * time.Millisecond):
	}

	firstFuture.Resolve(nil)

	select {
	case <-secondStarted:
	case <-time.After(time.Second):
		t.Fatal("expected second task to start after first future resolved")
	}
}

func TestTaskSequencer_NilTaskClosureIsSkipped(t *testing.T) {
	s := New(newEntry())
	defer s.Cancel()

	done := make(chan struct{})
	s.Add(Task{Produce: nil})
	s.Add(Task{Produce: func() Future {
		f := newTestFuture()
		f.Resolve(nil)
		close(done)
		return f
	}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected sequencer to skip the nil task and continue")
	}
}

func TestTaskSequencer_ExpiredTaskInvokesOnTimeoutInsteadOfRunning(t *testing.T) {
	s := New(newEntry())
	defer s.Cancel()

	ran := false
	timedOut := make(chan struct{})

	s.Add(Task{
		Produce:    func() Future { ran = true; f := newTestFuture(); f.Resolve(nil); return f },
		DeadlineMs: time.Now().Add(-time.Hour).UnixMilli(),
		OnTimeout:  func() { close(timedOut) },
	})

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("expected expired task to invoke OnTimeout")
	}
	if ran {
		t.Fatal("expected expired task to never run its producer")
	}
}

func TestTaskSequencer_CancelIsIdempotentAndStopsFutureTasks(t *testing.T) {
	s := New(newEntry())
	s.Cancel()
	s.Cancel() // must not panic or block

	ran := false
	s.Add(Task{Produce: func() Future {
		ran = true
		f := newTestFuture()
		f.Resolve(nil)
		return f
	}})

	time.Sleep(50 * time.Millisecond)
	if ran {
		t.Fatal("expected no task to run after Cancel")
	}
}
