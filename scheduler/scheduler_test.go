package scheduler

import (
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestDelayedScheduler_FiresAfterDelay(t *testing.T) {
	var mu sync.Mutex
	var fired []string
	s := New(func(r Runnable) {
		r.Run()
	}, log.NewEntry(log.StandardLogger()))

	s.Schedule(RunnableFunc(func() {
		mu.Lock()
		fired = append(fired, "a")
		mu.Unlock()
	}), 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 {
		t.Fatalf("expected runnable to fire once, got %d", len(fired))
	}
}

func TestDelayedScheduler_UnscheduleCancelsBeforeFire(t *testing.T) {
	var mu sync.Mutex
	fired := false
	s := New(func(r Runnable) {
		mu.Lock()
		fired = true
		mu.Unlock()
	}, log.NewEntry(log.StandardLogger()))

	h := s.Schedule(RunnableFunc(func() {}), 50*time.Millisecond)
	s.Unschedule(h)

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatalf("expected unscheduled runnable to never fire")
	}
}

func TestDelayedScheduler_ShutdownCancelsAllOutstanding(t *testing.T) {
	var mu sync.Mutex
	count := 0
	s := New(func(r Runnable) {
		mu.Lock()
		count++
		mu.Unlock()
	}, log.NewEntry(log.StandardLogger()))

	s.Schedule(RunnableFunc(func() {}), 50*time.Millisecond)
	s.Schedule(RunnableFunc(func() {}), 60*time.Millisecond)
	s.Shutdown()

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Fatalf("expected shutdown to cancel all outstanding timers, got %d fired", count)
	}
}

func TestDelayedScheduler_ScheduleAfterShutdownIsNoop(t *testing.T) {
	s := New(func(r Runnable) {}, log.NewEntry(log.StandardLogger()))
	s.Shutdown()
	h := s.Schedule(RunnableFunc(func() {}), time.Millisecond)
	if h != nil {
		t.Fatalf("expected nil handle after shutdown")
	}
}
