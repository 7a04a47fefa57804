package router

import (
	"testing"
	"time"
)

func futureExpiry() int64 {
	return time.Now().Add(time.Hour).UnixMilli()
}

func TestRoutingTable_UniqueEntry(t *testing.T) {
	rt := NewRoutingTable(nil)
	rt.Add("P1", NewInProcess("ref1"), false, futureExpiry(), false)
	rt.Add("P1", NewUDSClient("/tmp/a"), false, futureExpiry(), false)

	e, ok := rt.Lookup("P1")
	if !ok {
		t.Fatalf("expected an entry for P1")
	}
	if e.Address.Kind != KindInProcess {
		t.Fatalf("expected precedence to keep InProcess, got %s", e.Address.Kind)
	}
}

// TestRoutingTable_PrecedenceMonotonicity covers invariant 2: a
// lower-precedence update never displaces a higher-precedence entry.
func TestRoutingTable_PrecedenceMonotonicity(t *testing.T) {
	rt := NewRoutingTable(nil)
	ok := rt.Add("P1", NewGlobalBroker("tcp://broker", "T", "G1"), false, futureExpiry(), false)
	if !ok {
		t.Fatalf("expected GlobalBroker insert to succeed")
	}

	// S2: LocalServer is rejected by the validity filter outright, so the
	// add returns false, and the existing entry must remain GlobalBroker.
	ok = rt.Add("P1", NewUDSServer("/tmp/x"), false, futureExpiry(), false)
	if ok {
		t.Fatalf("expected LocalServer insert to be rejected by the validity filter")
	}

	e, _ := rt.Lookup("P1")
	if e.Address.Kind != KindGlobalBroker || e.Address.Topic != "T" || e.Address.GBID != "G1" {
		t.Fatalf("expected entry to remain GlobalBroker(G1,T), got %s", e.Address)
	}
}

func TestRoutingTable_IdempotentAdd(t *testing.T) {
	rt := NewRoutingTable(nil)
	addr := NewInProcess("ref1")
	rt.Add("P1", addr, true, futureExpiry(), false)
	rt.Add("P1", addr, true, futureExpiry(), false)

	e, ok := rt.Lookup("P1")
	if !ok || e.Address != addr {
		t.Fatalf("expected repeated identical add to be idempotent")
	}
}

func TestRoutingTable_RejectsLocalServer(t *testing.T) {
	rt := NewRoutingTable(nil)
	if rt.Add("P1", NewUDSServer("/tmp/x"), false, futureExpiry(), false) {
		t.Fatalf("expected LocalServer address to be rejected for insertion")
	}
	if rt.Contains("P1") {
		t.Fatalf("expected no entry after rejected insert")
	}
}

func TestRoutingTable_RejectsSelfReferentialGlobalBroker(t *testing.T) {
	own := NewGlobalBroker("tcp://broker", "self/topic", "G1")
	rt := NewRoutingTable(&own)
	if rt.Add("P1", NewGlobalBroker("tcp://broker", "self/topic", "G1"), false, futureExpiry(), false) {
		t.Fatalf("expected self-referential GlobalBroker topic to be rejected")
	}
}

func TestRoutingTable_LocalServerOverwritesLocalServer(t *testing.T) {
	// LocalServer itself cannot be inserted via Add (validity filter), but
	// the precedence rule still must allow LocalServer/LocalServer
	// overwrite when reached through equal-precedence paths; exercise the
	// rule function directly since Add can never hold a LocalServer entry.
	a := NewUDSServer("/tmp/a")
	b := NewUDSServer("/tmp/b")
	if !allowsUpdate(a, b) {
		t.Fatalf("expected LocalServer to overwrite LocalServer of equal precedence")
	}
}

func TestRoutingTable_StickyEntrySurvivesExpiry(t *testing.T) {
	rt := NewRoutingTable(nil)
	past := time.Now().Add(-time.Hour).UnixMilli()
	rt.Add("P1", NewInProcess("ref1"), false, past, true)

	if !rt.Contains("P1") {
		t.Fatalf("expected sticky entry to survive an expiry in the past")
	}
}

func TestRoutingTable_ExpiredEntryNotReturned(t *testing.T) {
	rt := NewRoutingTable(nil)
	past := time.Now().Add(-time.Hour).UnixMilli()
	rt.Add("P1", NewInProcess("ref1"), false, past, false)

	if rt.Contains("P1") {
		t.Fatalf("expected non-sticky expired entry to be treated as absent")
	}
}

func TestRoutingTable_RemoveDeletesStickyToo(t *testing.T) {
	rt := NewRoutingTable(nil)
	rt.Add("P1", NewInProcess("ref1"), false, futureExpiry(), true)
	rt.Remove("P1")
	if rt.Contains("P1") {
		t.Fatalf("expected explicit remove to delete a sticky entry")
	}
}

func TestRoutingTable_GCSweepsExpiredNonSticky(t *testing.T) {
	rt := NewRoutingTable(nil)
	past := time.Now().Add(-time.Hour).UnixMilli()
	rt.Add("P1", NewInProcess("ref1"), false, past, false)
	rt.Add("P2", NewInProcess("ref2"), false, past, true)

	rt.RunGC(10 * time.Millisecond)
	defer rt.Stop()

	time.Sleep(50 * time.Millisecond)

	rt.mu.RLock()
	_, p1ok := rt.entries["P1"]
	_, p2ok := rt.entries["P2"]
	rt.mu.RUnlock()

	if p1ok {
		t.Fatalf("expected GC to purge expired non-sticky entry P1")
	}
	if !p2ok {
		t.Fatalf("expected GC to leave sticky entry P2 alone")
	}
}
