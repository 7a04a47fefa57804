package router

import "testing"

func msg(id string, typ MessageType, recipient string, bodyLen int) *ImmutableMessage {
	return NewImmutableMessage(id, typ, "sender", recipient, futureExpiry(), nil, make([]byte, bodyLen))
}

func TestMessageQueue_QueueThenDrainInOrder(t *testing.T) {
	q := NewMessageQueue(0, 0, 0)
	evicted := q.Queue("P9", msg("m1", MessageTypeRequest, "P9", 0), 1)
	if len(evicted) != 0 {
		t.Fatalf("expected no eviction, got %d", len(evicted))
	}
	q.Queue("P9", msg("m2", MessageTypeRequest, "P9", 0), 2)

	drained := q.Drain("P9")
	if len(drained) != 2 || drained[0].ID != "m1" || drained[1].ID != "m2" {
		t.Fatalf("expected [m1 m2] in insertion order, got %v", drained)
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after drain")
	}
}

func TestMessageQueue_PerPIDCapEvictsOldestForThatPID(t *testing.T) {
	q := NewMessageQueue(0, 2, 0)
	q.Queue("P1", msg("a", MessageTypeOneWay, "P1", 0), 1)
	q.Queue("P1", msg("b", MessageTypeOneWay, "P1", 0), 2)
	evicted := q.Queue("P1", msg("c", MessageTypeOneWay, "P1", 0), 3)

	if len(evicted) != 1 || evicted[0].ID != "a" {
		t.Fatalf("expected oldest message 'a' evicted, got %v", evicted)
	}
	remaining := q.Drain("P1")
	if len(remaining) != 2 || remaining[0].ID != "b" || remaining[1].ID != "c" {
		t.Fatalf("expected [b c] remaining, got %v", remaining)
	}
}

func TestMessageQueue_GlobalCapEvictsOldestSystemWide(t *testing.T) {
	q := NewMessageQueue(2, 0, 0)
	q.Queue("P1", msg("a", MessageTypeOneWay, "P1", 0), 1)
	q.Queue("P2", msg("b", MessageTypeOneWay, "P2", 0), 2)
	evicted := q.Queue("P3", msg("c", MessageTypeOneWay, "P3", 0), 3)

	if len(evicted) != 1 || evicted[0].ID != "a" {
		t.Fatalf("expected global-oldest 'a' evicted, got %v", evicted)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 messages remaining, got %d", q.Len())
	}
}

func TestMessageQueue_ByteCapEvictsOldest(t *testing.T) {
	q := NewMessageQueue(0, 0, 10)
	q.Queue("P1", msg("a", MessageTypeOneWay, "P1", 6), 1)
	evicted := q.Queue("P1", msg("b", MessageTypeOneWay, "P1", 6), 2)

	if len(evicted) != 1 || evicted[0].ID != "a" {
		t.Fatalf("expected 'a' evicted by byte cap, got %v", evicted)
	}
}

func TestMessageQueue_RequestLikeEvictionIsCallerDetectable(t *testing.T) {
	q := NewMessageQueue(0, 1, 0)
	q.Queue("P1", msg("req1", MessageTypeRequest, "P1", 0), 1)
	evicted := q.Queue("P1", msg("req2", MessageTypeRequest, "P1", 0), 2)

	if len(evicted) != 1 || !evicted[0].Type.isRequestLike() {
		t.Fatalf("expected evicted message to be request-like so dispatcher can synthesize an error reply")
	}
}

func TestMessageQueue_DrainUnknownPIDIsEmpty(t *testing.T) {
	q := NewMessageQueue(0, 0, 0)
	if drained := q.Drain("nope"); drained != nil {
		t.Fatalf("expected nil for unknown pid, got %v", drained)
	}
}
