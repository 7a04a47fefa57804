package router

import (
	"container/list"
	"sync"
)

// queuedMessage is a message-queue entry: spec.md §3 names
// (recipient, message, arrival time), indexed both by PID and insertion
// order; the list.Element gives us insertion order for free and the
// perPID index gives us the per-PID view.
type queuedMessage struct {
	recipient string
	message   *ImmutableMessage
	arrival   int64
}

// MessageQueue holds messages whose recipient has no routing-table entry
// yet, per spec.md §4.3. Eviction is oldest-first and independently bounded
// by three caps: global count, per-recipient count, and total bytes.
type MessageQueue struct {
	mu sync.RWMutex

	limit          int
	perPIDLimit    int
	limitBytes     int64

	order  *list.List // of *queuedMessage, oldest at Front
	byPID  map[string]*list.List // of *list.Element (pointing into order)
	totalBytes int64
}

// NewMessageQueue constructs a queue bounded by the given caps. A cap of 0
// means unbounded, matching Settings' zero-value convention.
func NewMessageQueue(limit, perPIDLimit int, limitBytes int64) *MessageQueue {
	return &MessageQueue{
		limit:       limit,
		perPIDLimit: perPIDLimit,
		limitBytes:  limitBytes,
		order:       list.New(),
		byPID:       make(map[string]*list.List),
	}
}

// Queue appends message for recipient pid, evicting the oldest entries
// needed to satisfy every cap, and returns the evicted messages so the
// caller can synthesize error replies for request-like evictions.
func (q *MessageQueue) Queue(pid string, message *ImmutableMessage, arrival int64) []*ImmutableMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	elem := q.order.PushBack(&queuedMessage{recipient: pid, message: message, arrival: arrival})
	if q.byPID[pid] == nil {
		q.byPID[pid] = list.New()
	}
	q.byPID[pid].PushBack(elem)
	q.totalBytes += int64(len(message.Body))

	var evicted []*ImmutableMessage

	if q.perPIDLimit > 0 {
		for q.byPID[pid].Len() > q.perPIDLimit {
			evicted = append(evicted, q.evictOldestForPID(pid))
		}
	}
	if q.limit > 0 {
		for q.order.Len() > q.limit {
			evicted = append(evicted, q.evictGlobalOldest())
		}
	}
	if q.limitBytes > 0 {
		for q.totalBytes > q.limitBytes && q.order.Len() > 0 {
			evicted = append(evicted, q.evictGlobalOldest())
		}
	}

	messageQueueSizeGauge.Set(float64(q.order.Len()))
	for range evicted {
		messagesEvictedTotal.WithLabelValues("message-queue", "capacity").Inc()
	}
	return evicted
}

// evictOldestForPID removes the oldest queued message for pid. Caller holds
// q.mu.
func (q *MessageQueue) evictOldestForPID(pid string) *ImmutableMessage {
	pidList := q.byPID[pid]
	front := pidList.Front()
	orderElem := front.Value.(*list.Element)
	qm := orderElem.Value.(*queuedMessage)

	pidList.Remove(front)
	q.order.Remove(orderElem)
	q.totalBytes -= int64(len(qm.message.Body))
	q.cleanupEmptyPID(pid)
	return qm.message
}

// evictGlobalOldest removes the single oldest message system-wide. Caller
// holds q.mu.
func (q *MessageQueue) evictGlobalOldest() *ImmutableMessage {
	front := q.order.Front()
	qm := front.Value.(*queuedMessage)

	pidList := q.byPID[qm.recipient]
	for e := pidList.Front(); e != nil; e = e.Next() {
		if e.Value.(*list.Element) == front {
			pidList.Remove(e)
			break
		}
	}
	q.order.Remove(front)
	q.totalBytes -= int64(len(qm.message.Body))
	q.cleanupEmptyPID(qm.recipient)
	return qm.message
}

func (q *MessageQueue) cleanupEmptyPID(pid string) {
	if l, ok := q.byPID[pid]; ok && l.Len() == 0 {
		delete(q.byPID, pid)
	}
}

// Drain removes and returns, in insertion order, all messages queued for
// pid.
func (q *MessageQueue) Drain(pid string) []*ImmutableMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	pidList, ok := q.byPID[pid]
	if !ok {
		return nil
	}

	out := make([]*ImmutableMessage, 0, pidList.Len())
	for e := pidList.Front(); e != nil; e = e.Next() {
		orderElem := e.Value.(*list.Element)
		qm := orderElem.Value.(*queuedMessage)
		out = append(out, qm.message)
		q.order.Remove(orderElem)
		q.totalBytes -= int64(len(qm.message.Body))
	}
	delete(q.byPID, pid)
	messageQueueSizeGauge.Set(float64(q.order.Len()))
	return out
}

// Len reports the total number of messages currently queued, across all
// recipients.
func (q *MessageQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.order.Len()
}

// LenForPID reports the number of messages currently queued for pid.
func (q *MessageQueue) LenForPID(pid string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if l, ok := q.byPID[pid]; ok {
		return l.Len()
	}
	return 0
}
