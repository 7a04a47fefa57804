package router

import "sync"

// ITransportStatus is the contract a transport exposes for availability
// gating, per spec.md §4.7/§6.
type ITransportStatus interface {
	IsAvailable() bool
	Subscribe(onAvailabilityChange func(available bool))
}

// parkedMessage is one entry in the transport-not-available queue.
type parkedMessage struct {
	message   *ImmutableMessage
	addr      Address
	tryCount  int
}

// TransportGate parks messages whose destination transport currently
// reports unavailable, and re-enters them via onAvailable once the
// transport comes back, per spec.md §4.7. Capacity is bounded by
// independent count and byte caps; eviction is oldest-first within one
// transport only (see evictOldestLocked), not across transports.
type TransportGate struct {
	mu sync.Mutex

	limit      int
	limitBytes int64

	byTransport map[ITransportStatus][]*parkedMessage
	totalCount  int
	totalBytes  int64

	onAvailable func(message *ImmutableMessage, addr Address, tryCount int)
	subscribed  map[ITransportStatus]struct{}
}

// NewTransportGate constructs a gate bounded by the given caps (0 = unbounded).
// onAvailable is invoked once per parked message when its transport becomes
// available again; the caller re-enters it into sendMessage.
func NewTransportGate(limit int, limitBytes int64, onAvailable func(message *ImmutableMessage, addr Address, tryCount int)) *TransportGate {
	return &TransportGate{
		limit:       limit,
		limitBytes:  limitBytes,
		byTransport: make(map[ITransportStatus][]*parkedMessage),
		onAvailable: onAvailable,
		subscribed:  make(map[ITransportStatus]struct{}),
	}
}

// Park holds message behind status until it reports available again. status
// is subscribed to exactly once across the gate's lifetime.
func (g *TransportGate) Park(status ITransportStatus, message *ImmutableMessage, addr Address, tryCount int) {
	g.mu.Lock()
	g.byTransport[status] = append(g.byTransport[status], &parkedMessage{message: message, addr: addr, tryCount: tryCount})
	g.totalCount++
	g.totalBytes += int64(len(message.Body))
	_, already := g.subscribed[status]
	if !already {
		g.subscribed[status] = struct{}{}
	}

	for g.limit > 0 && g.totalCount > g.limit {
		g.evictOldestLocked()
	}
	for g.limitBytes > 0 && g.totalBytes > g.limitBytes && g.totalCount > 0 {
		g.evictOldestLocked()
	}
	g.mu.Unlock()

	transportParkedGauge.WithLabelValues(statusLabelOf(status)).Set(float64(len(g.parkedFor(status))))

	if !already {
		status.Subscribe(func(available bool) {
			if available {
				g.release(status)
			}
		})
	}
}

func (g *TransportGate) parkedFor(status ITransportStatus) []*parkedMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.byTransport[status]
}

// evictOldestLocked drops the oldest parked message of the first transport
// with parked messages that map iteration yields. Which transport that is
// is not defined, so the dropped message is not necessarily the oldest one
// across all transports. Caller holds g.mu.
func (g *TransportGate) evictOldestLocked() {
	var oldestStatus ITransportStatus
	for status, msgs := range g.byTransport {
		if len(msgs) > 0 {
			oldestStatus = status
			break
		}
	}
	if oldestStatus == nil {
		return
	}
	msgs := g.byTransport[oldestStatus]
	evicted := msgs[0]
	g.byTransport[oldestStatus] = msgs[1:]
	g.totalCount--
	g.totalBytes -= int64(len(evicted.message.Body))
	messagesEvictedTotal.WithLabelValues("transport-gate", "capacity").Inc()
}

// release re-enters every message parked behind status into onAvailable.
func (g *TransportGate) release(status ITransportStatus) {
	g.mu.Lock()
	msgs := g.byTransport[status]
	delete(g.byTransport, status)
	for _, m := range msgs {
		g.totalCount--
		g.totalBytes -= int64(len(m.message.Body))
	}
	g.mu.Unlock()

	transportParkedGauge.WithLabelValues(statusLabelOf(status)).Set(0)
	for _, m := range msgs {
		g.onAvailable(m.message, m.addr, m.tryCount)
	}
}

// statusLabel is a small adapter so ITransportStatus implementations need
// not carry a metrics label themselves; types not implementing it fall back
// to a generic label.
type labeledTransportStatus interface {
	ITransportStatus
	Label() string
}

func statusLabelOf(status ITransportStatus) string {
	if l, ok := status.(labeledTransportStatus); ok {
		return l.Label()
	}
	return "unknown"
}
