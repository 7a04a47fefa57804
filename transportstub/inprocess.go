package transportstub

import (
	"sync"

	"github.com/coremesh/ccrouter/router"
)

// InProcessTransport serves InProcess addresses by handing messages
// directly to a registered handler, with no serialization — the shortest
// path in the router (spec.md §9's tagged-variant design note singles this
// kind out as the in-process case).
type InProcessTransport struct {
	mu       sync.RWMutex
	handlers map[string]func(message *router.ImmutableMessage)
}

// NewInProcessTransport constructs an empty transport.
func NewInProcessTransport() *InProcessTransport {
	return &InProcessTransport{handlers: make(map[string]func(message *router.ImmutableMessage))}
}

// RegisterHandler binds a direct message handler under id, matching the
// InProcessID used when the corresponding routing entry was added.
func (t *InProcessTransport) RegisterHandler(id string, handler func(message *router.ImmutableMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[id] = handler
}

// UnregisterHandler removes a previously registered handler.
func (t *InProcessTransport) UnregisterHandler(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, id)
}

// CanCreate reports whether addr is an InProcess address with a registered
// handler.
func (t *InProcessTransport) CanCreate(addr router.Address) bool {
	if addr.Kind != router.KindInProcess {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.handlers[addr.InProcessID]
	return ok
}

// Create returns a Stub that calls the registered handler directly,
// synchronously, with no transport round-trip.
func (t *InProcessTransport) Create(addr router.Address) (router.Stub, bool) {
	if addr.Kind != router.KindInProcess {
		return nil, false
	}
	t.mu.RLock()
	handler, ok := t.handlers[addr.InProcessID]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return router.StubFunc(func(message *router.ImmutableMessage, onFailure func(router.JoynrRuntimeException)) {
		handler(message)
	}), true
}
