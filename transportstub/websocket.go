package transportstub

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coremesh/ccrouter/router"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WebSocketTransport serves LocalClient and LocalServer addresses backed by
// a WebSocket connection. It acts as both the stub factory (one connection
// per URL, dialed lazily) and the inbound skeleton (accepting connections
// and decoding frames into ImmutableMessage envelopes for onRoute).
type WebSocketTransport struct {
	mu       sync.Mutex
	conns    map[string]*websocket.Conn  // keyed by URL
	statuses map[string]*transportStatus // keyed by URL
	dialer   *websocket.Dialer
	onRoute  func(message *router.ImmutableMessage)
	log      *log.Entry
}

// NewWebSocketTransport constructs a transport. onRoute is called for every
// frame received on an accepted server connection.
func NewWebSocketTransport(onRoute func(message *router.ImmutableMessage), logger *log.Entry) *WebSocketTransport {
	return &WebSocketTransport{
		conns:    make(map[string]*websocket.Conn),
		statuses: make(map[string]*transportStatus),
		dialer:   websocket.DefaultDialer,
		onRoute:  onRoute,
		log:      logger.WithField("component", "websocket-transport"),
	}
}

// CanCreate reports whether addr is a WebSocket-backed LocalClient or
// LocalServer address.
func (t *WebSocketTransport) CanCreate(addr router.Address) bool {
	return (addr.Kind == router.KindLocalClient || addr.Kind == router.KindLocalServer) &&
		addr.Transport == router.TransportWebSocket
}

// Create dials (or reuses) a connection to addr.URL and returns a Stub that
// writes binary frames to it.
func (t *WebSocketTransport) Create(addr router.Address) (router.Stub, bool) {
	if !t.CanCreate(addr) {
		return nil, false
	}

	t.mu.Lock()
	conn, ok := t.conns[addr.URL]
	status, hasStatus := t.statuses[addr.URL]
	if !hasStatus {
		status = newTransportStatus(fmt.Sprintf("ws:%s", addr.URL), false)
		t.statuses[addr.URL] = status
	}
	if !ok {
		var err error
		conn, _, err = t.dialer.Dial(addr.URL, nil)
		if err != nil {
			t.mu.Unlock()
			t.log.WithError(err).WithField("url", addr.URL).Warn("failed to dial websocket")
			return nil, false
		}
		t.conns[addr.URL] = conn
	}
	t.mu.Unlock()
	status.setAvailable(true)

	return router.StubFunc(func(message *router.ImmutableMessage, onFailure func(router.JoynrRuntimeException)) {
		if err := conn.WriteMessage(websocket.BinaryMessage, message.Body); err != nil {
			t.invalidate(addr.URL)
			onFailure(&router.DelayMessageError{MessageID: message.ID, Cause: err})
		}
	}), true
}

// StatusFor implements router.ITransportStatusResolver, reporting the
// connection health of the WebSocket connection dialed for addr.URL.
func (t *WebSocketTransport) StatusFor(addr router.Address) (router.ITransportStatus, bool) {
	if !t.CanCreate(addr) {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.statuses[addr.URL]
	return s, ok
}

func (t *WebSocketTransport) invalidate(url string) {
	t.mu.Lock()
	status, hadStatus := t.statuses[url]
	delete(t.conns, url)
	t.mu.Unlock()
	if hadStatus {
		status.setAvailable(false)
	}
}

// ServeHTTP upgrades an inbound HTTP connection to a WebSocket, then reads
// frames in a loop, decoding each into an ImmutableMessage and handing it to
// onRoute. Use with an *http.ServeMux at the LocalServer path this node
// advertises.
func (t *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if t.onRoute == nil {
			continue
		}
		t.onRoute(router.NewImmutableMessage(
			fmt.Sprintf("ws-%p-%d", conn, len(payload)),
			router.MessageTypeOneWay,
			"",
			"",
			time.Now().Add(time.Minute).UnixMilli(),
			nil,
			payload,
		))
	}
}
