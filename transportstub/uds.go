package transportstub

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/coremesh/ccrouter/router"
	log "github.com/sirupsen/logrus"
)

// UDSTransport serves LocalClient and LocalServer addresses backed by a Unix
// domain socket, using a simple 4-byte big-endian length prefix to frame
// messages on the stream.
type UDSTransport struct {
	mu       sync.Mutex
	conns    map[string]net.Conn        // keyed by socket path
	statuses map[string]*transportStatus // keyed by socket path
	onRoute  func(message *router.ImmutableMessage)
	log      *log.Entry
}

// NewUDSTransport constructs a transport. onRoute is called for every
// framed payload read off an accepted connection.
func NewUDSTransport(onRoute func(message *router.ImmutableMessage), logger *log.Entry) *UDSTransport {
	return &UDSTransport{
		conns:    make(map[string]net.Conn),
		statuses: make(map[string]*transportStatus),
		onRoute:  onRoute,
		log:      logger.WithField("component", "uds-transport"),
	}
}

// CanCreate reports whether addr is a UDS-backed LocalClient or LocalServer
// address.
func (t *UDSTransport) CanCreate(addr router.Address) bool {
	return (addr.Kind == router.KindLocalClient || addr.Kind == router.KindLocalServer) &&
		addr.Transport == router.TransportUDS
}

// Create dials (or reuses) a connection to addr.Path and returns a Stub
// that writes length-prefixed frames to it.
func (t *UDSTransport) Create(addr router.Address) (router.Stub, bool) {
	if !t.CanCreate(addr) {
		return nil, false
	}

	t.mu.Lock()
	conn, ok := t.conns[addr.Path]
	status, hasStatus := t.statuses[addr.Path]
	if !hasStatus {
		status = newTransportStatus(fmt.Sprintf("uds:%s", addr.Path), false)
		t.statuses[addr.Path] = status
	}
	if !ok {
		var err error
		conn, err = net.Dial("unix", addr.Path)
		if err != nil {
			t.mu.Unlock()
			t.log.WithError(err).WithField("path", addr.Path).Warn("failed to dial unix socket")
			return nil, false
		}
		t.conns[addr.Path] = conn
	}
	t.mu.Unlock()
	status.setAvailable(true)

	return router.StubFunc(func(message *router.ImmutableMessage, onFailure func(router.JoynrRuntimeException)) {
		if err := writeFrame(conn, message.Body); err != nil {
			t.invalidate(addr.Path)
			onFailure(&router.DelayMessageError{MessageID: message.ID, Cause: err})
		}
	}), true
}

// StatusFor implements router.ITransportStatusResolver, reporting the
// connection health of the socket dialed for addr.Path.
func (t *UDSTransport) StatusFor(addr router.Address) (router.ITransportStatus, bool) {
	if !t.CanCreate(addr) {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.statuses[addr.Path]
	return s, ok
}

func (t *UDSTransport) invalidate(path string) {
	t.mu.Lock()
	status, hadStatus := t.statuses[path]
	delete(t.conns, path)
	t.mu.Unlock()
	if hadStatus {
		status.setAvailable(false)
	}
}

// Serve accepts connections on listener (typically from net.Listen("unix",
// path)) and reads framed payloads from each, handing them to onRoute. Runs
// until listener is closed.
func (t *UDSTransport) Serve(listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go t.handleConn(conn)
	}
}

func (t *UDSTransport) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				t.log.WithError(err).Debug("uds connection closed")
			}
			return
		}
		if t.onRoute == nil {
			continue
		}
		t.onRoute(router.NewImmutableMessage(
			fmt.Sprintf("uds-%p-%d", conn, len(payload)),
			router.MessageTypeOneWay,
			"",
			"",
			time.Now().Add(time.Minute).UnixMilli(),
			nil,
			payload,
		))
	}
}

func writeFrame(w io.Writer, payload []byte) error {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header)
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
