package router

import "fmt"

// Kind tags the concrete variant held by an Address. The original C++ router
// dispatched on typeid(); we use an explicit tag and an exhaustive switch
// everywhere precedence or the validity filter is decided, per the tagged
// sum-type design note.
type Kind uint8

const (
	// KindInProcess addresses a participant living in this same process.
	KindInProcess Kind = iota
	// KindLocalClient addresses a participant reachable as a client over a
	// local transport (UDS or WebSocket) that connected into this node.
	KindLocalClient
	// KindLocalServer addresses a participant reachable as a server over a
	// local transport (UDS or WebSocket) that this node connects out to.
	KindLocalServer
	// KindGlobalBroker addresses a participant reachable via a global
	// message broker (MQTT), identified by a GBID.
	KindGlobalBroker
)

func (k Kind) String() string {
	switch k {
	case KindInProcess:
		return "in-process"
	case KindLocalClient:
		return "local-client"
	case KindLocalServer:
		return "local-server"
	case KindGlobalBroker:
		return "global-broker"
	default:
		return "unknown"
	}
}

// LocalTransport distinguishes the concrete transport backing a LocalClient
// or LocalServer address.
type LocalTransport uint8

const (
	// TransportUDS is a Unix domain socket transport.
	TransportUDS LocalTransport = iota
	// TransportWebSocket is a WebSocket transport.
	TransportWebSocket
)

func (t LocalTransport) String() string {
	if t == TransportWebSocket {
		return "websocket"
	}
	return "uds"
}

// Address is a value-equality-comparable tagged variant over the four
// transport address kinds spec.md §3 names. Only the fields relevant to Kind
// are meaningful; callers must switch on Kind, never probe fields blindly.
//
// Address is comparable (no slices/maps), so Address values can be used
// directly as map keys and compared with ==, matching "Each variant is
// value-equality comparable" from spec.md §3.
type Address struct {
	Kind Kind

	// InProcess
	InProcessID string

	// LocalClient / LocalServer
	Transport LocalTransport
	Path      string // UDS socket path
	URL       string // WebSocket URL

	// GlobalBroker
	BrokerURI string
	Topic     string
	GBID      string
}

// NewInProcess builds an InProcess address identified by an opaque local
// reference id (e.g. a provider registration id).
func NewInProcess(id string) Address {
	return Address{Kind: KindInProcess, InProcessID: id}
}

// NewUDSClient builds a LocalClient address over a Unix domain socket path.
func NewUDSClient(path string) Address {
	return Address{Kind: KindLocalClient, Transport: TransportUDS, Path: path}
}

// NewUDSServer builds a LocalServer address over a Unix domain socket path.
func NewUDSServer(path string) Address {
	return Address{Kind: KindLocalServer, Transport: TransportUDS, Path: path}
}

// NewWebSocketClient builds a LocalClient address over a WebSocket URL.
func NewWebSocketClient(url string) Address {
	return Address{Kind: KindLocalClient, Transport: TransportWebSocket, URL: url}
}

// NewWebSocketServer builds a LocalServer address over a WebSocket URL.
func NewWebSocketServer(url string) Address {
	return Address{Kind: KindLocalServer, Transport: TransportWebSocket, URL: url}
}

// NewGlobalBroker builds a GlobalBroker (MQTT) address.
func NewGlobalBroker(brokerURI, topic, gbid string) Address {
	return Address{Kind: KindGlobalBroker, BrokerURI: brokerURI, Topic: topic, GBID: gbid}
}

// String renders a human-readable form of the address for logging.
func (a Address) String() string {
	switch a.Kind {
	case KindInProcess:
		return fmt.Sprintf("InProcess{%s}", a.InProcessID)
	case KindLocalClient:
		if a.Transport == TransportWebSocket {
			return fmt.Sprintf("LocalClient{ws,%s}", a.URL)
		}
		return fmt.Sprintf("LocalClient{uds,%s}", a.Path)
	case KindLocalServer:
		if a.Transport == TransportWebSocket {
			return fmt.Sprintf("LocalServer{ws,%s}", a.URL)
		}
		return fmt.Sprintf("LocalServer{uds,%s}", a.Path)
	case KindGlobalBroker:
		return fmt.Sprintf("GlobalBroker{%s,%s,gbid=%s}", a.BrokerURI, a.Topic, a.GBID)
	default:
		return "Address{invalid}"
	}
}

// precedence returns the routing-table update precedence of addr, per
// spec.md §3: InProcess > LocalClient > GlobalBroker > LocalServer.
func precedence(k Kind) int {
	switch k {
	case KindInProcess:
		return 3
	case KindLocalClient:
		return 2
	case KindGlobalBroker:
		return 1
	case KindLocalServer:
		return 0
	default:
		return -1
	}
}

// allowsUpdate decides whether a routing-table entry currently holding
// oldAddr may be replaced by newAddr, per the precedence rule in spec.md §3:
// an update replaces the existing entry iff the new address's precedence is
// >= the old one's. Equal precedence is allowed unconditionally (a same-class
// replacement, e.g. a reconnecting LocalClient's new WS URL, or a refreshed
// GlobalBroker topic), not only the LocalServer/LocalServer case the original
// comment singles out — CcMessageRouter.cpp's update check is precedence-only
// and never restricts equal-class replacement to one particular kind.
func allowsUpdate(oldAddr, newAddr Address) bool {
	return precedence(newAddr.Kind) >= precedence(oldAddr.Kind)
}

// isValidForRoutingTable implements the address-validity filter from
// spec.md §3: LocalServer addresses are rejected outright (they address
// other runtimes, never this node), and a GlobalBroker whose topic equals
// this node's own inbound topic is rejected to avoid a self-loop.
func isValidForRoutingTable(addr Address, ownGlobalAddress *Address) bool {
	if addr.Kind == KindLocalServer {
		return false
	}
	if addr.Kind == KindGlobalBroker && ownGlobalAddress != nil &&
		ownGlobalAddress.Kind == KindGlobalBroker && addr.Topic == ownGlobalAddress.Topic {
		return false
	}
	return true
}

// isLocalRecipient reports whether addr names a recipient directly reachable
// from this process without crossing a global broker — used by the
// access-control gate to compute its isLocalRecipient flag (spec.md §9 Open
// Question #3: the flag is passed through verbatim, the core makes no
// further decision based on it).
func isLocalRecipient(addr Address) bool {
	return addr.Kind == KindInProcess || addr.Kind == KindLocalClient
}
