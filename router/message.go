package router

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// MessageType identifies the shape of an ImmutableMessage's payload and
// governs how the dispatcher treats delivery failures (queue vs drop,
// synthetic error reply vs silent log).
type MessageType uint8

const (
	MessageTypeRequest MessageType = iota
	MessageTypeReply
	MessageTypeOneWay
	MessageTypeSubscriptionRequest
	MessageTypeSubscriptionReply
	MessageTypeSubscriptionPublication
	MessageTypeSubscriptionStop
	MessageTypeMulticast
	MessageTypeMulticastSubscriptionRequest
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "request"
	case MessageTypeReply:
		return "reply"
	case MessageTypeOneWay:
		return "one-way"
	case MessageTypeSubscriptionRequest:
		return "subscription-request"
	case MessageTypeSubscriptionReply:
		return "subscription-reply"
	case MessageTypeSubscriptionPublication:
		return "subscription-publication"
	case MessageTypeSubscriptionStop:
		return "subscription-stop"
	case MessageTypeMulticast:
		return "multicast"
	case MessageTypeMulticastSubscriptionRequest:
		return "multicast-subscription-request"
	default:
		return "unknown"
	}
}

// isRequestLike reports whether evicting or dropping a message of this type
// must synthesize an error reply back to the sender (spec.md §4.3, §7).
func (t MessageType) isRequestLike() bool {
	return t == MessageTypeRequest || t == MessageTypeSubscriptionRequest
}

// customHeaderPrefix is the reserved prefix for user-supplied headers;
// stripped on read via CustomHeaders.
const customHeaderPrefix = "custom-"

// ImmutableMessage is the opaque, read-only envelope the router operates on.
// Once constructed its headers and body are fixed; only the two transient
// flags below may change after construction, and accessControlChecked is
// mutated from possibly-concurrent goroutines so it is backed by an atomic.
type ImmutableMessage struct {
	ID            string
	Type          MessageType
	Sender        string
	Recipient     string
	ExpiryDateMs  int64
	ReplyTo       *Address
	Effort        string
	Creator       string
	Headers       map[string]string
	Body          []byte
	Signature     []byte

	receivedFromGlobal   uint32
	accessControlChecked uint32
}

// NewImmutableMessage builds a message envelope. headers is copied so later
// mutation by the caller cannot affect the envelope.
func NewImmutableMessage(id string, typ MessageType, sender, recipient string, expiryDateMs int64, headers map[string]string, body []byte) *ImmutableMessage {
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &ImmutableMessage{
		ID:           id,
		Type:         typ,
		Sender:       sender,
		Recipient:    recipient,
		ExpiryDateMs: expiryDateMs,
		Headers:      h,
		Body:         body,
	}
}

// Expired reports whether nowMs is past the message's expiry.
func (m *ImmutableMessage) Expired(nowMs int64) bool {
	return nowMs > m.ExpiryDateMs
}

// ReceivedFromGlobal reports whether this message arrived over the global
// transport, as opposed to from a local in-process or client connection.
func (m *ImmutableMessage) ReceivedFromGlobal() bool {
	return atomic.LoadUint32(&m.receivedFromGlobal) == 1
}

// SetReceivedFromGlobal marks the message as having arrived globally.
func (m *ImmutableMessage) SetReceivedFromGlobal(v bool) {
	var n uint32
	if v {
		n = 1
	}
	atomic.StoreUint32(&m.receivedFromGlobal, n)
}

// AccessControlChecked reports whether a YES verdict has already been
// recorded for this message, so a retried sendMessage does not re-enqueue a
// permission check.
func (m *ImmutableMessage) AccessControlChecked() bool {
	return atomic.LoadUint32(&m.accessControlChecked) == 1
}

// MarkAccessControlChecked records that the access-control gate approved
// this message.
func (m *ImmutableMessage) MarkAccessControlChecked() {
	atomic.StoreUint32(&m.accessControlChecked, 1)
}

// CustomHeader looks up a user header by its unprefixed name.
func (m *ImmutableMessage) CustomHeader(name string) (string, bool) {
	v, ok := m.Headers[customHeaderPrefix+name]
	return v, ok
}

// CustomHeaders returns all user headers with the reserved prefix stripped.
func (m *ImmutableMessage) CustomHeaders() map[string]string {
	out := make(map[string]string)
	for k, v := range m.Headers {
		if strings.HasPrefix(k, customHeaderPrefix) {
			out[strings.TrimPrefix(k, customHeaderPrefix)] = v
		}
	}
	return out
}

func (m *ImmutableMessage) String() string {
	return fmt.Sprintf("Message{id=%s,type=%s,sender=%s,recipient=%s}", m.ID, m.Type, m.Sender, m.Recipient)
}
