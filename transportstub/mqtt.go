// Package transportstub provides reference bindings of router.Stub,
// router.IMessagingStubFactory and router.IMessagingMulticastSubscriber for
// the concrete transports spec.md §1 names as out-of-scope collaborators:
// MQTT (GlobalBroker), WebSocket and Unix domain socket (LocalClient /
// LocalServer), and a trivial in-process call (InProcess).
package transportstub

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/coremesh/ccrouter/router"
	log "github.com/sirupsen/logrus"
)

// MQTTTransport owns one paho client per GBID and serves as both the stub
// factory for GlobalBroker addresses and the subscriber skeleton for
// multicast registrations over that broker.
type MQTTTransport struct {
	mu       sync.Mutex
	clients  map[string]mqtt.Client      // keyed by GBID
	statuses map[string]*transportStatus // keyed by GBID
	onRoute  func(message *router.ImmutableMessage)
	log      *log.Entry
}

// NewMQTTTransport constructs a transport that dials brokerURI once per
// GBID on first use. onRoute is invoked with every inbound message decoded
// off a subscribed topic; wiring it to Dispatcher.Route is the caller's job.
func NewMQTTTransport(onRoute func(message *router.ImmutableMessage), logger *log.Entry) *MQTTTransport {
	return &MQTTTransport{
		clients:  make(map[string]mqtt.Client),
		statuses: make(map[string]*transportStatus),
		onRoute:  onRoute,
		log:      logger.WithField("component", "mqtt-transport"),
	}
}

func (t *MQTTTransport) clientFor(addr router.Address) (mqtt.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[addr.GBID]; ok {
		return c, nil
	}

	status := newTransportStatus(fmt.Sprintf("mqtt:%s", addr.GBID), false)
	opts := mqtt.NewClientOptions().
		AddBroker(addr.BrokerURI).
		SetClientID(fmt.Sprintf("ccrouter-%s", addr.GBID)).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(mqtt.Client, error) { status.setAvailable(false) }).
		SetOnConnectHandler(func(mqtt.Client) { status.setAvailable(true) })
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	status.setAvailable(true)
	t.clients[addr.GBID] = client
	t.statuses[addr.GBID] = status
	return client, nil
}

// StatusFor implements router.ITransportStatusResolver, reporting the
// connection health of the broker client backing addr's GBID.
func (t *MQTTTransport) StatusFor(addr router.Address) (router.ITransportStatus, bool) {
	if addr.Kind != router.KindGlobalBroker {
		return nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.statuses[addr.GBID]
	return s, ok
}

// CanCreate reports whether addr is a GlobalBroker address this transport
// can dial.
func (t *MQTTTransport) CanCreate(addr router.Address) bool {
	return addr.Kind == router.KindGlobalBroker
}

// Create resolves a Stub that publishes to addr.Topic on addr.GBID's
// client, implementing router.IMessagingStubFactory.
func (t *MQTTTransport) Create(addr router.Address) (router.Stub, bool) {
	if !t.CanCreate(addr) {
		return nil, false
	}
	client, err := t.clientFor(addr)
	if err != nil {
		t.log.WithError(err).WithField("gbid", addr.GBID).Warn("failed to connect mqtt client")
		return nil, false
	}
	return router.StubFunc(func(message *router.ImmutableMessage, onFailure func(router.JoynrRuntimeException)) {
		token := client.Publish(addr.Topic, 1, false, message.Body)
		go func() {
			if token.Wait() && token.Error() != nil {
				onFailure(&router.DelayMessageError{MessageID: message.ID, Cause: token.Error()})
			}
		}()
	}), true
}

// RegisterMulticastSubscription subscribes to multicastID as an MQTT topic
// on every connected GBID client, implementing
// router.IMessagingMulticastSubscriber. New messages are decoded and handed
// to onRoute.
func (t *MQTTTransport) RegisterMulticastSubscription(multicastID string) error {
	t.mu.Lock()
	clients := make([]mqtt.Client, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.Unlock()

	for _, client := range clients {
		token := client.Subscribe(multicastID, 1, t.handleInbound)
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

// UnregisterMulticastSubscription reverses RegisterMulticastSubscription.
func (t *MQTTTransport) UnregisterMulticastSubscription(multicastID string) error {
	t.mu.Lock()
	clients := make([]mqtt.Client, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.Unlock()

	for _, client := range clients {
		token := client.Unsubscribe(multicastID)
		if token.Wait() && token.Error() != nil {
			return token.Error()
		}
	}
	return nil
}

func (t *MQTTTransport) handleInbound(_ mqtt.Client, m mqtt.Message) {
	if t.onRoute == nil {
		return
	}
	env := router.NewImmutableMessage(
		fmt.Sprintf("mqtt-%s-%d", m.Topic(), m.MessageID()),
		router.MessageTypeMulticast,
		"",
		m.Topic(),
		time.Now().Add(time.Minute).UnixMilli(),
		nil,
		m.Payload(),
	)
	env.SetReceivedFromGlobal(true)
	t.onRoute(env)
}

// Close disconnects every broker client this transport opened.
func (t *MQTTTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for gbid, c := range t.clients {
		c.Disconnect(250)
		delete(t.clients, gbid)
		delete(t.statuses, gbid)
	}
}
