package router

import (
	"errors"
	"time"

	"github.com/coremesh/ccrouter/scheduler"
	cache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

// globalDedupeTTL bounds how long an inbound global message id is remembered
// for duplicate suppression. MQTT QoS 1, the GlobalBroker transport's
// delivery guarantee, can redeliver a message the broker never saw acked;
// this window only needs to outlast the transport's own retry horizon.
const globalDedupeTTL = 5 * time.Minute

// Dispatcher is the cluster-controller's core switching fabric: it owns the
// routing table, the per-recipient queue, the multicast receiver directory,
// and the transport-availability gate, and implements the route/sendMessage
// algorithm from spec.md §4.4.
type Dispatcher struct {
	settings Settings

	routingTable      *RoutingTable
	queue             *MessageQueue
	multicastDir      *MulticastReceiverDirectory
	transportGate     *TransportGate
	scheduler         *scheduler.DelayedScheduler

	stubFactory       IMessagingStubFactory
	transportStatus   ITransportStatusResolver
	addressCalculator IMulticastAddressCalculator
	securityManager   IPlatformSecurityManager
	accessGate        *accessControlGate

	ownGlobalAddress *Address
	gbids            []string

	notificationProviderPID string

	// seenFromGlobal suppresses duplicate delivery of messages redelivered
	// by an at-least-once global transport (MQTT QoS 1 in particular).
	seenFromGlobal *cache.Cache

	log *log.Entry
}

// DispatcherConfig bundles the collaborators a Dispatcher is wired with.
// RoutingTable, Queue, MulticastDir and StubFactory are required, and
// Scheduler is required as soon as any retry is scheduled; the other fields
// are optional. A nil SecurityManager skips signature validation, a nil
// AccessController skips the permission gate entirely (spec.md §9
// supplemented feature: "no access controller configured" is pre-checked,
// i.e. treated as an immediate YES).
type DispatcherConfig struct {
	Settings          Settings
	RoutingTable      *RoutingTable
	Queue             *MessageQueue
	MulticastDir      *MulticastReceiverDirectory
	Scheduler         *scheduler.DelayedScheduler
	StubFactory       IMessagingStubFactory
	// TransportStatus resolves the ITransportStatus gating a destination's
	// transport, per spec.md §4.7. Nil means no transport in use exposes an
	// availability gate, so sendMessage transmits unconditionally.
	TransportStatus   ITransportStatusResolver
	AddressCalculator IMulticastAddressCalculator
	SecurityManager   IPlatformSecurityManager
	AccessController  IAccessController
	OwnGlobalAddress  *Address
	GBIDs             []string
	// NotificationProviderPID, if set, identifies the participant that owns
	// the "message queued for delivery" notification channel; route never
	// emits that notification for messages whose sender is this PID, to
	// break the obvious notify-about-your-own-notification cycle.
	NotificationProviderPID string
	Logger                  *log.Entry
}

// NewDispatcher constructs a Dispatcher from cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	d := &Dispatcher{
		settings:                cfg.Settings,
		routingTable:            cfg.RoutingTable,
		queue:                   cfg.Queue,
		multicastDir:            cfg.MulticastDir,
		scheduler:               cfg.Scheduler,
		stubFactory:             cfg.StubFactory,
		transportStatus:         cfg.TransportStatus,
		addressCalculator:       cfg.AddressCalculator,
		securityManager:         cfg.SecurityManager,
		ownGlobalAddress:        cfg.OwnGlobalAddress,
		gbids:                   cfg.GBIDs,
		notificationProviderPID: cfg.NotificationProviderPID,
		seenFromGlobal:          cache.New(globalDedupeTTL, 2*globalDedupeTTL),
		log:                     logger.WithField("component", "dispatcher"),
	}
	d.transportGate = NewTransportGate(
		cfg.Settings.TransportNotAvailableQueueLimit,
		cfg.Settings.TransportNotAvailableQueueLimitBytes,
		func(message *ImmutableMessage, addr Address, tryCount int) {
			d.scheduleMessage(message, addr, tryCount, 0)
		},
	)
	if cfg.AccessController != nil {
		d.accessGate = newAccessControlGate(cfg.AccessController, cfg.Settings.ACLAudit)
	}
	return d
}

// QueuedForDeliveryListener is notified when route() queues a message for
// lack of a route, unless the sender is the notification provider itself
// (cycle break, spec.md §9 supplemented feature).
type QueuedForDeliveryListener func(recipient string, message *ImmutableMessage)

var noopQueuedListener QueuedForDeliveryListener = func(string, *ImmutableMessage) {}

// Route is the single entry point every transport skeleton calls with a
// freshly received message, per spec.md §4.4.1 / §6.
func (d *Dispatcher) Route(message *ImmutableMessage, onQueued QueuedForDeliveryListener) error {
	return d.route(message, 1, onQueued)
}

func (d *Dispatcher) route(message *ImmutableMessage, tryCount int, onQueued QueuedForDeliveryListener) error {
	if onQueued == nil {
		onQueued = noopQueuedListener
	}

	if message.Expired(nowMs()) {
		messagesDroppedTotal.WithLabelValues("expired").Inc()
		d.log.WithField("messageId", message.ID).Warn("dropping expired message")
		return &MessageExpiredError{MessageID: message.ID}
	}

	if message.ReceivedFromGlobal() {
		if _, duplicate := d.seenFromGlobal.Get(message.ID); duplicate {
			messagesDroppedTotal.WithLabelValues("duplicate").Inc()
			d.log.WithField("messageId", message.ID).Debug("dropping duplicate redelivered message")
			return nil
		}
		d.seenFromGlobal.SetDefault(message.ID, struct{}{})
	}

	if d.securityManager != nil && !d.securityManager.Validate(message) {
		messagesDroppedTotal.WithLabelValues("invalid-signature").Inc()
		return &MessageNotSentError{MessageID: message.ID, Reason: "invalid-signature"}
	}

	destinations := d.resolveDestinations(message)
	messagesRoutedTotal.WithLabelValues(message.Type.String()).Inc()

	if len(destinations) == 0 {
		return d.handleUnroutable(message, onQueued)
	}

	for _, addr := range destinations {
		d.sendMessage(message, addr, tryCount)
	}
	return nil
}

// resolveDestinations computes the destination address set per spec.md
// §4.4.1 step 3: unicast resolves a single routing-table lookup, multicast
// unions local subscribers with the calculated global multicast address
// when the sender is globally visible.
func (d *Dispatcher) resolveDestinations(message *ImmutableMessage) []Address {
	if message.Type != MessageTypeMulticast {
		entry, ok := d.routingTable.Lookup(message.Recipient)
		if !ok {
			return nil
		}
		return []Address{entry.Address}
	}

	seen := make(map[Address]struct{})
	var out []Address
	for _, subscriber := range d.multicastDir.Receivers(message.Recipient) {
		entry, ok := d.routingTable.Lookup(subscriber)
		if !ok {
			continue
		}
		if _, dup := seen[entry.Address]; dup {
			continue
		}
		seen[entry.Address] = struct{}{}
		out = append(out, entry.Address)
	}

	if d.publishToGlobal(message) {
		for _, gbid := range d.gbidsOrDefault() {
			addr, ok := d.addressCalculator.Compute(message, gbid)
			if !ok {
				continue
			}
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

func (d *Dispatcher) gbidsOrDefault() []string {
	if len(d.gbids) == 0 {
		return []string{""}
	}
	return d.gbids
}

// publishToGlobal implements the predicate from spec.md §4.4.4: a message is
// eligible for global publication iff its sender's routing entry exists and
// is globally visible.
func (d *Dispatcher) publishToGlobal(message *ImmutableMessage) bool {
	if d.addressCalculator == nil {
		return false
	}
	entry, ok := d.routingTable.Lookup(message.Sender)
	return ok && entry.IsGloballyVisible
}

// handleUnroutable implements spec.md §4.4.1 step 4 for an empty
// destination set.
func (d *Dispatcher) handleUnroutable(message *ImmutableMessage, onQueued QueuedForDeliveryListener) error {
	switch message.Type {
	case MessageTypeMulticast:
		messagesDroppedTotal.WithLabelValues("multicast-no-receivers").Inc()
		return nil
	case MessageTypeReply, MessageTypeSubscriptionReply, MessageTypeSubscriptionPublication:
		if d.settings.DiscardUnroutableRepliesAndPublications {
			messagesDroppedTotal.WithLabelValues("unroutable-discarded").Inc()
			d.log.WithField("messageId", message.ID).Warn("dropping unroutable reply/publication")
			return nil
		}
	}

	evicted := d.queue.Queue(message.Recipient, message, nowMs())
	messagesQueuedTotal.WithLabelValues(message.Type.String()).Inc()
	d.synthesizeErrorRepliesForEvicted(evicted)

	if message.Sender != d.notificationProviderPID {
		onQueued(message.Recipient, message)
	}
	return nil
}

// synthesizeErrorRepliesForEvicted routes a synthetic reply-with-error back
// to the sender of every evicted request-like message, per spec.md §4.3/§7.
// One-way and publication evictions are silent.
func (d *Dispatcher) synthesizeErrorRepliesForEvicted(evicted []*ImmutableMessage) {
	for _, m := range evicted {
		if !m.Type.isRequestLike() {
			continue
		}
		reply := d.buildErrorReply(m, "message evicted from queue: capacity exceeded")
		if reply == nil {
			continue
		}
		if err := d.route(reply, 1, nil); err != nil {
			d.log.WithError(err).WithField("messageId", m.ID).Debug("failed to deliver synthetic error reply")
		}
	}
}

func (d *Dispatcher) buildErrorReply(original *ImmutableMessage, reason string) *ImmutableMessage {
	if original.Sender == "" {
		return nil
	}
	return NewImmutableMessage(
		original.ID+"-error-reply",
		MessageTypeReply,
		original.Recipient,
		original.Sender,
		nowMs()+int64(d.settings.SendMsgRetryInterval/time.Millisecond)+5000,
		map[string]string{"error-reason": reason},
		nil,
	)
}

// sendMessage implements spec.md §4.4.2: gates on access control, then
// transport availability, then transmits.
func (d *Dispatcher) sendMessage(message *ImmutableMessage, addr Address, tryCount int) {
	if d.accessGate != nil && !message.AccessControlChecked() {
		local := isLocalRecipient(addr)
		d.accessGate.check(message, local, func(verdict ConsumerPermission) {
			switch verdict {
			case PermissionYes:
				message.MarkAccessControlChecked()
				d.scheduleMessage(message, addr, tryCount, 0)
			case PermissionNo:
				messagesDroppedTotal.WithLabelValues("acl-denied").Inc()
				d.log.WithField("messageId", message.ID).Trace("access control denied, dropping")
			case PermissionRetry:
				transmitRetriesTotal.WithLabelValues("acl-retry").Inc()
				d.scheduleRetry(message, addr, tryCount)
			}
		})
		return
	}
	d.scheduleMessage(message, addr, tryCount, 0)
}

// scheduleMessage resolves a stub for addr and attempts delivery, parking
// the message behind the transport-availability gate if needed, per
// spec.md §4.4.2.
func (d *Dispatcher) scheduleMessage(message *ImmutableMessage, addr Address, tryCount int, delay time.Duration) {
	deliver := func() {
		if d.transportStatus != nil {
			if status, ok := d.transportStatus.StatusFor(addr); ok && !status.IsAvailable() {
				d.transportGate.Park(status, message, addr, tryCount)
				return
			}
		}

		stub, ok := d.stubFactory.Create(addr)
		if !ok {
			transmitRetriesTotal.WithLabelValues("no-stub").Inc()
			d.scheduleRetry(message, addr, tryCount)
			return
		}

		stub.Transmit(message, func(err error) {
			d.onTransmitFailure(message, addr, tryCount, err)
		})
	}

	if delay <= 0 {
		deliver()
		return
	}
	d.scheduler.Schedule(scheduler.RunnableFunc(deliver), delay)
}

func (d *Dispatcher) onTransmitFailure(message *ImmutableMessage, addr Address, tryCount int, err error) {
	if message.Expired(nowMs()) {
		messagesDroppedTotal.WithLabelValues("expired-on-retry").Inc()
		return
	}

	var delayErr *DelayMessageError
	if errors.As(err, &delayErr) {
		transmitRetriesTotal.WithLabelValues("delay-message").Inc()
		d.scheduleRetry(message, addr, tryCount)
		return
	}

	// Any other error is treated as a transient transport failure too,
	// per spec.md §4.4.2's final "Otherwise reschedule with backoff".
	transmitRetriesTotal.WithLabelValues("transport-failure").Inc()
	d.scheduleRetry(message, addr, tryCount)
}

// scheduleRetry computes the backoff delay from tryCount, the count of
// attempts already made, then re-enters scheduleMessage for attempt
// tryCount+1 after the delay, per spec.md §4.4.3. The backoff exponent and
// the next attempt's tryCount must come from separate values — conflating
// them doubles every delay versus CcMessageRouter.cpp:950-961.
func (d *Dispatcher) scheduleRetry(message *ImmutableMessage, addr Address, tryCount int) {
	delay := d.backoff(tryCount)
	d.scheduleMessage(message, addr, tryCount+1, delay)
}

// backoff implements delay(n) = min(cap, base * 2^(n-1)), per spec.md
// §4.4.3.
func (d *Dispatcher) backoff(tryCount int) time.Duration {
	base := d.settings.SendMsgRetryInterval
	if base <= 0 {
		base = time.Second
	}
	ceiling := d.settings.MaxBackoff
	if ceiling <= 0 {
		ceiling = 60 * time.Second
	}
	if tryCount < 1 {
		tryCount = 1
	}
	delay := base
	for i := 1; i < tryCount; i++ {
		delay *= 2
		if delay >= ceiling {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

// AddNextHop registers a next hop and drains any queue built up for pid, per
// spec.md §4.2/§4.4.5.
func (d *Dispatcher) AddNextHop(pid string, addr Address, isGloballyVisible bool, expiryDateMs int64, isSticky bool) bool {
	ok := d.routingTable.Add(pid, addr, isGloballyVisible, expiryDateMs, isSticky)
	if !ok {
		return false
	}

	drained := d.queue.Drain(pid)
	for _, m := range drained {
		d.sendMessage(m, addr, 1)
	}
	return true
}

// RoutingTable exposes the dispatcher's routing table for read-only
// introspection (e.g. pkg/debugapi).
func (d *Dispatcher) RoutingTable() *RoutingTable { return d.routingTable }

// Queue exposes the dispatcher's per-recipient message queue for read-only
// introspection.
func (d *Dispatcher) Queue() *MessageQueue { return d.queue }

// MulticastDirectory exposes the dispatcher's multicast receiver directory
// for read-only introspection.
func (d *Dispatcher) MulticastDirectory() *MulticastReceiverDirectory { return d.multicastDir }

// RemoveNextHop deletes the routing entry for pid.
func (d *Dispatcher) RemoveNextHop(pid string) {
	d.routingTable.Remove(pid)
}

// ResolveNextHop reports whether pid currently has a live routing entry.
func (d *Dispatcher) ResolveNextHop(pid string) bool {
	return d.routingTable.Contains(pid)
}

// AddMulticastReceiver registers subscriberPID for multicastID behind
// providerPID's transport skeleton.
func (d *Dispatcher) AddMulticastReceiver(multicastID, subscriberPID, providerPID string) error {
	return d.multicastDir.AddReceiver(multicastID, subscriberPID, providerPID)
}

// RemoveMulticastReceiver reverses AddMulticastReceiver.
func (d *Dispatcher) RemoveMulticastReceiver(multicastID, subscriberPID, providerPID string) {
	d.multicastDir.RemoveReceiver(multicastID, subscriberPID, providerPID)
}

// GetGlobalAddress returns this node's own global address, or an error if no
// global transport is configured (spec.md §6, §9 supplemented feature).
func (d *Dispatcher) GetGlobalAddress() (Address, error) {
	if d.ownGlobalAddress == nil {
		return Address{}, &ProviderRuntimeError{Op: "GetGlobalAddress", Reason: "no global transport configured"}
	}
	return *d.ownGlobalAddress, nil
}

// GetReplyToAddress returns the address other participants should use to
// reply to messages originating from this node, which for this router is
// the same as its own global address. Errors the same way GetGlobalAddress
// does when no global transport is configured.
func (d *Dispatcher) GetReplyToAddress() (Address, error) {
	return d.GetGlobalAddress()
}

// OnTransportStubClosed purges any multicast subscriptions whose provider
// resolved to addr, so a closed transport stub cannot leave stale
// subscriptions behind (spec.md §4.5).
func (d *Dispatcher) OnTransportStubClosed(addr Address) {
	d.multicastDir.RemoveUnreachable(addr)
}
