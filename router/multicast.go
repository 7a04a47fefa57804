package router

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"
)

// IMessagingMulticastSubscriber is the contract a transport-specific
// subscriber skeleton must satisfy, per spec.md §6.
type IMessagingMulticastSubscriber interface {
	RegisterMulticastSubscription(multicastID string) error
	UnregisterMulticastSubscription(multicastID string) error
}

// skeletonResolver resolves a provider's routing entry into the skeleton
// responsible for (de)registering subscriptions on its transport. Supplied
// by MulticastMessagingSkeletonDirectory in real wiring; abstracted here so
// MulticastReceiverDirectory does not depend on the directory's concrete
// key type.
type skeletonResolver interface {
	SkeletonFor(addr Address) (IMessagingMulticastSubscriber, bool)
}

// MulticastReceiverDirectory maps multicastId to the set of subscriber PIDs,
// per spec.md §3/§4.5. Its own mutex guards the map; it is never held across
// a skeleton call. providerOf additionally tracks which provider PID each
// multicastId belongs to, so that RemoveUnreachable can sweep every
// multicast id backed by a closed stub, not only the one that triggered it.
type MulticastReceiverDirectory struct {
	mu         sync.Mutex
	receivers  map[string]map[string]struct{}
	providerOf map[string]string

	routingTable *RoutingTable
	skeletons    skeletonResolver
	log          *log.Entry
}

// NewMulticastReceiverDirectory constructs an empty directory. routingTable
// resolves a provider PID to its address; skeletons resolves that address to
// the transport-specific subscriber.
func NewMulticastReceiverDirectory(routingTable *RoutingTable, skeletons skeletonResolver, logger *log.Entry) *MulticastReceiverDirectory {
	return &MulticastReceiverDirectory{
		receivers:    make(map[string]map[string]struct{}),
		providerOf:   make(map[string]string),
		routingTable: routingTable,
		skeletons:    skeletons,
		log:          logger.WithField("component", "multicast-receiver-directory"),
	}
}

// AddReceiver registers subscriberPID for multicastID, then asks the
// provider's transport skeleton to subscribe. Fails with ProviderRuntimeError
// if providerPID has no resolvable routing entry.
func (d *MulticastReceiverDirectory) AddReceiver(multicastID, subscriberPID, providerPID string) error {
	entry, ok := d.routingTable.Lookup(providerPID)
	if !ok {
		return &ProviderRuntimeError{Op: "addMulticastReceiver", Reason: fmt.Sprintf("no routing entry for provider %s", providerPID)}
	}

	d.mu.Lock()
	if d.receivers[multicastID] == nil {
		d.receivers[multicastID] = make(map[string]struct{})
	}
	d.receivers[multicastID][subscriberPID] = struct{}{}
	d.providerOf[multicastID] = providerPID
	d.mu.Unlock()

	if skel, ok := d.skeletons.SkeletonFor(entry.Address); ok {
		if err := skel.RegisterMulticastSubscription(multicastID); err != nil {
			return &ProviderRuntimeError{Op: "addMulticastReceiver", Reason: err.Error()}
		}
	}
	return nil
}

// RemoveReceiver reverses AddReceiver. Skeleton unsubscribe is best-effort:
// a missing skeleton or an unsubscribe error is logged, not returned.
func (d *MulticastReceiverDirectory) RemoveReceiver(multicastID, subscriberPID, providerPID string) {
	d.mu.Lock()
	if set, ok := d.receivers[multicastID]; ok {
		delete(set, subscriberPID)
		if len(set) == 0 {
			delete(d.receivers, multicastID)
			delete(d.providerOf, multicastID)
		}
	}
	d.mu.Unlock()

	entry, ok := d.routingTable.Lookup(providerPID)
	if !ok {
		return
	}
	skel, ok := d.skeletons.SkeletonFor(entry.Address)
	if !ok {
		d.log.WithField("multicastId", multicastID).Debug("no skeleton to unsubscribe from")
		return
	}
	if err := skel.UnregisterMulticastSubscription(multicastID); err != nil {
		d.log.WithError(err).WithField("multicastId", multicastID).Warn("failed to unsubscribe from skeleton")
	}
}

// Receivers returns the current subscriber PIDs for multicastID.
func (d *MulticastReceiverDirectory) Receivers(multicastID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.receivers[multicastID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	return out
}

// RemoveUnreachable purges every subscription, across ALL multicast ids,
// whose provider's routing entry currently resolves to addr or no longer
// resolves at all — not only the multicast id that happened to trigger the
// call. This matches the original
// stub-closed handler, which sweeps its whole receiver map rather than a
// single entry (spec.md §4.5 supplemented behavior).
func (d *MulticastReceiverDirectory) RemoveUnreachable(addr Address) {
	d.mu.Lock()
	var stale []string
	for multicastID, providerPID := range d.providerOf {
		entry, ok := d.routingTable.Lookup(providerPID)
		if !ok || entry.Address == addr {
			stale = append(stale, multicastID)
		}
	}
	for _, multicastID := range stale {
		delete(d.receivers, multicastID)
		delete(d.providerOf, multicastID)
	}
	d.mu.Unlock()

	for _, multicastID := range stale {
		d.log.WithField("multicastId", multicastID).Info("removed unreachable multicast subscription")
	}
}

// persistedFormat is the on-disk JSON shape: {multicastId: [subscriberPID,...]}.
type persistedFormat map[string][]string

// Save serializes the directory to the JSON format spec.md §6 names.
func (d *MulticastReceiverDirectory) Save(w io.Writer) error {
	d.mu.Lock()
	out := make(persistedFormat, len(d.receivers))
	for multicastID, set := range d.receivers {
		pids := make([]string, 0, len(set))
		for pid := range set {
			pids = append(pids, pid)
		}
		out[multicastID] = pids
	}
	d.mu.Unlock()
	return json.NewEncoder(w).Encode(out)
}

// Load restores the directory from the JSON format and replays
// RegisterMulticastSubscription for every multicastId whose provider address
// still resolves; entries whose provider cannot be resolved are skipped with
// a warning (spec.md §4.5).
func (d *MulticastReceiverDirectory) Load(r io.Reader, multicastIDToProviderPID map[string]string) error {
	var in persistedFormat
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return err
	}

	d.mu.Lock()
	for multicastID, pids := range in {
		set := make(map[string]struct{}, len(pids))
		for _, pid := range pids {
			set[pid] = struct{}{}
		}
		d.receivers[multicastID] = set
	}
	d.mu.Unlock()

	for multicastID := range in {
		providerPID, ok := multicastIDToProviderPID[multicastID]
		if !ok {
			d.log.WithField("multicastId", multicastID).Warn("no provider mapping on restore, skipping resubscribe")
			continue
		}
		entry, ok := d.routingTable.Lookup(providerPID)
		if !ok {
			d.log.WithField("multicastId", multicastID).Warn("provider address no longer resolves, skipping resubscribe")
			continue
		}
		d.mu.Lock()
		d.providerOf[multicastID] = providerPID
		d.mu.Unlock()

		skel, ok := d.skeletons.SkeletonFor(entry.Address)
		if !ok {
			continue
		}
		if err := skel.RegisterMulticastSubscription(multicastID); err != nil {
			d.log.WithError(err).WithField("multicastId", multicastID).Warn("failed to resubscribe on restore")
		}
	}
	return nil
}
