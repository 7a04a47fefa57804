package router

import "sync"

// skeletonKey identifies a multicast subscriber skeleton by the transport's
// address kind plus the GBID it serves, per spec.md §3's
// "(addressTypeTag, gbid) → subscriberSkeleton" map.
type skeletonKey struct {
	kind Kind
	gbid string
}

// MulticastMessagingSkeletonDirectory maps (addressTypeTag, gbid) pairs to
// the transport-specific skeleton that knows how to (un)subscribe on that
// transport, per spec.md §3/§6. It implements skeletonResolver for
// MulticastReceiverDirectory.
type MulticastMessagingSkeletonDirectory struct {
	mu        sync.RWMutex
	skeletons map[skeletonKey]IMessagingMulticastSubscriber
}

// NewMulticastMessagingSkeletonDirectory constructs an empty directory.
func NewMulticastMessagingSkeletonDirectory() *MulticastMessagingSkeletonDirectory {
	return &MulticastMessagingSkeletonDirectory{
		skeletons: make(map[skeletonKey]IMessagingMulticastSubscriber),
	}
}

// Register binds a skeleton to an address kind and GBID.
func (d *MulticastMessagingSkeletonDirectory) Register(kind Kind, gbid string, skeleton IMessagingMulticastSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.skeletons[skeletonKey{kind: kind, gbid: gbid}] = skeleton
}

// Unregister removes any skeleton bound to kind/gbid.
func (d *MulticastMessagingSkeletonDirectory) Unregister(kind Kind, gbid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.skeletons, skeletonKey{kind: kind, gbid: gbid})
}

// SkeletonFor resolves addr to its subscriber skeleton, implementing
// skeletonResolver. GlobalBroker addresses key on their GBID; all other
// kinds key on an empty GBID, matching local (non-GBID-scoped) transports.
func (d *MulticastMessagingSkeletonDirectory) SkeletonFor(addr Address) (IMessagingMulticastSubscriber, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	gbid := ""
	if addr.Kind == KindGlobalBroker {
		gbid = addr.GBID
	}
	skel, ok := d.skeletons[skeletonKey{kind: addr.Kind, gbid: gbid}]
	return skel, ok
}
