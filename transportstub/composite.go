package transportstub

import "github.com/coremesh/ccrouter/router"

// CompositeStubFactory fans out router.IMessagingStubFactory to whichever
// registered transport can handle a given address, per spec.md §9's
// shared-ownership note: each concrete transport owns its own stubs, the
// composite only routes the lookup.
type CompositeStubFactory struct {
	transports []router.IMessagingStubFactory
}

// NewCompositeStubFactory builds a factory trying each transport in order.
func NewCompositeStubFactory(transports ...router.IMessagingStubFactory) *CompositeStubFactory {
	return &CompositeStubFactory{transports: transports}
}

// CanCreate reports whether any registered transport can handle addr.
func (f *CompositeStubFactory) CanCreate(addr router.Address) bool {
	for _, t := range f.transports {
		if t.CanCreate(addr) {
			return true
		}
	}
	return false
}

// Create delegates to the first registered transport that can handle addr.
func (f *CompositeStubFactory) Create(addr router.Address) (router.Stub, bool) {
	for _, t := range f.transports {
		if t.CanCreate(addr) {
			return t.Create(addr)
		}
	}
	return nil, false
}

// StatusFor implements router.ITransportStatusResolver, delegating to the
// first registered transport that can handle addr and itself resolves
// availability statuses. Transports with no notion of connection health
// (e.g. InProcess) report ok=false, same as if none were registered.
func (f *CompositeStubFactory) StatusFor(addr router.Address) (router.ITransportStatus, bool) {
	for _, t := range f.transports {
		if !t.CanCreate(addr) {
			continue
		}
		resolver, ok := t.(router.ITransportStatusResolver)
		if !ok {
			return nil, false
		}
		return resolver.StatusFor(addr)
	}
	return nil, false
}
