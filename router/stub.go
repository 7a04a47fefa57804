package router

// JoynrRuntimeException is the broad error category a Stub reports through
// its onFailure callback; DelayMessageError and the terminal errors in
// errors.go all satisfy it.
type JoynrRuntimeException = error

// Stub is the outbound handle used to transmit one message on a specific
// transport, per spec.md §6.
type Stub interface {
	// Transmit sends message; onFailure is invoked exactly once if and only
	// if delivery did not succeed synchronously.
	Transmit(message *ImmutableMessage, onFailure func(JoynrRuntimeException))
}

// IMessagingStubFactory resolves an Address to the Stub that can reach it,
// per spec.md §6 and §9's shared-ownership design note: the factory owns
// stubs, the dispatcher only holds lookup results whose validity ends at
// the next factory lookup.
type IMessagingStubFactory interface {
	Create(addr Address) (Stub, bool)
	CanCreate(addr Address) bool
}

// StubFunc adapts a plain function to Stub.
type StubFunc func(message *ImmutableMessage, onFailure func(JoynrRuntimeException))

func (f StubFunc) Transmit(message *ImmutableMessage, onFailure func(JoynrRuntimeException)) {
	f(message, onFailure)
}

// IMulticastAddressCalculator computes the global multicast address a
// multicast message should additionally be published to for a given GBID,
// per spec.md §6. Returns ok=false when no global address applies.
type IMulticastAddressCalculator interface {
	Compute(message *ImmutableMessage, gbid string) (Address, bool)
}

// IPlatformSecurityManager validates and signs messages; the dispatcher only
// consumes Validate (spec.md §6) — signing happens on egress before the
// message reaches the core.
type IPlatformSecurityManager interface {
	Validate(message *ImmutableMessage) bool
}

// ITransportStatusResolver maps an Address to the ITransportStatus gating its
// transport, per spec.md §4.7. Returns ok=false when addr's transport
// carries no availability gate (e.g. InProcess), in which case the dispatcher
// transmits unconditionally.
type ITransportStatusResolver interface {
	StatusFor(addr Address) (ITransportStatus, bool)
}
