package transportstub

import "sync"

// transportStatus is a shared router.ITransportStatus implementation used by
// the MQTT, UDS and WebSocket transports in this package (InProcess has
// none) to report connection health to
// the dispatcher's transport-availability gate (spec.md §4.7).
type transportStatus struct {
	mu        sync.Mutex
	available bool
	label     string
	listeners []func(bool)
}

func newTransportStatus(label string, available bool) *transportStatus {
	return &transportStatus{label: label, available: available}
}

func (s *transportStatus) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *transportStatus) Subscribe(onAvailabilityChange func(available bool)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, onAvailabilityChange)
	s.mu.Unlock()
}

func (s *transportStatus) Label() string { return s.label }

// setAvailable updates availability and notifies subscribers iff the value
// actually changed.
func (s *transportStatus) setAvailable(available bool) {
	s.mu.Lock()
	changed := s.available != available
	s.available = available
	listeners := s.listeners
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, l := range listeners {
		l(available)
	}
}
