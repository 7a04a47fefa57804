package router

import "testing"

type fakeTransportStatus struct {
	available bool
	onChange  func(bool)
	label     string
}

func (s *fakeTransportStatus) IsAvailable() bool { return s.available }

func (s *fakeTransportStatus) Subscribe(onAvailabilityChange func(bool)) {
	s.onChange = onAvailabilityChange
}

func (s *fakeTransportStatus) Label() string { return s.label }

func (s *fakeTransportStatus) toggleAvailable() {
	s.available = true
	if s.onChange != nil {
		s.onChange(true)
	}
}

func TestTransportGate_ParksThenReleasesOnAvailability(t *testing.T) {
	var released []*ImmutableMessage
	gate := NewTransportGate(0, 0, func(message *ImmutableMessage, addr Address, tryCount int) {
		released = append(released, message)
	})

	status := &fakeTransportStatus{label: "mqtt"}
	gate.Park(status, msg("m1", MessageTypeRequest, "P1", 0), NewGlobalBroker("b", "t", "g"), 1)

	if len(released) != 0 {
		t.Fatalf("expected message to stay parked while unavailable")
	}

	status.toggleAvailable()

	if len(released) != 1 || released[0].ID != "m1" {
		t.Fatalf("expected message released on availability, got %v", released)
	}
}

func TestTransportGate_CountCapEvictsOldest(t *testing.T) {
	gate := NewTransportGate(1, 0, func(message *ImmutableMessage, addr Address, tryCount int) {})
	status := &fakeTransportStatus{label: "mqtt"}

	gate.Park(status, msg("m1", MessageTypeOneWay, "P1", 0), NewGlobalBroker("b", "t", "g"), 1)
	gate.Park(status, msg("m2", MessageTypeOneWay, "P1", 0), NewGlobalBroker("b", "t", "g"), 1)

	if gate.totalCount != 1 {
		t.Fatalf("expected count cap to hold at 1, got %d", gate.totalCount)
	}
}
