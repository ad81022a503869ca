package bridge

import (
	"testing"
)

func TestEventBusRoutesByType(t *testing.T) {
	bus := NewEventBus(testLogger())
	var typed, all []string
	bus.On(EventDeviceAdded, func(e Event) { typed = append(typed, e.Type) })
	bus.OnAll(func(e Event) { all = append(all, e.Type) })

	bus.Emit(Event{Type: EventDeviceAdded})
	bus.Emit(Event{Type: EventBridgeReset})

	if len(typed) != 1 || typed[0] != EventDeviceAdded {
		t.Errorf("typed = %v", typed)
	}
	if len(all) != 2 {
		t.Errorf("all = %v", all)
	}
}

func TestEventBusOrderAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(testLogger())
	var got []int
	bus.OnAll(func(Event) { got = append(got, 1) })
	unsub := bus.OnAll(func(Event) { got = append(got, 2) })
	bus.On(EventBridgeReset, func(Event) { got = append(got, 3) })

	bus.Emit(Event{Type: EventBridgeReset})
	unsub()
	unsub()
	bus.Emit(Event{Type: EventBridgeReset})

	want := []int{1, 2, 3, 1, 3}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestEventBusRecoversPanics(t *testing.T) {
	bus := NewEventBus(testLogger())
	called := false
	bus.OnAll(func(Event) { panic("boom") })
	bus.OnAll(func(Event) { called = true })

	bus.Emit(Event{Type: EventDeviceRemoved})
	if !called {
		t.Error("handler after a panicking one was skipped")
	}
}
