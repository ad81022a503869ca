package bridge

import (
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

type stackUpdate struct {
	endpoint, cluster, attr uint16
	data                    []byte
}

// stubStack records every call the bridge makes.
type stubStack struct {
	mu             sync.Mutex
	registered     []Registration
	deregistered   []uint16
	active         map[uint16]bool
	updates        []stackUpdate
	reports        []stackUpdate
	failRegister   bool
	failDeregister map[uint16]bool

	// registerDelay stretches RegisterDevice to widen race windows.
	registerDelay time.Duration
	// onDeregister runs before a deregistration is recorded, outside s.mu.
	onDeregister func(endpoint uint16)
}

func (s *stubStack) RegisterDevice(reg Registration) error {
	if s.registerDelay > 0 {
		time.Sleep(s.registerDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRegister {
		return errors.New("stack offline")
	}
	s.registered = append(s.registered, reg)
	if s.active == nil {
		s.active = make(map[uint16]bool)
	}
	s.active[reg.Endpoint] = true
	return nil
}

func (s *stubStack) DeregisterDevice(endpoint uint16) error {
	if s.onDeregister != nil {
		s.onDeregister(endpoint)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDeregister[endpoint] {
		return errors.New("stack busy")
	}
	s.deregistered = append(s.deregistered, endpoint)
	delete(s.active, endpoint)
	return nil
}

// activeEndpoints returns the endpoints the stack currently holds, sorted.
func (s *stubStack) activeEndpoints() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint16, 0, len(s.active))
	for ep := range s.active {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *stubStack) UpdateAttribute(endpoint, clusterID, attrID uint16, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, stackUpdate{endpoint, clusterID, attrID, append([]byte(nil), data...)})
	return nil
}

func (s *stubStack) ReportAttributeChanged(endpoint, clusterID, attrID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, stackUpdate{endpoint: endpoint, cluster: clusterID, attr: attrID})
}

func (s *stubStack) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *stubStack) lastUpdate() stackUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[len(s.updates)-1]
}

func (s *stubStack) reportCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBridge(t *testing.T) (*Bridge, *stubStack) {
	t.Helper()
	logger := testLogger()
	reg := matter.NewRegistry(logger)
	clusters.RegisterAll(reg)
	stack := &stubStack{}
	b := New(stack, reg, NewEventBus(logger), logger)
	t.Cleanup(b.Close)
	return b, stack
}

func newSeededBridge(t *testing.T) (*Bridge, *stubStack) {
	t.Helper()
	b, stack := newTestBridge(t)
	if err := b.Seed(DefaultSeed); err != nil {
		t.Fatal(err)
	}
	return b, stack
}

// collectEvents subscribes to all events and returns a channel receiving them.
func collectEvents(b *Bridge) <-chan Event {
	ch := make(chan Event, 64)
	b.Events().OnAll(func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	return ch
}

// waitEvent returns the next event of eventType, or the next event of any
// type when eventType is empty.
func waitEvent(t *testing.T, ch <-chan Event, eventType string) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if eventType == "" || ev.Type == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", eventType)
		}
	}
}
