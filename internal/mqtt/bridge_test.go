//go:build !no_mqtt

package mqtt

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"matter-bridge/internal/bridge"
	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakePublisher keeps the last retained payload per topic, like a broker.
type fakePublisher struct {
	mu       sync.Mutex
	retained map[string][]byte
}

func (p *fakePublisher) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, _ := payload.([]byte)
	if retained {
		if len(data) == 0 {
			delete(p.retained, topic)
		} else {
			p.retained[topic] = append([]byte(nil), data...)
		}
	}
	return doneToken{}
}

func (p *fakePublisher) get(topic string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.retained[topic]
	return data, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBridge(t *testing.T) *bridge.Bridge {
	t.Helper()
	logger := testLogger()
	reg := matter.NewRegistry(logger)
	clusters.RegisterAll(reg)
	br := bridge.New(bridge.NewLogStack(logger), reg, bridge.NewEventBus(logger), logger)
	t.Cleanup(br.Close)
	return br
}

func TestEventsPublishRetainedState(t *testing.T) {
	br := newTestBridge(t)
	pub := &fakePublisher{retained: make(map[string][]byte)}
	b := newBridge(br, pub, "matter", testLogger())
	b.Start()

	if err := br.Seed(bridge.DefaultSeed); err != nil {
		t.Fatal(err)
	}
	if _, err := br.SetTemperature(4, 2150); err != nil {
		t.Fatal(err)
	}
	if _, err := br.SetReachable(3, false); err != nil {
		t.Fatal(err)
	}
	if err := br.RemoveDevice(5); err != nil {
		t.Fatal(err)
	}
	br.Close()

	state, ok := pub.get("matter/ep4")
	if !ok {
		t.Fatal("no retained state for ep4")
	}
	if got := string(state); !strings.Contains(got, `"temperature":21.5`) {
		t.Errorf("state = %s", got)
	}
	if avail, _ := pub.get("matter/ep3/availability"); string(avail) != "offline" {
		t.Errorf("ep3 availability = %q", avail)
	}
	if avail, _ := pub.get("matter/ep2/availability"); string(avail) != "online" {
		t.Errorf("ep2 availability = %q", avail)
	}
	if _, ok := pub.get("homeassistant/light/matter_bridge_ep2/light/config"); !ok {
		t.Error("light discovery missing")
	}
	if _, ok := pub.get("homeassistant/sensor/matter_bridge_ep5/humidity/config"); ok {
		t.Error("removed device still has discovery")
	}
	if _, ok := pub.get("matter/ep5"); ok {
		t.Error("removed device still has state")
	}
}

func TestBridgeResetClearsDiscovery(t *testing.T) {
	br := newTestBridge(t)
	pub := &fakePublisher{retained: make(map[string][]byte)}
	b := newBridge(br, pub, "matter", testLogger())
	b.Start()

	if err := br.Seed(bridge.MinimalSeed); err != nil {
		t.Fatal(err)
	}
	if _, err := br.FactoryReset(); err != nil {
		t.Fatal(err)
	}
	br.Close()

	for topic := range pub.retained {
		t.Errorf("retained topic left after reset: %s", topic)
	}
}

func TestComposedChildHasNoAvailability(t *testing.T) {
	br := newTestBridge(t)
	pub := &fakePublisher{retained: make(map[string][]byte)}
	b := newBridge(br, pub, "matter", testLogger())
	b.Start()

	if err := br.Seed(bridge.DefaultSeed); err != nil {
		t.Fatal(err)
	}
	br.Close()

	if avail, _ := pub.get("matter/ep10/availability"); string(avail) != "online" {
		t.Errorf("ep10 availability = %q", avail)
	}
	for _, ep := range []string{"ep11", "ep12"} {
		if avail, ok := pub.get("matter/" + ep + "/availability"); ok {
			t.Errorf("%s availability published: %q", ep, avail)
		}
	}
}

func TestResetSweepKeepsLiveDevices(t *testing.T) {
	br := newTestBridge(t)
	if err := br.Seed(bridge.MinimalSeed); err != nil {
		t.Fatal(err)
	}
	pub := &fakePublisher{retained: make(map[string][]byte)}
	b := newBridge(br, pub, "matter", testLogger())
	b.publishAll()

	// ep9 was published earlier but is gone; ep2 still exists.
	b.publishState(&bridge.Device{Endpoint: 9, State: &bridge.Light{}})
	b.mu.Lock()
	b.published[9] = true
	b.mu.Unlock()

	b.handleEvent(bridge.Event{Type: bridge.EventBridgeReset, Data: 0})

	if _, ok := pub.get("matter/ep9"); ok {
		t.Error("stale endpoint not swept")
	}
	if _, ok := pub.get("matter/ep2"); !ok {
		t.Error("live endpoint swept")
	}
}

func TestHandleMessage(t *testing.T) {
	br := newTestBridge(t)
	if err := br.Seed(bridge.DefaultSeed); err != nil {
		t.Fatal(err)
	}
	b := newBridge(br, &fakePublisher{retained: make(map[string][]byte)}, "matter", testLogger())

	b.handleMessage("matter/ep2/set", []byte(`{"state":"ON"}`))
	d, _ := br.Device(2)
	if !d.State.(*bridge.Light).On {
		t.Error("light not switched on")
	}

	b.handleMessage("other/ep3/set", []byte(`{"state":"ON"}`))
	d, _ = br.Device(3)
	if d.State.(*bridge.Light).On {
		t.Error("foreign prefix command applied")
	}
}

func TestEndpointFromTopic(t *testing.T) {
	b := &Bridge{prefix: "matter"}
	tests := []struct {
		topic string
		ep    uint16
		ok    bool
	}{
		{"matter/ep2/set", 2, true},
		{"matter/ep65535/set", 65535, true},
		{"matter/ep65536/set", 0, false},
		{"matter/ep2", 0, false},
		{"matter/light/set", 0, false},
		{"other/ep2/set", 0, false},
	}
	for _, tt := range tests {
		ep, ok := b.endpointFromTopic(tt.topic)
		if ep != tt.ep || ok != tt.ok {
			t.Errorf("endpointFromTopic(%q) = %d, %v; want %d, %v", tt.topic, ep, ok, tt.ep, tt.ok)
		}
	}
}
