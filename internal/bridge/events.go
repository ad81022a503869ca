package bridge

import (
	"log/slog"
	"sync"

	"matter-bridge/internal/matter"
)

// Event types
const (
	EventDeviceAdded      = "device_added"
	EventDeviceRemoved    = "device_removed"
	EventAttributeChanged = "attribute_changed"
	EventBridgeReset      = "bridge_reset"
)

// Change sources
const (
	SourceStack = "stack"
	SourceLocal = "local"
)

// Event represents a bridge event.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// DeviceEvent carries a snapshot of the affected device.
type DeviceEvent struct {
	Device *Device `json:"device"`
}

// AttributeChange describes one attribute value change.
type AttributeChange struct {
	Endpoint      uint16       `json:"endpoint"`
	Name          string       `json:"name"`
	Cluster       uint16       `json:"cluster"`
	ClusterName   string       `json:"cluster_name"`
	Attribute     uint16       `json:"attribute"`
	AttributeName string       `json:"attribute_name"`
	Value         matter.Value `json:"value"`
	Source        string       `json:"source"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type subscriber struct {
	id        uint64
	eventType string // empty for all events
	fn        EventHandler
}

// EventBus is a synchronous publish/subscribe hub for bridge events.
// Handlers run in subscription order.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID uint64
	logger *slog.Logger
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{logger: logger}
}

// On subscribes handler to one event type and returns its unsubscribe func.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	return eb.subscribe(eventType, handler)
}

// OnAll subscribes handler to every event type.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.subscribe("", handler)
}

func (eb *EventBus) subscribe(eventType string, fn EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eb.nextID
	eb.subs = append(eb.subs, subscriber{id: id, eventType: eventType, fn: fn})
	return func() { eb.unsubscribe(id) }
}

func (eb *EventBus) unsubscribe(id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subs {
		if s.id == id {
			eb.subs = append(eb.subs[:i:i], eb.subs[i+1:]...)
			return
		}
	}
}

// Emit calls every handler subscribed to event's type or to all events.
// A panicking handler is logged and does not stop the others.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	var targets []EventHandler
	for _, s := range eb.subs {
		if s.eventType == "" || s.eventType == event.Type {
			targets = append(targets, s.fn)
		}
	}
	eb.mu.RUnlock()

	for _, fn := range targets {
		eb.deliver(fn, event)
	}
}

func (eb *EventBus) deliver(fn EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	fn(event)
}

// notifier delivers events on its own goroutine so emitters never run
// subscriber code while holding the bridge lock.
type notifier struct {
	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
	bus    *EventBus
	logger *slog.Logger
}

func newNotifier(bus *EventBus, size int, logger *slog.Logger) *notifier {
	n := &notifier{
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
		bus:    bus,
		logger: logger,
	}
	go n.run()
	return n
}

func (n *notifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		n.bus.Emit(ev)
	}
}

func (n *notifier) send(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.logger.Warn("event queue full, dropping event", "type", ev.Type)
	}
}

// close drains queued events and stops the delivery goroutine.
func (n *notifier) close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
}
