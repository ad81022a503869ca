package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"matter-bridge/internal/matter"
)

// eventQueueSize bounds the number of undelivered events.
const eventQueueSize = 256

// Bridge owns the device registry. All registry access goes through mu;
// stack calls and event delivery happen after it is released. life
// serializes add, remove, reset and reannounce so that a device's stack
// registration and its registry entry change together.
type Bridge struct {
	life     sync.Mutex
	mu       sync.Mutex
	registry *Registry
	stack    Stack
	factory  *Factory
	clusters *matter.Registry
	events   *EventBus
	notify   *notifier
	logger   *slog.Logger
}

// New creates a bridge with an empty registry.
func New(stack Stack, clusterRegistry *matter.Registry, events *EventBus, logger *slog.Logger) *Bridge {
	logger = logger.With("component", "bridge")
	return &Bridge{
		registry: NewRegistry(),
		stack:    stack,
		factory:  NewFactory(stack, logger),
		clusters: clusterRegistry,
		events:   events,
		notify:   newNotifier(events, eventQueueSize, logger),
		logger:   logger,
	}
}

// Close stops event delivery after draining queued events.
func (b *Bridge) Close() {
	b.notify.close()
}

// Events returns the bridge's event bus.
func (b *Bridge) Events() *EventBus { return b.events }

// Clusters returns the cluster definition registry.
func (b *Bridge) Clusters() *matter.Registry { return b.clusters }

// Devices returns snapshots of all devices in endpoint order.
func (b *Bridge) Devices() []*Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := b.registry.All()
	out := make([]*Device, len(all))
	for i, d := range all {
		out[i] = d.Clone()
	}
	return out
}

// Device returns a snapshot of the device on ep.
func (b *Bridge) Device(ep uint16) (*Device, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.registry.Find(ep)
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// Len returns the number of registered devices.
func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry.Len()
}

// AddDevice builds a device, registers it with the stack and inserts it.
func (b *Bridge) AddDevice(a Archetype, name string, endpoint, parent uint16) (*Device, error) {
	b.mu.Lock()
	_, exists := b.registry.Find(endpoint)
	b.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("endpoint %d: %w", endpoint, ErrDuplicateEndpoint)
	}

	d, err := Build(a, name, endpoint, parent)
	if err != nil {
		return nil, err
	}
	return b.insert(d)
}

// insert validates d against the registry, registers it with the stack and
// stores it. A device that fails to insert after registration is
// deregistered again.
func (b *Bridge) insert(d *Device) (*Device, error) {
	b.life.Lock()
	defer b.life.Unlock()

	b.mu.Lock()
	err := b.registry.checkInsert(d)
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := b.factory.Register(d); err != nil {
		return nil, err
	}

	b.mu.Lock()
	err = b.registry.Insert(d)
	snap := d.Clone()
	b.mu.Unlock()
	if err != nil {
		if derr := b.stack.DeregisterDevice(d.Endpoint); derr != nil {
			b.logger.Warn("deregister after failed insert", "endpoint", d.Endpoint, "err", derr)
		}
		return nil, err
	}

	b.notify.send(Event{Type: EventDeviceAdded, Data: DeviceEvent{Device: snap}})
	return snap, nil
}

// RemoveDevice deregisters and removes the device on ep. Children of a
// Composed device are removed first.
func (b *Bridge) RemoveDevice(ep uint16) error {
	b.life.Lock()
	defer b.life.Unlock()

	b.mu.Lock()
	d, ok := b.registry.Find(ep)
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("endpoint %d: %w", ep, ErrEndpointNotFound)
	}
	victims := append(b.registry.Children(ep), d)
	b.mu.Unlock()

	var errs []error
	for _, v := range victims {
		if v.Endpoint == ep && len(errs) > 0 {
			errs = append(errs, fmt.Errorf("endpoint %d: children still registered", ep))
			break
		}
		if err := b.stack.DeregisterDevice(v.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("deregister endpoint %d: %w", v.Endpoint, err))
			continue
		}
		b.mu.Lock()
		removed, err := b.registry.Remove(v.Endpoint)
		b.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.logger.Info("device removed", "endpoint", removed.Endpoint, "name", removed.Name)
		b.notify.send(Event{Type: EventDeviceRemoved, Data: DeviceEvent{Device: removed}})
	}
	return errors.Join(errs...)
}

// FactoryReset deregisters and drops every device, children before their
// parents, and returns how many were removed. A device stays in the
// registry until the stack has let go of it.
func (b *Bridge) FactoryReset() (int, error) {
	b.life.Lock()
	defer b.life.Unlock()

	b.mu.Lock()
	all := b.registry.All()
	b.mu.Unlock()

	// Children go before any top-level device, each group in reverse
	// endpoint order.
	order := make([]*Device, 0, len(all))
	for _, topLevel := range []bool{false, true} {
		for i := len(all) - 1; i >= 0; i-- {
			if (all[i].ParentEndpoint == matter.EndpointAggregator) == topLevel {
				order = append(order, all[i])
			}
		}
	}

	var errs []error
	removed := 0
	// A parent stays while any of its children is still registered.
	pinned := make(map[uint16]bool)
	for _, d := range order {
		ep := d.Endpoint
		if pinned[ep] {
			errs = append(errs, fmt.Errorf("endpoint %d: children still registered", ep))
			continue
		}
		if err := b.stack.DeregisterDevice(ep); err != nil {
			errs = append(errs, fmt.Errorf("deregister endpoint %d: %w", ep, err))
			pinned[d.ParentEndpoint] = true
			continue
		}
		b.mu.Lock()
		gone, err := b.registry.Remove(ep)
		b.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			pinned[d.ParentEndpoint] = true
			continue
		}
		removed++
		b.notify.send(Event{Type: EventDeviceRemoved, Data: DeviceEvent{Device: gone}})
	}
	b.logger.Info("factory reset", "removed", removed, "failed", len(errs))
	b.notify.send(Event{Type: EventBridgeReset, Data: removed})
	return removed, errors.Join(errs...)
}

// Reannounce registers every device with the stack again, top-level
// devices before children. It is used after the stack restarts and has
// lost its endpoint table.
func (b *Bridge) Reannounce() error {
	b.life.Lock()
	defer b.life.Unlock()

	b.mu.Lock()
	all := b.registry.All()
	regs := make([]Registration, 0, len(all))
	for _, d := range all {
		if d.ParentEndpoint == matter.EndpointAggregator {
			regs = append(regs, d.Registration())
		}
	}
	for _, d := range all {
		if d.ParentEndpoint != matter.EndpointAggregator {
			regs = append(regs, d.Registration())
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, reg := range regs {
		if err := b.stack.RegisterDevice(reg); err != nil {
			errs = append(errs, fmt.Errorf("register endpoint %d: %w", reg.Endpoint, err))
		}
	}
	b.logger.Info("devices reannounced", "count", len(regs), "failed", len(errs))
	return errors.Join(errs...)
}

// emitChange queues an attribute change event.
func (b *Bridge) emitChange(ep uint16, name string, clusterID, attrID uint16, v matter.Value, source string) {
	b.notify.send(Event{Type: EventAttributeChanged, Data: AttributeChange{
		Endpoint:      ep,
		Name:          name,
		Cluster:       clusterID,
		ClusterName:   b.clusters.ClusterName(clusterID),
		Attribute:     attrID,
		AttributeName: b.clusters.AttributeName(clusterID, attrID),
		Value:         v,
		Source:        source,
	}})
}
