package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"matter-bridge/internal/matter"
	"matter-bridge/internal/store"
)

// ToRecord converts a device snapshot into its stored form.
func ToRecord(d *Device) *store.Device {
	rec := &store.Device{
		Endpoint:       d.Endpoint,
		ParentEndpoint: d.ParentEndpoint,
		Archetype:      string(d.Archetype),
		Name:           d.Name,
		UniqueID:       d.UniqueID,
		Reachable:      d.Reachable,
		UpdatedAt:      time.Now().UTC(),
	}
	switch s := d.State.(type) {
	case *Light:
		rec.On = s.On
	case *TemperatureSensor:
		rec.CentiDegrees = s.CentiDegrees
	case *HumiditySensor:
		rec.CentiPercent = s.CentiPercent
	case *Composed:
		rec.BatteryChargeLevel = s.BatteryChargeLevel
	case *Generic:
		for _, a := range s.SortedAttributes() {
			attr := store.Attribute{Cluster: a.Cluster, Attribute: a.Attribute, Kind: uint8(a.Value.Kind())}
			switch a.Value.Kind() {
			case matter.KindString:
				attr.Str = a.Value.AsString()
			case matter.KindBytes:
				attr.Raw = a.Value.AsBytes()
			default:
				attr.Bits = a.Value.AsUint()
			}
			rec.Attributes = append(rec.Attributes, attr)
		}
	}
	return rec
}

func attributeValue(a store.Attribute) (matter.Value, error) {
	k := matter.Kind(a.Kind)
	switch k {
	case matter.KindBool:
		return matter.Bool(a.Bits != 0), nil
	case matter.KindString:
		return matter.String(a.Str), nil
	case matter.KindBytes:
		return matter.Bytes(a.Raw), nil
	}
	return matter.Int(k, int64(a.Bits))
}

// FromRecord rebuilds a device from its stored form using the archetype's
// descriptor table.
func FromRecord(rec *store.Device) (*Device, error) {
	d, err := Build(Archetype(rec.Archetype), rec.Name, rec.Endpoint, rec.ParentEndpoint)
	if err != nil {
		return nil, err
	}
	if rec.UniqueID != "" {
		d.UniqueID = rec.UniqueID
	}
	d.Reachable = rec.Reachable || !d.BridgedNode
	switch s := d.State.(type) {
	case *Light:
		s.On = rec.On
	case *TemperatureSensor:
		s.CentiDegrees = rec.CentiDegrees
	case *HumiditySensor:
		s.CentiPercent = rec.CentiPercent
	case *Composed:
		s.BatteryChargeLevel = rec.BatteryChargeLevel
	case *Generic:
		for _, a := range rec.Attributes {
			v, err := attributeValue(a)
			if err != nil {
				return nil, fmt.Errorf("endpoint %d attribute 0x%04X/0x%04X: %w", rec.Endpoint, a.Cluster, a.Attribute, err)
			}
			s.Attributes[AttrKey{a.Cluster, a.Attribute}] = v
		}
	}
	return d, nil
}

// Restore registers and inserts stored devices. Parents are restored
// before their children; records that fail are logged and skipped.
func (b *Bridge) Restore(records []*store.Device) int {
	sorted := append([]*store.Device(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi := sorted[i].ParentEndpoint == matter.EndpointAggregator
		pj := sorted[j].ParentEndpoint == matter.EndpointAggregator
		if pi != pj {
			return pi
		}
		return sorted[i].Endpoint < sorted[j].Endpoint
	})

	restored := 0
	for _, rec := range sorted {
		d, err := FromRecord(rec)
		if err != nil {
			b.logger.Warn("skip stored device", "endpoint", rec.Endpoint, "err", err)
			continue
		}
		if _, err := b.insert(d); err != nil {
			b.logger.Warn("skip stored device", "endpoint", rec.Endpoint, "err", err)
			continue
		}
		restored++
	}
	b.logger.Info("registry restored", "devices", restored, "stored", len(records))
	return restored
}

// Persister mirrors registry changes into a store. It runs on the event
// delivery goroutine, never under the bridge lock.
type Persister struct {
	bridge *Bridge
	store  store.Store
	logger *slog.Logger
	unsub  func()
}

func NewPersister(b *Bridge, st store.Store, logger *slog.Logger) *Persister {
	return &Persister{bridge: b, store: st, logger: logger.With("component", "persister")}
}

// Start subscribes to bridge events.
func (p *Persister) Start() {
	p.unsub = p.bridge.Events().OnAll(p.handleEvent)
}

// Stop unsubscribes from bridge events.
func (p *Persister) Stop() {
	if p.unsub != nil {
		p.unsub()
	}
}

func (p *Persister) handleEvent(ev Event) {
	var err error
	switch ev.Type {
	case EventDeviceAdded:
		de, _ := ev.Data.(DeviceEvent)
		if de.Device != nil {
			err = p.store.SaveDevice(ToRecord(de.Device))
		}
	case EventAttributeChanged:
		ch, _ := ev.Data.(AttributeChange)
		d, ok := p.bridge.Device(ch.Endpoint)
		if !ok {
			return
		}
		err = p.store.SaveDevice(ToRecord(d))
	case EventDeviceRemoved:
		de, _ := ev.Data.(DeviceEvent)
		if de.Device != nil {
			err = p.store.DeleteDevice(de.Device.Endpoint)
		}
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Error("persist event", "type", ev.Type, "err", err)
	}
}
