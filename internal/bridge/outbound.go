package bridge

import (
	"errors"
	"fmt"

	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

var (
	ErrKindMismatch      = errors.New("operation not supported by device kind")
	ErrUndeclaredCluster = errors.New("cluster not declared by device")
)

// update is a locally originated change waiting to be pushed to the stack.
type update struct {
	endpoint  uint16
	name      string
	cluster   uint16
	attribute uint16
	value     matter.Value
	// localOnly changes are published as events but not pushed to the stack.
	localOnly bool
}

// mutate runs fn on the device under the lock. fn returns the pending
// update, or nil when nothing changed. The update is pushed to the stack
// and published after the lock is released.
func (b *Bridge) mutate(ep uint16, fn func(d *Device) (*update, error)) (bool, error) {
	b.mu.Lock()
	d, ok := b.registry.Find(ep)
	if !ok {
		b.mu.Unlock()
		b.logger.Warn("outbound update for unknown endpoint", "endpoint", ep)
		return false, fmt.Errorf("endpoint %d: %w", ep, ErrEndpointNotFound)
	}
	u, err := fn(d)
	if u != nil {
		u.endpoint = ep
		u.name = d.Name
	}
	b.mu.Unlock()
	if err != nil || u == nil {
		return false, err
	}
	b.push(u)
	return true, nil
}

func (b *Bridge) push(u *update) {
	if u.localOnly {
		b.emitChange(u.endpoint, u.name, u.cluster, u.attribute, u.value, SourceLocal)
		return
	}
	data, err := matter.EncodeValue(u.value)
	if err != nil {
		b.logger.Error("encode outbound value", "endpoint", u.endpoint, "err", err)
		return
	}
	if err := b.stack.UpdateAttribute(u.endpoint, u.cluster, u.attribute, data); err != nil {
		b.logger.Warn("push attribute to stack", "endpoint", u.endpoint,
			"cluster", fmt.Sprintf("0x%04X", u.cluster), "attr", fmt.Sprintf("0x%04X", u.attribute), "err", err)
	}
	b.emitChange(u.endpoint, u.name, u.cluster, u.attribute, u.value, SourceLocal)
}

func kindError(d *Device, want string) error {
	return fmt.Errorf("endpoint %d is %s, not %s: %w", d.Endpoint, d.Kind(), want, ErrKindMismatch)
}

// SetOnOff switches a light. It reports whether the state changed.
func (b *Bridge) SetOnOff(ep uint16, on bool) (bool, error) {
	return b.mutate(ep, func(d *Device) (*update, error) {
		s, ok := d.State.(*Light)
		if !ok {
			return nil, kindError(d, "light")
		}
		if s.On == on {
			return nil, nil
		}
		s.On = on
		return &update{cluster: clusters.OnOffID, attribute: clusters.OnOffAttrOnOff, value: matter.Bool(on)}, nil
	})
}

// ToggleOnOff inverts a light and returns the new state.
func (b *Bridge) ToggleOnOff(ep uint16) (bool, error) {
	var on bool
	_, err := b.mutate(ep, func(d *Device) (*update, error) {
		s, ok := d.State.(*Light)
		if !ok {
			return nil, kindError(d, "light")
		}
		s.On = !s.On
		on = s.On
		return &update{cluster: clusters.OnOffID, attribute: clusters.OnOffAttrOnOff, value: matter.Bool(on)}, nil
	})
	return on, err
}

// SetTemperature sets a temperature sensor reading in centidegrees.
func (b *Bridge) SetTemperature(ep uint16, centiDegrees int16) (bool, error) {
	return b.mutate(ep, func(d *Device) (*update, error) {
		s, ok := d.State.(*TemperatureSensor)
		if !ok {
			return nil, kindError(d, "temperature_sensor")
		}
		if s.CentiDegrees == centiDegrees {
			return nil, nil
		}
		s.CentiDegrees = centiDegrees
		return &update{cluster: clusters.TemperatureMeasurementID, attribute: clusters.TemperatureAttrMeasuredValue, value: matter.I16(centiDegrees)}, nil
	})
}

// SetHumidity sets a humidity sensor reading in hundredths of a percent.
func (b *Bridge) SetHumidity(ep uint16, centiPercent uint16) (bool, error) {
	return b.mutate(ep, func(d *Device) (*update, error) {
		s, ok := d.State.(*HumiditySensor)
		if !ok {
			return nil, kindError(d, "humidity_sensor")
		}
		if s.CentiPercent == centiPercent {
			return nil, nil
		}
		s.CentiPercent = centiPercent
		return &update{cluster: clusters.RelativeHumidityID, attribute: clusters.HumidityAttrMeasuredValue, value: matter.U16(centiPercent)}, nil
	})
}

// SetBatteryChargeLevel sets a composed device's battery charge level enum.
func (b *Bridge) SetBatteryChargeLevel(ep uint16, level uint8) (bool, error) {
	return b.mutate(ep, func(d *Device) (*update, error) {
		s, ok := d.State.(*Composed)
		if !ok {
			return nil, kindError(d, "composed")
		}
		if s.BatteryChargeLevel == level {
			return nil, nil
		}
		s.BatteryChargeLevel = level
		return &update{cluster: clusters.PowerSourceID, attribute: clusters.PowerSourceAttrBatChargeLevel, value: matter.U8(level)}, nil
	})
}

// SetReachable updates reachability of a bridged node. Non-bridged devices
// are left untouched and report no change.
func (b *Bridge) SetReachable(ep uint16, reachable bool) (bool, error) {
	b.mu.Lock()
	changed, err := b.registry.SetReachable(ep, reachable)
	var name string
	if d, ok := b.registry.Find(ep); ok {
		name = d.Name
	}
	b.mu.Unlock()
	if err != nil {
		b.logger.Warn("reachability update for unknown endpoint", "endpoint", ep)
		return false, err
	}
	if !changed {
		return false, nil
	}
	b.logger.Info("reachability changed", "endpoint", ep, "reachable", reachable)
	b.push(&update{
		endpoint:  ep,
		name:      name,
		cluster:   clusters.BridgedBasicInfoID,
		attribute: clusters.BridgedBasicAttrReachable,
		value:     matter.Bool(reachable),
	})
	return true, nil
}

// Rename changes a device's display name, pushing the node label for
// bridged nodes.
func (b *Bridge) Rename(ep uint16, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	return b.mutate(ep, func(d *Device) (*update, error) {
		if d.Name == name {
			return nil, nil
		}
		d.Name = name
		return &update{
			cluster:   clusters.BridgedBasicInfoID,
			attribute: clusters.BridgedBasicAttrNodeLabel,
			value:     matter.String(name),
			localOnly: !d.BridgedNode,
		}, nil
	})
}

// UpdateAttribute stores a value on a Generic device and pushes it.
func (b *Bridge) UpdateAttribute(ep, clusterID, attrID uint16, v matter.Value) (bool, error) {
	if _, err := matter.EncodeValue(v); err != nil {
		return false, err
	}
	return b.mutate(ep, func(d *Device) (*update, error) {
		s, ok := d.State.(*Generic)
		if !ok {
			return nil, kindError(d, "generic")
		}
		if !d.HasCluster(clusterID) {
			return nil, fmt.Errorf("cluster 0x%04X on endpoint %d: %w", clusterID, d.Endpoint, ErrUndeclaredCluster)
		}
		key := AttrKey{clusterID, attrID}
		if old, ok := s.Attributes[key]; ok && old.Equal(v) {
			return nil, nil
		}
		s.Attributes[key] = v
		return &update{cluster: clusterID, attribute: attrID, value: v}, nil
	})
}

// GetAttribute looks up a stored Generic value.
func (b *Bridge) GetAttribute(ep, clusterID, attrID uint16) (matter.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.registry.Find(ep)
	if !ok {
		return matter.Value{}, false
	}
	s, ok := d.State.(*Generic)
	if !ok {
		return matter.Value{}, false
	}
	v, ok := s.Attributes[AttrKey{clusterID, attrID}]
	return v, ok
}
