package bridge

import (
	"fmt"

	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

// UnboundedRead disables the reply length check in Read.
const UnboundedRead = -1

// Fixed values served for attributes the bridge does not model per device.
const (
	measurementRevision    = 4
	bridgedBasicRevision   = 2
	powerSourceRevision    = 2
	configurationVersion   = 1
	powerSourceDescription = "Battery"
)

// Read answers a stack read of (endpoint, cluster, attribute). ok is false
// when the bridge has no opinion on the triple or the encoded reply would
// exceed maxLen; the stack then falls back to its own storage.
func (b *Bridge) Read(endpoint, clusterID, attrID uint16, maxLen int) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.registry.Find(endpoint)
	if !ok {
		return nil, false
	}
	data, ok := readAttribute(d, clusterID, attrID)
	if !ok {
		return nil, false
	}
	if maxLen >= 0 && len(data) > maxLen {
		b.logger.Debug("read reply exceeds buffer", "endpoint", endpoint,
			"cluster", fmt.Sprintf("0x%04X", clusterID), "attr", fmt.Sprintf("0x%04X", attrID),
			"len", len(data), "max", maxLen)
		return nil, false
	}
	return data, true
}

func readAttribute(d *Device, clusterID, attrID uint16) ([]byte, bool) {
	switch clusterID {
	case clusters.BridgedBasicInfoID:
		if d.BridgedNode {
			return readBridgedBasic(d, attrID)
		}
	case clusters.TemperatureMeasurementID:
		switch attrID {
		case clusters.TemperatureAttrMinMeasuredValue:
			return matter.EncodeInt(int64(clusters.TemperatureMinCentiDegrees), 2), true
		case clusters.TemperatureAttrMaxMeasuredValue:
			return matter.EncodeInt(int64(clusters.TemperatureMaxCentiDegrees), 2), true
		case matter.AttrClusterRevision:
			return matter.EncodeUint(measurementRevision, 2), true
		}
	case clusters.RelativeHumidityID:
		switch attrID {
		case clusters.HumidityAttrMinMeasuredValue:
			return matter.EncodeUint(uint64(clusters.HumidityMinCentiPercent), 2), true
		case clusters.HumidityAttrMaxMeasuredValue:
			return matter.EncodeUint(uint64(clusters.HumidityMaxCentiPercent), 2), true
		case matter.AttrClusterRevision:
			return matter.EncodeUint(measurementRevision, 2), true
		}
	}

	switch s := d.State.(type) {
	case *Light:
		if clusterID != clusters.OnOffID {
			return nil, false
		}
		switch attrID {
		case clusters.OnOffAttrOnOff:
			return matter.EncodeBool(s.On), true
		case matter.AttrClusterRevision:
			return matter.EncodeUint(uint64(clusters.OnOff.Revision), 2), true
		}
	case *TemperatureSensor:
		if clusterID == clusters.TemperatureMeasurementID && attrID == clusters.TemperatureAttrMeasuredValue {
			return matter.EncodeInt(int64(s.CentiDegrees), 2), true
		}
	case *HumiditySensor:
		if clusterID == clusters.RelativeHumidityID && attrID == clusters.HumidityAttrMeasuredValue {
			return matter.EncodeUint(uint64(s.CentiPercent), 2), true
		}
	case *Composed:
		if clusterID == clusters.PowerSourceID {
			return readPowerSource(s, attrID)
		}
	case *Generic:
		if !d.HasCluster(clusterID) {
			return nil, false
		}
		v, ok := s.Attributes[AttrKey{clusterID, attrID}]
		if !ok {
			return nil, false
		}
		data, err := matter.EncodeValue(v)
		if err != nil {
			return nil, false
		}
		return data, true
	}
	return nil, false
}

func readBridgedBasic(d *Device, attrID uint16) ([]byte, bool) {
	switch attrID {
	case clusters.BridgedBasicAttrReachable:
		return matter.EncodeBool(d.Reachable), true
	case clusters.BridgedBasicAttrNodeLabel:
		return []byte(d.Name), true
	case clusters.BridgedBasicAttrUniqueID:
		return []byte(d.UniqueID), true
	case clusters.BridgedBasicAttrConfigurationVersion:
		return matter.EncodeUint(configurationVersion, 4), true
	case matter.AttrFeatureMap:
		return matter.EncodeUint(0, 4), true
	case matter.AttrClusterRevision:
		return matter.EncodeUint(bridgedBasicRevision, 2), true
	}
	return nil, false
}

func readPowerSource(s *Composed, attrID uint16) ([]byte, bool) {
	switch attrID {
	case clusters.PowerSourceAttrBatChargeLevel:
		return []byte{s.BatteryChargeLevel}, true
	case clusters.PowerSourceAttrOrder:
		return []byte{0}, true
	case clusters.PowerSourceAttrStatus:
		return []byte{clusters.PowerSourceStatusActive}, true
	case clusters.PowerSourceAttrDescription:
		return []byte(powerSourceDescription), true
	case matter.AttrClusterRevision:
		return matter.EncodeUint(powerSourceRevision, 2), true
	}
	return nil, false
}

// Write applies a stack write. It returns false without touching the device
// when the triple is not handled, the payload is malformed or the device is
// unreachable.
func (b *Bridge) Write(endpoint, clusterID, attrID uint16, data []byte) bool {
	b.mu.Lock()
	d, ok := b.registry.Find(endpoint)
	if !ok || !d.Reachable {
		b.mu.Unlock()
		return false
	}
	v, changed, ok := writeAttribute(d, clusterID, attrID, data)
	name := d.Name
	b.mu.Unlock()
	if !ok {
		return false
	}
	if changed {
		b.stack.ReportAttributeChanged(endpoint, clusterID, attrID)
		b.emitChange(endpoint, name, clusterID, attrID, v, SourceStack)
	}
	return true
}

// writeAttribute decodes data and mutates d. Caller must hold b.mu.
func writeAttribute(d *Device, clusterID, attrID uint16, data []byte) (matter.Value, bool, bool) {
	if clusterID == clusters.BridgedBasicInfoID && d.BridgedNode {
		if attrID != clusters.BridgedBasicAttrNodeLabel {
			return matter.Value{}, false, false
		}
		name := string(data)
		if checkName(name) != nil {
			return matter.Value{}, false, false
		}
		changed := d.Name != name
		d.Name = name
		return matter.String(name), changed, true
	}

	switch s := d.State.(type) {
	case *Light:
		if clusterID == clusters.OnOffID && attrID == clusters.OnOffAttrOnOff {
			v, err := matter.Decode(data, matter.TypeBool)
			if err != nil {
				return matter.Value{}, false, false
			}
			changed := s.On != v.AsBool()
			s.On = v.AsBool()
			return v, changed, true
		}
	case *TemperatureSensor:
		if clusterID == clusters.TemperatureMeasurementID && attrID == clusters.TemperatureAttrMeasuredValue {
			v, err := matter.Decode(data, matter.TypeInt16)
			if err != nil {
				return matter.Value{}, false, false
			}
			n := int16(v.AsInt())
			changed := s.CentiDegrees != n
			s.CentiDegrees = n
			return v, changed, true
		}
	case *HumiditySensor:
		if clusterID == clusters.RelativeHumidityID && attrID == clusters.HumidityAttrMeasuredValue {
			v, err := matter.Decode(data, matter.TypeUint16)
			if err != nil {
				return matter.Value{}, false, false
			}
			n := uint16(v.AsUint())
			changed := s.CentiPercent != n
			s.CentiPercent = n
			return v, changed, true
		}
	case *Composed:
		if clusterID == clusters.PowerSourceID && attrID == clusters.PowerSourceAttrBatChargeLevel {
			v, err := matter.Decode(data, matter.TypeEnum8)
			if err != nil {
				return matter.Value{}, false, false
			}
			n := uint8(v.AsUint())
			changed := s.BatteryChargeLevel != n
			s.BatteryChargeLevel = n
			return v, changed, true
		}
	case *Generic:
		if !d.HasCluster(clusterID) {
			return matter.Value{}, false, false
		}
		key := AttrKey{clusterID, attrID}
		old, ok := s.Attributes[key]
		if !ok {
			return matter.Value{}, false, false
		}
		v, err := matter.DecodeAs(data, old.Kind())
		if err != nil {
			return matter.Value{}, false, false
		}
		s.Attributes[key] = v
		return v, !old.Equal(v), true
	}
	return matter.Value{}, false, false
}

// Command executes a cluster command. Only OnOff commands on lights are
// handled.
func (b *Bridge) Command(endpoint, clusterID uint16, commandID uint8) bool {
	if clusterID != clusters.OnOffID {
		return false
	}
	b.mu.Lock()
	d, ok := b.registry.Find(endpoint)
	if !ok {
		b.mu.Unlock()
		return false
	}
	light, ok := d.State.(*Light)
	if !ok {
		b.mu.Unlock()
		return false
	}
	on := light.On
	switch commandID {
	case clusters.OnOffCmdOff:
		on = false
	case clusters.OnOffCmdOn:
		on = true
	case clusters.OnOffCmdToggle:
		on = !light.On
	default:
		b.mu.Unlock()
		return false
	}
	changed := light.On != on
	light.On = on
	name := d.Name
	b.mu.Unlock()

	if changed {
		b.stack.ReportAttributeChanged(endpoint, clusters.OnOffID, clusters.OnOffAttrOnOff)
		b.emitChange(endpoint, name, clusters.OnOffID, clusters.OnOffAttrOnOff, matter.Bool(on), SourceStack)
	}
	return true
}
