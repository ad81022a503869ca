package bridge

import (
	"encoding/json"
	"sort"

	"matter-bridge/internal/matter"
)

// State is the variant-specific part of a Device. The set of variants is
// closed: Light, TemperatureSensor, HumiditySensor, Composed and Generic.
type State interface {
	kind() string
	clone() State
}

// Light is a bridged on/off light.
type Light struct {
	On bool
}

// TemperatureSensor reports temperature in hundredths of a degree Celsius.
type TemperatureSensor struct {
	CentiDegrees int16
}

// HumiditySensor reports relative humidity in hundredths of a percent.
type HumiditySensor struct {
	CentiPercent uint16
}

// Composed is a parent device whose sub-functions live on child endpoints.
type Composed struct {
	BatteryChargeLevel uint8
}

// AttrKey addresses one attribute of a Generic device.
type AttrKey struct {
	Cluster   uint16
	Attribute uint16
}

// Generic stores arbitrary attribute values for a declared cluster set.
type Generic struct {
	Attributes map[AttrKey]matter.Value
}

func (*Light) kind() string             { return "light" }
func (*TemperatureSensor) kind() string { return "temperature_sensor" }
func (*HumiditySensor) kind() string    { return "humidity_sensor" }
func (*Composed) kind() string          { return "composed" }
func (*Generic) kind() string           { return "generic" }

func (s *Light) clone() State             { c := *s; return &c }
func (s *TemperatureSensor) clone() State { c := *s; return &c }
func (s *HumiditySensor) clone() State    { c := *s; return &c }
func (s *Composed) clone() State          { c := *s; return &c }
func (s *Generic) clone() State {
	c := &Generic{Attributes: make(map[AttrKey]matter.Value, len(s.Attributes))}
	for k, v := range s.Attributes {
		c.Attributes[k] = v
	}
	return c
}

// Device is one bridged device exposed on an endpoint. Clusters,
// Attributes and DeviceTypes are fixed at construction.
type Device struct {
	Name           string
	Endpoint       uint16
	ParentEndpoint uint16
	Reachable      bool
	BridgedNode    bool
	UniqueID       string
	Archetype      Archetype
	Clusters       []uint16
	Attributes     []matter.AttributeDescriptor
	DeviceTypes    []uint32
	State          State
}

// Kind returns the variant name of the device state.
func (d *Device) Kind() string {
	if d.State == nil {
		return "unknown"
	}
	return d.State.kind()
}

// HasCluster reports whether the cluster is in the device's declared set.
func (d *Device) HasCluster(id uint16) bool {
	for _, c := range d.Clusters {
		if c == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand out past the bridge lock.
func (d *Device) Clone() *Device {
	cp := *d
	cp.Clusters = append([]uint16(nil), d.Clusters...)
	cp.Attributes = append([]matter.AttributeDescriptor(nil), d.Attributes...)
	cp.DeviceTypes = append([]uint32(nil), d.DeviceTypes...)
	if d.State != nil {
		cp.State = d.State.clone()
	}
	return &cp
}

// Registration returns the descriptor set announced to the protocol stack.
func (d *Device) Registration() Registration {
	return Registration{
		Endpoint:       d.Endpoint,
		ParentEndpoint: d.ParentEndpoint,
		Name:           d.Name,
		Clusters:       append([]uint16(nil), d.Clusters...),
		Attributes:     append([]matter.AttributeDescriptor(nil), d.Attributes...),
		DeviceTypes:    append([]uint32(nil), d.DeviceTypes...),
	}
}

// GenericAttribute is the JSON form of one stored generic value.
type GenericAttribute struct {
	Cluster   uint16       `json:"cluster"`
	Attribute uint16       `json:"attribute"`
	Value     matter.Value `json:"value"`
}

// SortedAttributes lists a Generic state's values ordered by key.
func (s *Generic) SortedAttributes() []GenericAttribute {
	out := make([]GenericAttribute, 0, len(s.Attributes))
	for k, v := range s.Attributes {
		out = append(out, GenericAttribute{Cluster: k.Cluster, Attribute: k.Attribute, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Cluster != out[j].Cluster {
			return out[i].Cluster < out[j].Cluster
		}
		return out[i].Attribute < out[j].Attribute
	})
	return out
}

// StateMap flattens the device state for JSON, MQTT and Lua consumers.
func (d *Device) StateMap() map[string]any {
	m := map[string]any{}
	switch s := d.State.(type) {
	case *Light:
		m["on"] = s.On
	case *TemperatureSensor:
		m["centi_degrees"] = s.CentiDegrees
		m["temperature"] = float64(s.CentiDegrees) / 100
	case *HumiditySensor:
		m["centi_percent"] = s.CentiPercent
		m["humidity"] = float64(s.CentiPercent) / 100
	case *Composed:
		m["battery_charge_level"] = s.BatteryChargeLevel
	case *Generic:
		m["attributes"] = s.SortedAttributes()
	}
	return m
}

type deviceJSON struct {
	Endpoint       uint16         `json:"endpoint"`
	ParentEndpoint uint16         `json:"parent_endpoint"`
	Name           string         `json:"name"`
	Kind           string         `json:"kind"`
	Archetype      Archetype      `json:"archetype"`
	UniqueID       string         `json:"unique_id"`
	Reachable      bool           `json:"reachable"`
	BridgedNode    bool           `json:"bridged_node"`
	Clusters       []uint16       `json:"clusters"`
	DeviceTypes    []uint32       `json:"device_types"`
	State          map[string]any `json:"state"`
}

func (d *Device) MarshalJSON() ([]byte, error) {
	return json.Marshal(deviceJSON{
		Endpoint:       d.Endpoint,
		ParentEndpoint: d.ParentEndpoint,
		Name:           d.Name,
		Kind:           d.Kind(),
		Archetype:      d.Archetype,
		UniqueID:       d.UniqueID,
		Reachable:      d.Reachable,
		BridgedNode:    d.BridgedNode,
		Clusters:       d.Clusters,
		DeviceTypes:    d.DeviceTypes,
		State:          d.StateMap(),
	})
}
