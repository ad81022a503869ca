package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"

	"matter-bridge/internal/matter"
	"matter-bridge/internal/matter/clusters"
)

// Archetype names a factory recipe.
type Archetype string

const (
	ArchetypeLight               Archetype = "light"
	ArchetypeTemperatureSensor   Archetype = "temperature_sensor"
	ArchetypeHumiditySensor      Archetype = "humidity_sensor"
	ArchetypeComposed            Archetype = "composed"
	ArchetypeComposedTemperature Archetype = "composed_temperature_sensor"
	ArchetypeComposedHumidity    Archetype = "composed_humidity_sensor"
	ArchetypeDoorLock            Archetype = "door_lock"
	ArchetypeGenericOnOff        Archetype = "generic_on_off"
)

var (
	ErrUnsupportedArchetype = errors.New("unsupported device archetype")
	ErrNameTooLong          = errors.New("name too long")
	ErrInvalidName          = errors.New("name is not valid UTF-8")
)

// checkName enforces the node label rules: UTF-8, at most
// clusters.NodeLabelMaxLen bytes.
func checkName(name string) error {
	if len(name) > clusters.NodeLabelMaxLen {
		return fmt.Errorf("%d bytes: %w", len(name), ErrNameTooLong)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

type recipe struct {
	clusters    []uint16
	attributes  []matter.AttributeDescriptor
	deviceTypes []uint32
	newState    func() State
}

func concat(tables ...[]matter.AttributeDescriptor) []matter.AttributeDescriptor {
	var out []matter.AttributeDescriptor
	for _, t := range tables {
		out = append(out, t...)
	}
	return out
}

var (
	onOffAttributes = clusters.OnOff.Descriptors(
		clusters.OnOffAttrOnOff, matter.AttrClusterRevision)

	temperatureAttributes = clusters.TemperatureMeasurement.Descriptors(
		clusters.TemperatureAttrMeasuredValue, clusters.TemperatureAttrMinMeasuredValue,
		clusters.TemperatureAttrMaxMeasuredValue, matter.AttrClusterRevision)

	humidityAttributes = clusters.RelativeHumidity.Descriptors(
		clusters.HumidityAttrMeasuredValue, clusters.HumidityAttrMinMeasuredValue,
		clusters.HumidityAttrMaxMeasuredValue, matter.AttrClusterRevision)

	powerSourceAttributes = clusters.PowerSource.Descriptors(
		clusters.PowerSourceAttrBatChargeLevel, clusters.PowerSourceAttrOrder,
		clusters.PowerSourceAttrStatus, clusters.PowerSourceAttrDescription,
		matter.AttrClusterRevision)

	doorLockAttributes = clusters.DoorLock.Descriptors(
		clusters.DoorLockAttrLockState, clusters.DoorLockAttrLockType, matter.AttrClusterRevision)

	bridgedBasicAttributes = clusters.BridgedBasicInfo.Descriptors(
		clusters.BridgedBasicAttrNodeLabel, clusters.BridgedBasicAttrReachable,
		clusters.BridgedBasicAttrUniqueID, matter.AttrFeatureMap, matter.AttrClusterRevision)
)

var recipes = map[Archetype]recipe{
	ArchetypeLight: {
		clusters:    []uint16{clusters.OnOffID, clusters.BridgedBasicInfoID},
		attributes:  concat(onOffAttributes, bridgedBasicAttributes),
		deviceTypes: []uint32{matter.DeviceTypeOnOffLight, matter.DeviceTypeBridgedNode},
		newState:    func() State { return &Light{} },
	},
	ArchetypeTemperatureSensor: {
		clusters:    []uint16{clusters.TemperatureMeasurementID, clusters.BridgedBasicInfoID},
		attributes:  concat(temperatureAttributes, bridgedBasicAttributes),
		deviceTypes: []uint32{matter.DeviceTypeTempSensor, matter.DeviceTypeBridgedNode},
		newState:    func() State { return &TemperatureSensor{} },
	},
	ArchetypeHumiditySensor: {
		clusters:    []uint16{clusters.RelativeHumidityID, clusters.BridgedBasicInfoID},
		attributes:  concat(humidityAttributes, bridgedBasicAttributes),
		deviceTypes: []uint32{matter.DeviceTypeHumiditySensor, matter.DeviceTypeBridgedNode},
		newState:    func() State { return &HumiditySensor{} },
	},
	ArchetypeComposed: {
		clusters:    []uint16{clusters.PowerSourceID, clusters.BridgedBasicInfoID},
		attributes:  concat(powerSourceAttributes, bridgedBasicAttributes),
		deviceTypes: []uint32{matter.DeviceTypeBridgedNode, matter.DeviceTypePowerSource},
		newState:    func() State { return &Composed{} },
	},
	ArchetypeComposedTemperature: {
		clusters:    []uint16{clusters.TemperatureMeasurementID},
		attributes:  temperatureAttributes,
		deviceTypes: []uint32{matter.DeviceTypeTempSensor},
		newState:    func() State { return &TemperatureSensor{} },
	},
	ArchetypeComposedHumidity: {
		clusters:    []uint16{clusters.RelativeHumidityID},
		attributes:  humidityAttributes,
		deviceTypes: []uint32{matter.DeviceTypeHumiditySensor},
		newState:    func() State { return &HumiditySensor{} },
	},
	ArchetypeDoorLock: {
		clusters:    []uint16{clusters.DoorLockID, clusters.BridgedBasicInfoID},
		attributes:  concat(doorLockAttributes, bridgedBasicAttributes),
		deviceTypes: []uint32{matter.DeviceTypeDoorLock, matter.DeviceTypeBridgedNode},
		newState: func() State {
			return &Generic{Attributes: map[AttrKey]matter.Value{
				{clusters.DoorLockID, clusters.DoorLockAttrLockState}: matter.U8(clusters.LockStateLocked),
				{clusters.DoorLockID, clusters.DoorLockAttrLockType}:  matter.U8(0),
				{clusters.DoorLockID, matter.AttrClusterRevision}:     matter.U16(clusters.DoorLock.Revision),
			}}
		},
	},
	ArchetypeGenericOnOff: {
		clusters:    []uint16{clusters.OnOffID, clusters.BridgedBasicInfoID},
		attributes:  concat(onOffAttributes, bridgedBasicAttributes),
		deviceTypes: []uint32{matter.DeviceTypeOnOffLight, matter.DeviceTypeBridgedNode},
		newState: func() State {
			return &Generic{Attributes: map[AttrKey]matter.Value{
				{clusters.OnOffID, clusters.OnOffAttrOnOff}:    matter.Bool(false),
				{clusters.OnOffID, matter.AttrClusterRevision}: matter.U16(clusters.OnOff.Revision),
			}}
		},
	},
}

// Archetypes lists the archetypes the factory can build, sorted by name.
func Archetypes() []Archetype {
	out := make([]Archetype, 0, len(recipes))
	for a := range recipes {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func isBridged(deviceTypes []uint32) bool {
	for _, t := range deviceTypes {
		if t == matter.DeviceTypeBridgedNode {
			return true
		}
	}
	return false
}

// Build constructs a device from its archetype's descriptor table without
// side effects.
func Build(a Archetype, name string, endpoint, parent uint16) (*Device, error) {
	r, ok := recipes[a]
	if !ok {
		return nil, fmt.Errorf("%q: %w", a, ErrUnsupportedArchetype)
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	return &Device{
		Name:           name,
		Endpoint:       endpoint,
		ParentEndpoint: parent,
		Reachable:      true,
		BridgedNode:    isBridged(r.deviceTypes),
		UniqueID:       uuid.NewString(),
		Archetype:      a,
		Clusters:       append([]uint16(nil), r.clusters...),
		Attributes:     append([]matter.AttributeDescriptor(nil), r.attributes...),
		DeviceTypes:    append([]uint32(nil), r.deviceTypes...),
		State:          r.newState(),
	}, nil
}

// Factory builds devices and registers their descriptors with the stack.
// It never touches the registry; callers insert the returned device.
type Factory struct {
	stack  Stack
	logger *slog.Logger
}

func NewFactory(stack Stack, logger *slog.Logger) *Factory {
	return &Factory{stack: stack, logger: logger}
}

// Create builds a device and registers it with the stack.
func (f *Factory) Create(a Archetype, name string, endpoint, parent uint16) (*Device, error) {
	d, err := Build(a, name, endpoint, parent)
	if err != nil {
		return nil, err
	}
	if err := f.Register(d); err != nil {
		return nil, err
	}
	return d, nil
}

// Register announces an already built device to the stack.
func (f *Factory) Register(d *Device) error {
	if err := f.stack.RegisterDevice(d.Registration()); err != nil {
		return fmt.Errorf("register endpoint %d: %w", d.Endpoint, err)
	}
	f.logger.Info("device registered", "endpoint", d.Endpoint, "parent", d.ParentEndpoint,
		"name", d.Name, "archetype", d.Archetype, "bridged", d.BridgedNode)
	return nil
}
