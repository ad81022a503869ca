package matter

// Device type IDs
const (
	DeviceTypeRootNode       uint32 = 0x0016
	DeviceTypeAggregator     uint32 = 0x000E
	DeviceTypePowerSource    uint32 = 0x0011
	DeviceTypeBridgedNode    uint32 = 0x0013
	DeviceTypeOnOffLight     uint32 = 0x0100
	DeviceTypeTempSensor     uint32 = 0x0302
	DeviceTypeHumiditySensor uint32 = 0x0307
	DeviceTypeDoorLock       uint32 = 0x000A
)

// Reserved endpoints
const (
	EndpointRoot       uint16 = 0
	EndpointAggregator uint16 = 1
)

// DeviceTypeName returns a human-readable name for a device type.
func DeviceTypeName(id uint32) string {
	switch id {
	case DeviceTypeRootNode:
		return "root_node"
	case DeviceTypeAggregator:
		return "aggregator"
	case DeviceTypePowerSource:
		return "power_source"
	case DeviceTypeBridgedNode:
		return "bridged_node"
	case DeviceTypeOnOffLight:
		return "on_off_light"
	case DeviceTypeTempSensor:
		return "temperature_sensor"
	case DeviceTypeHumiditySensor:
		return "humidity_sensor"
	case DeviceTypeDoorLock:
		return "door_lock"
	}
	return "unknown"
}
