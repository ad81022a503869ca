package clusters

import "matter-bridge/internal/matter"

const (
	TemperatureMeasurementID uint16 = 0x0402

	TemperatureAttrMeasuredValue    uint16 = 0x0000
	TemperatureAttrMinMeasuredValue uint16 = 0x0001
	TemperatureAttrMaxMeasuredValue uint16 = 0x0002
)

// Fixed measurement bounds in centidegrees Celsius.
const (
	TemperatureMinCentiDegrees int16 = -1000
	TemperatureMaxCentiDegrees int16 = 5000
)

var TemperatureMeasurement = matter.ClusterDef{
	ID:       TemperatureMeasurementID,
	Name:     "TemperatureMeasurement",
	Revision: 4,
	Attributes: []matter.AttributeDef{
		{ID: TemperatureAttrMeasuredValue, Name: "MeasuredValue", Type: matter.TypeInt16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: TemperatureAttrMinMeasuredValue, Name: "MinMeasuredValue", Type: matter.TypeInt16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: TemperatureAttrMaxMeasuredValue, Name: "MaxMeasuredValue", Type: matter.TypeInt16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: matter.AttrClusterRevision, Name: "ClusterRevision", Type: matter.TypeUint16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
	},
}
