package clusters

import "matter-bridge/internal/matter"

const (
	RelativeHumidityID uint16 = 0x0405

	HumidityAttrMeasuredValue    uint16 = 0x0000
	HumidityAttrMinMeasuredValue uint16 = 0x0001
	HumidityAttrMaxMeasuredValue uint16 = 0x0002
)

// Fixed measurement bounds in hundredths of a percent.
const (
	HumidityMinCentiPercent uint16 = 0
	HumidityMaxCentiPercent uint16 = 10000
)

var RelativeHumidity = matter.ClusterDef{
	ID:       RelativeHumidityID,
	Name:     "RelativeHumidityMeasurement",
	Revision: 4,
	Attributes: []matter.AttributeDef{
		{ID: HumidityAttrMeasuredValue, Name: "MeasuredValue", Type: matter.TypeUint16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: HumidityAttrMinMeasuredValue, Name: "MinMeasuredValue", Type: matter.TypeUint16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: HumidityAttrMaxMeasuredValue, Name: "MaxMeasuredValue", Type: matter.TypeUint16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: matter.AttrClusterRevision, Name: "ClusterRevision", Type: matter.TypeUint16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
	},
}
