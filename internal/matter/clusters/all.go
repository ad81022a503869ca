package clusters

import "matter-bridge/internal/matter"

// All lists every cluster the bridge exposes, in ID order.
var All = []matter.ClusterDef{
	OnOff,                  // 0x0006
	LevelControl,           // 0x0008
	PowerSource,            // 0x002F
	BridgedBasicInfo,       // 0x0039
	DoorLock,               // 0x0101
	TemperatureMeasurement, // 0x0402
	RelativeHumidity,       // 0x0405
}

// RegisterAll adds every bridge cluster to r.
func RegisterAll(r *matter.Registry) {
	for _, c := range All {
		r.Register(c)
	}
}
