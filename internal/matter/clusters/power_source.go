package clusters

import (
	"strings"

	"matter-bridge/internal/matter"
)

const (
	PowerSourceID uint16 = 0x002F

	PowerSourceAttrStatus         uint16 = 0x0000
	PowerSourceAttrOrder          uint16 = 0x0005
	PowerSourceAttrDescription    uint16 = 0x0006
	PowerSourceAttrBatChargeLevel uint16 = 0x000E
)

// Battery charge levels
const (
	BatChargeLevelOK       uint8 = 0
	BatChargeLevelWarning  uint8 = 1
	BatChargeLevelCritical uint8 = 2
)

// BatChargeLevelNames indexes the charge level enum.
var BatChargeLevelNames = [...]string{"ok", "warning", "critical"}

// ParseBatChargeLevel resolves a level name case-insensitively.
func ParseBatChargeLevel(name string) (uint8, bool) {
	for i, n := range BatChargeLevelNames {
		if strings.EqualFold(n, name) {
			return uint8(i), true
		}
	}
	return 0, false
}

// PowerSourceStatusActive is the status reported for the bridged battery.
const PowerSourceStatusActive uint8 = 1

var PowerSource = matter.ClusterDef{
	ID:       PowerSourceID,
	Name:     "PowerSource",
	Revision: 2,
	Attributes: []matter.AttributeDef{
		{ID: PowerSourceAttrBatChargeLevel, Name: "BatChargeLevel", Type: matter.TypeEnum8, Size: 1, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: PowerSourceAttrOrder, Name: "Order", Type: matter.TypeUint8, Size: 1, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: PowerSourceAttrStatus, Name: "Status", Type: matter.TypeEnum8, Size: 1, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: PowerSourceAttrDescription, Name: "Description", Type: matter.TypeCharStr, Size: 32, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: matter.AttrClusterRevision, Name: "ClusterRevision", Type: matter.TypeUint16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
	},
}
