package clusters

import "matter-bridge/internal/matter"

const (
	DoorLockID uint16 = 0x0101

	DoorLockAttrLockState uint16 = 0x0000
	DoorLockAttrLockType  uint16 = 0x0001
)

// Lock states
const (
	LockStateNotFullyLocked uint8 = 0
	LockStateLocked         uint8 = 1
	LockStateUnlocked       uint8 = 2
)

var DoorLock = matter.ClusterDef{
	ID:       DoorLockID,
	Name:     "DoorLock",
	Revision: 7,
	Attributes: []matter.AttributeDef{
		{ID: DoorLockAttrLockState, Name: "LockState", Type: matter.TypeEnum8, Size: 1, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: DoorLockAttrLockType, Name: "LockType", Type: matter.TypeEnum8, Size: 1, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: matter.AttrClusterRevision, Name: "ClusterRevision", Type: matter.TypeUint16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
	},
	Commands: []matter.CommandDef{
		{ID: 0x00, Name: "LockDoor"},
		{ID: 0x01, Name: "UnlockDoor"},
	},
}
