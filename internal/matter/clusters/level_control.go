package clusters

import "matter-bridge/internal/matter"

const (
	LevelControlID uint16 = 0x0008

	LevelControlAttrCurrentLevel uint16 = 0x0000
)

var LevelControl = matter.ClusterDef{
	ID:       LevelControlID,
	Name:     "LevelControl",
	Revision: 5,
	Attributes: []matter.AttributeDef{
		{ID: LevelControlAttrCurrentLevel, Name: "CurrentLevel", Type: matter.TypeUint8, Size: 1, Access: matter.AccessReadable | matter.AccessWritable | matter.AccessExternalStorage},
		{ID: matter.AttrClusterRevision, Name: "ClusterRevision", Type: matter.TypeUint16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
	},
	Commands: []matter.CommandDef{
		{ID: 0x00, Name: "MoveToLevel"},
		{ID: 0x04, Name: "MoveToLevelWithOnOff"},
	},
}
