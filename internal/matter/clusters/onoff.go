package clusters

import "matter-bridge/internal/matter"

const (
	OnOffID uint16 = 0x0006

	OnOffAttrOnOff uint16 = 0x0000

	OnOffCmdOff    uint8 = 0x00
	OnOffCmdOn     uint8 = 0x01
	OnOffCmdToggle uint8 = 0x02
)

var OnOff = matter.ClusterDef{
	ID:       OnOffID,
	Name:     "OnOff",
	Revision: 4,
	Attributes: []matter.AttributeDef{
		{ID: OnOffAttrOnOff, Name: "OnOff", Type: matter.TypeBool, Size: 1, Access: matter.AccessReadable | matter.AccessWritable | matter.AccessExternalStorage},
		{ID: matter.AttrClusterRevision, Name: "ClusterRevision", Type: matter.TypeUint16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
	},
	Commands: []matter.CommandDef{
		{ID: OnOffCmdOff, Name: "Off"},
		{ID: OnOffCmdOn, Name: "On"},
		{ID: OnOffCmdToggle, Name: "Toggle"},
	},
}
