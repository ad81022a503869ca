package clusters

import "matter-bridge/internal/matter"

const (
	BridgedBasicInfoID uint16 = 0x0039

	BridgedBasicAttrNodeLabel            uint16 = 0x0005
	BridgedBasicAttrReachable            uint16 = 0x0011
	BridgedBasicAttrUniqueID             uint16 = 0x0012
	BridgedBasicAttrConfigurationVersion uint16 = 0x0018
)

// NodeLabelMaxLen is the longest node label accepted, in bytes.
const NodeLabelMaxLen = 32

var BridgedBasicInfo = matter.ClusterDef{
	ID:       BridgedBasicInfoID,
	Name:     "BridgedDeviceBasicInformation",
	Revision: 2,
	Attributes: []matter.AttributeDef{
		{ID: BridgedBasicAttrNodeLabel, Name: "NodeLabel", Type: matter.TypeCharStr, Size: NodeLabelMaxLen, Access: matter.AccessReadable | matter.AccessWritable | matter.AccessExternalStorage},
		{ID: BridgedBasicAttrReachable, Name: "Reachable", Type: matter.TypeBool, Size: 1, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: BridgedBasicAttrUniqueID, Name: "UniqueID", Type: matter.TypeCharStr, Size: 32, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: BridgedBasicAttrConfigurationVersion, Name: "ConfigurationVersion", Type: matter.TypeUint32, Size: 4, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: matter.AttrFeatureMap, Name: "FeatureMap", Type: matter.TypeBitmap32, Size: 4, Access: matter.AccessReadable | matter.AccessExternalStorage},
		{ID: matter.AttrClusterRevision, Name: "ClusterRevision", Type: matter.TypeUint16, Size: 2, Access: matter.AccessReadable | matter.AccessExternalStorage},
	},
}
