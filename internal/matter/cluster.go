package matter

// Access flags
const (
	AccessWritable        uint8 = 0x01
	AccessExternalStorage uint8 = 0x10
	AccessReadable        uint8 = 0x20
)

// Global attributes present on every cluster.
const (
	AttrFeatureMap      uint16 = 0xFFFC
	AttrClusterRevision uint16 = 0xFFFD
)

// AttributeDef defines an attribute within a cluster.
type AttributeDef struct {
	ID     uint16   `json:"id"`
	Name   string   `json:"name"`
	Type   WireType `json:"type"`
	Size   uint16   `json:"size"`
	Access uint8    `json:"access"`
}

func (a *AttributeDef) IsReadable() bool { return a.Access&AccessReadable != 0 }
func (a *AttributeDef) IsWritable() bool { return a.Access&AccessWritable != 0 }

// IsExternal returns true if the bridge, not the stack, owns the value.
func (a *AttributeDef) IsExternal() bool { return a.Access&AccessExternalStorage != 0 }

// CommandDef defines a cluster-specific command.
type CommandDef struct {
	ID   uint8  `json:"id"`
	Name string `json:"name"`
}

// ClusterDef defines a cluster with its attributes and commands.
type ClusterDef struct {
	ID         uint16         `json:"id"`
	Name       string         `json:"name"`
	Revision   uint16         `json:"revision"`
	Attributes []AttributeDef `json:"attributes,omitempty"`
	Commands   []CommandDef   `json:"commands,omitempty"`
}

// FindAttribute looks up an attribute by ID.
func (c *ClusterDef) FindAttribute(id uint16) *AttributeDef {
	for i := range c.Attributes {
		if c.Attributes[i].ID == id {
			return &c.Attributes[i]
		}
	}
	return nil
}

// FindCommand looks up a command by ID.
func (c *ClusterDef) FindCommand(id uint8) *CommandDef {
	for i := range c.Commands {
		if c.Commands[i].ID == id {
			return &c.Commands[i]
		}
	}
	return nil
}

// Descriptors builds the descriptor table entries for the listed attributes
// of this cluster, in the given order. Unknown IDs are skipped.
func (c *ClusterDef) Descriptors(ids ...uint16) []AttributeDescriptor {
	out := make([]AttributeDescriptor, 0, len(ids))
	for _, id := range ids {
		a := c.FindAttribute(id)
		if a == nil {
			continue
		}
		out = append(out, AttributeDescriptor{
			ClusterID:   c.ID,
			AttributeID: a.ID,
			Type:        a.Type,
			Size:        a.Size,
			Access:      a.Access,
		})
	}
	return out
}

// DeepCopy returns a deep copy of the cluster definition.
func (c *ClusterDef) DeepCopy() *ClusterDef {
	cp := *c
	if c.Attributes != nil {
		cp.Attributes = make([]AttributeDef, len(c.Attributes))
		copy(cp.Attributes, c.Attributes)
	}
	if c.Commands != nil {
		cp.Commands = make([]CommandDef, len(c.Commands))
		copy(cp.Commands, c.Commands)
	}
	return &cp
}

// Merge adds attributes and commands from another definition.
func (c *ClusterDef) Merge(other *ClusterDef) {
	for _, attr := range other.Attributes {
		if c.FindAttribute(attr.ID) == nil {
			c.Attributes = append(c.Attributes, attr)
		}
	}
	for _, cmd := range other.Commands {
		if c.FindCommand(cmd.ID) == nil {
			c.Commands = append(c.Commands, cmd)
		}
	}
}

// AttributeDescriptor is one row of a device's descriptor table as
// registered with the protocol stack.
type AttributeDescriptor struct {
	ClusterID   uint16   `json:"cluster_id"`
	AttributeID uint16   `json:"attribute_id"`
	Type        WireType `json:"type"`
	Size        uint16   `json:"size"`
	Access      uint8    `json:"access"`
}
