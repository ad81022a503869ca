package store

import "time"

// Device is the persisted snapshot of one bridged device.
type Device struct {
	Endpoint           uint16      `cbor:"1,keyasint" json:"endpoint"`
	ParentEndpoint     uint16      `cbor:"2,keyasint" json:"parent_endpoint"`
	Archetype          string      `cbor:"3,keyasint" json:"archetype"`
	Name               string      `cbor:"4,keyasint" json:"name"`
	UniqueID           string      `cbor:"5,keyasint" json:"unique_id"`
	Reachable          bool        `cbor:"6,keyasint" json:"reachable"`
	On                 bool        `cbor:"7,keyasint,omitempty" json:"on,omitempty"`
	CentiDegrees       int16       `cbor:"8,keyasint,omitempty" json:"centi_degrees,omitempty"`
	CentiPercent       uint16      `cbor:"9,keyasint,omitempty" json:"centi_percent,omitempty"`
	BatteryChargeLevel uint8       `cbor:"10,keyasint,omitempty" json:"battery_charge_level,omitempty"`
	Attributes         []Attribute `cbor:"11,keyasint,omitempty" json:"attributes,omitempty"`
	UpdatedAt          time.Time   `cbor:"12,keyasint" json:"updated_at"`
}

// Attribute is one stored generic attribute value.
type Attribute struct {
	Cluster   uint16 `cbor:"1,keyasint" json:"cluster"`
	Attribute uint16 `cbor:"2,keyasint" json:"attribute"`
	Kind      uint8  `cbor:"3,keyasint" json:"kind"`
	Bits      uint64 `cbor:"4,keyasint,omitempty" json:"bits,omitempty"`
	Str       string `cbor:"5,keyasint,omitempty" json:"str,omitempty"`
	Raw       []byte `cbor:"6,keyasint,omitempty" json:"raw,omitempty"`
}

// BridgeState holds the persisted identity of this bridge instance.
type BridgeState struct {
	InstanceID string    `cbor:"1,keyasint" json:"instance_id"`
	CreatedAt  time.Time `cbor:"2,keyasint" json:"created_at"`
}
