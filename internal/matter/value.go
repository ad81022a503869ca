package matter

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindI8
	KindU8
	KindI16
	KindU16
	KindI32
	KindU32
	KindI64
	KindU64
	KindString
	KindBytes
)

var kindNames = map[Kind]string{
	KindBool:   "bool",
	KindI8:     "i8",
	KindU8:     "u8",
	KindI16:    "i16",
	KindU16:    "u16",
	KindI32:    "i32",
	KindU32:    "u32",
	KindI64:    "i64",
	KindU64:    "u64",
	KindString: "string",
	KindBytes:  "bytes",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind resolves a kind name such as "u16" or "string".
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("matter: unknown value kind %q: %w", name, ErrUnsupportedValueKind)
}

// IsInteger reports whether k is one of the fixed-width integer kinds.
func (k Kind) IsInteger() bool {
	return k >= KindI8 && k <= KindU64
}

// IsSigned reports whether k is a signed integer kind.
func (k Kind) IsSigned() bool {
	switch k {
	case KindI8, KindI16, KindI32, KindI64:
		return true
	}
	return false
}

// Width returns the encoded size in bytes of fixed-width kinds, or -1.
func (k Kind) Width() int {
	switch k {
	case KindBool, KindI8, KindU8:
		return 1
	case KindI16, KindU16:
		return 2
	case KindI32, KindU32:
		return 4
	case KindI64, KindU64:
		return 8
	}
	return -1
}

// Value is a closed union of the attribute values a bridged device can hold.
// The zero Value is invalid.
type Value struct {
	kind Kind
	bits uint64
	str  string
	raw  []byte
}

func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, bits: 1}
	}
	return Value{kind: KindBool}
}

func I8(v int8) Value    { return Value{kind: KindI8, bits: uint64(int64(v))} }
func U8(v uint8) Value   { return Value{kind: KindU8, bits: uint64(v)} }
func I16(v int16) Value  { return Value{kind: KindI16, bits: uint64(int64(v))} }
func U16(v uint16) Value { return Value{kind: KindU16, bits: uint64(v)} }
func I32(v int32) Value  { return Value{kind: KindI32, bits: uint64(int64(v))} }
func U32(v uint32) Value { return Value{kind: KindU32, bits: uint64(v)} }
func I64(v int64) Value  { return Value{kind: KindI64, bits: uint64(v)} }
func U64(v uint64) Value { return Value{kind: KindU64, bits: v} }

func String(s string) Value { return Value{kind: KindString, str: s} }

// Bytes copies b into a new Value.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: append([]byte(nil), b...)}
}

// Int builds an integer Value of kind k from n, truncating to the kind's width.
func Int(k Kind, n int64) (Value, error) {
	switch k {
	case KindI8:
		return I8(int8(n)), nil
	case KindU8:
		return U8(uint8(n)), nil
	case KindI16:
		return I16(int16(n)), nil
	case KindU16:
		return U16(uint16(n)), nil
	case KindI32:
		return I32(int32(n)), nil
	case KindU32:
		return U32(uint32(n)), nil
	case KindI64:
		return I64(n), nil
	case KindU64:
		return U64(uint64(n)), nil
	}
	return Value{}, fmt.Errorf("matter: %s is not an integer kind: %w", k, ErrUnsupportedValueKind)
}

func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsValid() bool  { return v.kind != KindInvalid }
func (v Value) AsBool() bool   { return v.kind == KindBool && v.bits != 0 }
func (v Value) AsInt() int64   { return int64(v.bits) }
func (v Value) AsUint() uint64 { return v.bits }
func (v Value) AsString() string {
	if v.kind == KindBytes {
		return string(v.raw)
	}
	return v.str
}

// AsBytes returns a copy of the blob payload.
func (v Value) AsBytes() []byte {
	if v.kind == KindString {
		return []byte(v.str)
	}
	return append([]byte(nil), v.raw...)
}

// Equal reports whether v and o carry the same tag and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	}
	return v.bits == o.bits
}

// Interface returns the payload as a plain Go value.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.AsBool()
	case KindI8:
		return int8(v.bits)
	case KindU8:
		return uint8(v.bits)
	case KindI16:
		return int16(v.bits)
	case KindU16:
		return uint16(v.bits)
	case KindI32:
		return int32(v.bits)
	case KindU32:
		return uint32(v.bits)
	case KindI64:
		return int64(v.bits)
	case KindU64:
		return v.bits
	case KindString:
		return v.str
	case KindBytes:
		return v.AsBytes()
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindInvalid:
		return "<invalid>"
	case KindBytes:
		return fmt.Sprintf("bytes(%X)", v.raw)
	case KindString:
		return fmt.Sprintf("%q", v.str)
	}
	return fmt.Sprintf("%s(%v)", v.kind, v.Interface())
}

// Coerce converts a loosely typed input (JSON number, Lua number, string)
// into a Value of kind k.
func Coerce(k Kind, x any) (Value, error) {
	switch k {
	case KindBool:
		switch b := x.(type) {
		case bool:
			return Bool(b), nil
		case float64:
			return Bool(b != 0), nil
		case string:
			switch strings.ToLower(b) {
			case "true", "on", "1":
				return Bool(true), nil
			case "false", "off", "0":
				return Bool(false), nil
			}
		}
	case KindString:
		if s, ok := x.(string); ok {
			return String(s), nil
		}
	case KindBytes:
		switch b := x.(type) {
		case []byte:
			return Bytes(b), nil
		case string:
			return Bytes([]byte(b)), nil
		}
	default:
		if k.IsInteger() {
			switch n := x.(type) {
			case float64:
				if n != math.Trunc(n) {
					return Value{}, fmt.Errorf("matter: %v is not an integer", n)
				}
				return Int(k, int64(n))
			case int:
				return Int(k, int64(n))
			case int64:
				return Int(k, n)
			case json.Number:
				i, err := n.Int64()
				if err != nil {
					return Value{}, fmt.Errorf("matter: parse %q: %w", n, err)
				}
				return Int(k, i)
			}
		}
	}
	return Value{}, fmt.Errorf("matter: cannot convert %T to %s: %w", x, k, ErrUnsupportedValueKind)
}

type jsonValue struct {
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindInvalid {
		return []byte("null"), nil
	}
	payload := v.Interface()
	if v.kind == KindBytes {
		payload = hex.EncodeToString(v.raw)
	}
	return json.Marshal(jsonValue{Kind: v.kind.String(), Value: payload})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var jv jsonValue
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&jv); err != nil {
		return err
	}
	k, err := ParseKind(jv.Kind)
	if err != nil {
		return err
	}
	if k == KindBytes {
		s, ok := jv.Value.(string)
		if !ok {
			return fmt.Errorf("matter: bytes value must be a hex string")
		}
		raw, err := hex.DecodeString(s)
		if err != nil {
			return fmt.Errorf("matter: decode hex %q: %w", s, err)
		}
		*v = Bytes(raw)
		return nil
	}
	out, err := Coerce(k, jv.Value)
	if err != nil {
		return err
	}
	*v = out
	return nil
}
