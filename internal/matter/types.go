package matter

import (
	"errors"
	"fmt"
)

// WireType identifies the on-wire encoding of an attribute value.
type WireType uint8

// Wire type IDs
const (
	TypeBool     WireType = 0x10
	TypeBitmap8  WireType = 0x18
	TypeBitmap16 WireType = 0x19
	TypeBitmap32 WireType = 0x1B
	TypeBitmap64 WireType = 0x1F
	TypeUint8    WireType = 0x20
	TypeUint16   WireType = 0x21
	TypeUint24   WireType = 0x22
	TypeUint32   WireType = 0x23
	TypeUint40   WireType = 0x24
	TypeUint48   WireType = 0x25
	TypeUint56   WireType = 0x26
	TypeUint64   WireType = 0x27
	TypeInt8     WireType = 0x28
	TypeInt16    WireType = 0x29
	TypeInt32    WireType = 0x2B
	TypeInt64    WireType = 0x2F
	TypeEnum8    WireType = 0x30
	TypeEnum16   WireType = 0x31
	TypeOctetStr WireType = 0x41
	TypeCharStr  WireType = 0x42
)

var (
	// ErrTruncated is returned when a buffer is shorter than the wire type's width.
	ErrTruncated = errors.New("truncated")
	// ErrUnsupportedValueKind is returned when a value tag has no mapping for a wire type.
	ErrUnsupportedValueKind = errors.New("unsupported value kind")
)

// TypeSize returns the fixed size in bytes of a wire type, or -1 for variable-length types.
func TypeSize(t WireType) int {
	switch t {
	case TypeBool, TypeUint8, TypeInt8, TypeEnum8, TypeBitmap8:
		return 1
	case TypeUint16, TypeInt16, TypeEnum16, TypeBitmap16:
		return 2
	case TypeUint24:
		return 3
	case TypeUint32, TypeInt32, TypeBitmap32:
		return 4
	case TypeUint40:
		return 5
	case TypeUint48:
		return 6
	case TypeUint56:
		return 7
	case TypeUint64, TypeInt64, TypeBitmap64:
		return 8
	}
	return -1
}

// TypeName returns a human-readable name for a wire type.
func TypeName(t WireType) string {
	switch t {
	case TypeBool:
		return "boolean"
	case TypeBitmap8:
		return "bitmap8"
	case TypeBitmap16:
		return "bitmap16"
	case TypeBitmap32:
		return "bitmap32"
	case TypeBitmap64:
		return "bitmap64"
	case TypeUint8:
		return "int8u"
	case TypeUint16:
		return "int16u"
	case TypeUint24:
		return "int24u"
	case TypeUint32:
		return "int32u"
	case TypeUint40:
		return "int40u"
	case TypeUint48:
		return "int48u"
	case TypeUint56:
		return "int56u"
	case TypeUint64:
		return "int64u"
	case TypeInt8:
		return "int8s"
	case TypeInt16:
		return "int16s"
	case TypeInt32:
		return "int32s"
	case TypeInt64:
		return "int64s"
	case TypeEnum8:
		return "enum8"
	case TypeEnum16:
		return "enum16"
	case TypeOctetStr:
		return "octet_string"
	case TypeCharStr:
		return "char_string"
	}
	return fmt.Sprintf("0x%02X", uint8(t))
}

func (t WireType) String() string { return TypeName(t) }

func isSignedType(t WireType) bool {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return true
	}
	return false
}

// decodedKind is the Value tag produced when decoding a wire type.
func decodedKind(t WireType) Kind {
	switch t {
	case TypeBool:
		return KindBool
	case TypeUint8, TypeEnum8, TypeBitmap8:
		return KindU8
	case TypeUint16, TypeEnum16, TypeBitmap16:
		return KindU16
	case TypeUint24, TypeUint32, TypeBitmap32:
		return KindU32
	case TypeUint40, TypeUint48, TypeUint56, TypeUint64, TypeBitmap64:
		return KindU64
	case TypeInt8:
		return KindI8
	case TypeInt16:
		return KindI16
	case TypeInt32:
		return KindI32
	case TypeInt64:
		return KindI64
	case TypeCharStr:
		return KindString
	case TypeOctetStr:
		return KindBytes
	}
	return KindInvalid
}

// WireTypeFor returns the canonical wire type for a value kind.
func WireTypeFor(k Kind) (WireType, error) {
	switch k {
	case KindBool:
		return TypeBool, nil
	case KindI8:
		return TypeInt8, nil
	case KindU8:
		return TypeUint8, nil
	case KindI16:
		return TypeInt16, nil
	case KindU16:
		return TypeUint16, nil
	case KindI32:
		return TypeInt32, nil
	case KindU32:
		return TypeUint32, nil
	case KindI64:
		return TypeInt64, nil
	case KindU64:
		return TypeUint64, nil
	case KindString:
		return TypeCharStr, nil
	case KindBytes:
		return TypeOctetStr, nil
	}
	return 0, fmt.Errorf("matter: no wire type for %s: %w", k, ErrUnsupportedValueKind)
}

// Encode encodes v as wire type t. Integers are written little-endian in
// exactly TypeSize(t) bytes; bits beyond the width are dropped.
func Encode(v Value, t WireType) ([]byte, error) {
	switch t {
	case TypeBool:
		if v.Kind() != KindBool {
			return nil, fmt.Errorf("matter: cannot encode %s as %s: %w", v.Kind(), t, ErrUnsupportedValueKind)
		}
		return EncodeBool(v.AsBool()), nil
	case TypeCharStr:
		if v.Kind() != KindString {
			return nil, fmt.Errorf("matter: cannot encode %s as %s: %w", v.Kind(), t, ErrUnsupportedValueKind)
		}
		return []byte(v.AsString()), nil
	case TypeOctetStr:
		if v.Kind() != KindBytes {
			return nil, fmt.Errorf("matter: cannot encode %s as %s: %w", v.Kind(), t, ErrUnsupportedValueKind)
		}
		return v.AsBytes(), nil
	}

	size := TypeSize(t)
	if size < 0 {
		return nil, fmt.Errorf("matter: unknown wire type 0x%02X: %w", uint8(t), ErrUnsupportedValueKind)
	}
	if !v.Kind().IsInteger() {
		return nil, fmt.Errorf("matter: cannot encode %s as %s: %w", v.Kind(), t, ErrUnsupportedValueKind)
	}
	return EncodeUint(v.AsUint(), size), nil
}

// Decode decodes data as wire type t. Fixed-width types read the first
// TypeSize(t) bytes; strings take the whole buffer.
func Decode(data []byte, t WireType) (Value, error) {
	switch t {
	case TypeCharStr:
		return String(string(data)), nil
	case TypeOctetStr:
		return Bytes(data), nil
	}

	size := TypeSize(t)
	if size < 0 {
		return Value{}, fmt.Errorf("matter: unknown wire type 0x%02X: %w", uint8(t), ErrUnsupportedValueKind)
	}
	if len(data) < size {
		return Value{}, fmt.Errorf("matter: not enough data for %s: need %d, have %d: %w", t, size, len(data), ErrTruncated)
	}

	if t == TypeBool {
		return Bool(data[0] != 0), nil
	}

	u := DecodeUint(data[:size])
	if isSignedType(t) {
		return Int(decodedKind(t), signExtend(u, size))
	}
	return Int(decodedKind(t), int64(u))
}

// EncodeValue encodes v by its own tag: bool as 1 byte, integers in their
// natural width, strings as UTF-8 and blobs verbatim.
func EncodeValue(v Value) ([]byte, error) {
	t, err := WireTypeFor(v.Kind())
	if err != nil {
		return nil, err
	}
	return Encode(v, t)
}

// DecodeAs decodes data into a value of kind k using its canonical wire type.
func DecodeAs(data []byte, k Kind) (Value, error) {
	t, err := WireTypeFor(k)
	if err != nil {
		return Value{}, err
	}
	return Decode(data, t)
}

// EncodeBool returns the 1-byte boolean encoding.
func EncodeBool(b bool) []byte {
	if b {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// EncodeUint writes the low width bytes of u little-endian.
func EncodeUint(u uint64, width int) []byte {
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(u >> (8 * i) & 0xFF)
	}
	return buf
}

// EncodeInt writes n as a two's-complement little-endian integer of width bytes.
func EncodeInt(n int64, width int) []byte {
	return EncodeUint(uint64(n), width)
}

// DecodeUint reads a little-endian unsigned integer of len(data) bytes (max 8).
func DecodeUint(data []byte) uint64 {
	var u uint64
	for i := len(data) - 1; i >= 0; i-- {
		u = u<<8 | uint64(data[i])
	}
	return u
}

func signExtend(u uint64, width int) int64 {
	shift := uint(64 - 8*width)
	return int64(u<<shift) >> shift
}
