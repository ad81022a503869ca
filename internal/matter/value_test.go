package matter

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValueJSON(t *testing.T) {
	data, err := json.Marshal(I16(-250))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"kind":"i16","value":-250}` {
		t.Errorf("marshal = %s", data)
	}

	var v Value
	if err := json.Unmarshal([]byte(`{"kind":"u32","value":70000}`), &v); err != nil {
		t.Fatal(err)
	}
	if !v.Equal(U32(70000)) {
		t.Errorf("unmarshal = %s", v)
	}

	if err := json.Unmarshal([]byte(`{"kind":"bytes","value":"0aff"}`), &v); err != nil {
		t.Fatal(err)
	}
	if !v.Equal(Bytes([]byte{0x0A, 0xFF})) {
		t.Errorf("unmarshal bytes = %s", v)
	}

	if err := json.Unmarshal([]byte(`{"kind":"float","value":1}`), &v); !errors.Is(err, ErrUnsupportedValueKind) {
		t.Errorf("unknown kind err = %v", err)
	}
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(KindU8, float64(42))
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(U8(42)) {
		t.Errorf("got %s", v)
	}

	if _, err := Coerce(KindU8, 1.5); err == nil {
		t.Error("expected error for fractional integer")
	}

	v, err = Coerce(KindBool, "on")
	if err != nil {
		t.Fatal(err)
	}
	if !v.AsBool() {
		t.Error("expected true")
	}

	if _, err := Coerce(KindString, 12.0); !errors.Is(err, ErrUnsupportedValueKind) {
		t.Errorf("err = %v, want ErrUnsupportedValueKind", err)
	}
}

func TestValueEqual(t *testing.T) {
	if U8(1).Equal(U16(1)) {
		t.Error("different kinds must not be equal")
	}
	if !Bytes([]byte{1, 2}).Equal(Bytes([]byte{1, 2})) {
		t.Error("equal blobs")
	}
	if I16(-1).AsInt() != -1 {
		t.Errorf("AsInt = %d", I16(-1).AsInt())
	}
}
