package datum

import "testing"

func TestEncodeDecodeInteger(t *testing.T) {
	v := Value{Typ: Integer, Int: -4200}
	buf, err := EncodeValue(v)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	got, err := DecodeValue(Integer, buf)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if got.Int != v.Int {
		t.Errorf("Int = %d, want %d", got.Int, v.Int)
	}
}

func TestEncodeDecodeFloat(t *testing.T) {
	v := Value{Typ: Float, Flt: 3.14159}
	buf, err := EncodeValue(v)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	got, err := DecodeValue(Float, buf)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if got.Flt != v.Flt {
		t.Errorf("Flt = %v, want %v", got.Flt, v.Flt)
	}
}

func TestEncodeDecodeString(t *testing.T) {
	v := Value{Typ: String, Str: "hello world"}
	buf, _ := EncodeValue(v)
	got, err := DecodeValue(String, buf)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if got.Str != v.Str {
		t.Errorf("Str = %q, want %q", got.Str, v.Str)
	}
}

func TestEncodeDecodeBlob(t *testing.T) {
	v := Value{Typ: Blob, Bytes: []byte{0, 1, 2, 255, 254}}
	buf, _ := EncodeValue(v)
	got, err := DecodeValue(Blob, buf)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if string(got.Bytes) != string(v.Bytes) {
		t.Errorf("Bytes = %v, want %v", got.Bytes, v.Bytes)
	}
}

func TestEncodeDecodeRef(t *testing.T) {
	v := Value{Typ: Ref, RefID: 99887766}
	buf, _ := EncodeValue(v)
	got, err := DecodeValue(Ref, buf)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if got.RefID != v.RefID {
		t.Errorf("RefID = %d, want %d", got.RefID, v.RefID)
	}
}

func TestEncodeDecodeContainer(t *testing.T) {
	v := Value{Typ: Container, ContainerEntries: map[string]int64{
		"a": 1,
		"b": 2,
		"":  3, // empty subscript is legal
	}}
	buf, err := EncodeValue(v)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	got, err := DecodeValue(Container, buf)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if len(got.ContainerEntries) != len(v.ContainerEntries) {
		t.Fatalf("len = %d, want %d", len(got.ContainerEntries), len(v.ContainerEntries))
	}
	for k, want := range v.ContainerEntries {
		if got.ContainerEntries[k] != want {
			t.Errorf("ContainerEntries[%q] = %d, want %d", k, got.ContainerEntries[k], want)
		}
	}
}

func TestEncodeDecodeMultisetOfMixedTypes(t *testing.T) {
	v := Value{Typ: Multiset, MultisetEntries: []Value{
		{Typ: Integer, Int: 1},
		{Typ: String, Str: "two"},
		{Typ: Float, Flt: 3.0},
	}}
	buf, err := EncodeValue(v)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	got, err := DecodeValue(Multiset, buf)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if len(got.MultisetEntries) != 3 {
		t.Fatalf("len = %d, want 3", len(got.MultisetEntries))
	}
	if got.MultisetEntries[0].Int != 1 {
		t.Errorf("entry 0 Int = %d, want 1", got.MultisetEntries[0].Int)
	}
	if got.MultisetEntries[1].Str != "two" {
		t.Errorf("entry 1 Str = %q, want %q", got.MultisetEntries[1].Str, "two")
	}
	if got.MultisetEntries[2].Flt != 3.0 {
		t.Errorf("entry 2 Flt = %v, want 3.0", got.MultisetEntries[2].Flt)
	}
}

func TestTypeStringUnknown(t *testing.T) {
	if got := Type(200).String(); got != "UNKNOWN" {
		t.Errorf("String() = %q, want UNKNOWN", got)
	}
}

func TestDecodeValueUnknownType(t *testing.T) {
	if _, err := DecodeValue(Type(200), nil); err == nil {
		t.Error("expected error decoding unknown type")
	}
}
