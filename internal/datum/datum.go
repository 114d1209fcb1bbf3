// Package datum implements the tagged union over ADLB's eight core types
// (spec section 3.3/9: "payloads on the wire are length-prefixed byte
// strings that each type decodes itself").
package datum

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/adlb-go/adlb/internal/wire"
)

// Type discriminates a Datum's payload.
type Type uint8

const (
	Integer Type = iota + 1
	Float
	String
	Blob
	Ref
	Container
	Multiset
	Struct
)

func (t Type) String() string {
	switch t {
	case Integer:
		return "INTEGER"
	case Float:
		return "FLOAT"
	case String:
		return "STRING"
	case Blob:
		return "BLOB"
	case Ref:
		return "REF"
	case Container:
		return "CONTAINER"
	case Multiset:
		return "MULTISET"
	case Struct:
		return "STRUCT"
	default:
		return "UNKNOWN"
	}
}

// Value is a decoded datum payload. Exactly one accessor matching Type is
// meaningful; the others hold their zero value.
type Value struct {
	Typ Type

	Int    int64
	Flt    float64
	Str    string
	Bytes  []byte // BLOB and STRUCT (opaque, application-decoded) payload
	RefID  int64  // REF: the id this value points to

	// Container maps a subscript (arbitrary byte string, compared by
	// value) to a referenced datum id.
	ContainerEntries map[string]int64

	// Multiset is an ordered sequence of nested values.
	MultisetEntries []Value
}

// EncodeValue serializes v to its wire payload (spec section 9: "payloads
// on the wire are length-prefixed byte strings that each type decodes
// itself").
func EncodeValue(v Value) ([]byte, error) {
	switch v.Typ {
	case Integer:
		buf := wire.PutVint(nil, v.Int)
		return buf, nil
	case Float:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(v.Flt))
		return buf, nil
	case String:
		return []byte(v.Str), nil
	case Blob, Struct:
		return append([]byte(nil), v.Bytes...), nil
	case Ref:
		return wire.PutVint(nil, v.RefID), nil
	case Container:
		var buf []byte
		buf = wire.PutUvint(buf, uint64(len(v.ContainerEntries)))
		for sub, id := range v.ContainerEntries {
			buf = wire.PutBytes(buf, []byte(sub))
			buf = wire.PutVint(buf, id)
		}
		return buf, nil
	case Multiset:
		var buf []byte
		buf = wire.PutUvint(buf, uint64(len(v.MultisetEntries)))
		for _, entry := range v.MultisetEntries {
			encoded, err := EncodeValue(entry)
			if err != nil {
				return nil, err
			}
			buf = append(buf, byte(entry.Typ))
			buf = wire.PutBytes(buf, encoded)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("datum: unknown type %d", v.Typ)
	}
}

// DecodeValue parses buf as typ's wire payload.
func DecodeValue(typ Type, buf []byte) (Value, error) {
	switch typ {
	case Integer:
		n, _, err := wire.Vint(buf)
		if err != nil {
			return Value{}, fmt.Errorf("datum: decode INTEGER: %w", err)
		}
		return Value{Typ: Integer, Int: n}, nil
	case Float:
		if len(buf) != 8 {
			return Value{}, fmt.Errorf("datum: FLOAT payload must be 8 bytes, got %d", len(buf))
		}
		return Value{Typ: Float, Flt: math.Float64frombits(binary.BigEndian.Uint64(buf))}, nil
	case String:
		return Value{Typ: String, Str: string(buf)}, nil
	case Blob:
		return Value{Typ: Blob, Bytes: append([]byte(nil), buf...)}, nil
	case Struct:
		return Value{Typ: Struct, Bytes: append([]byte(nil), buf...)}, nil
	case Ref:
		id, _, err := wire.Vint(buf)
		if err != nil {
			return Value{}, fmt.Errorf("datum: decode REF: %w", err)
		}
		return Value{Typ: Ref, RefID: id}, nil
	case Container:
		n, consumed, err := wire.Uvint(buf)
		if err != nil {
			return Value{}, fmt.Errorf("datum: decode CONTAINER count: %w", err)
		}
		rest := buf[consumed:]
		entries := make(map[string]int64, n)
		for i := uint64(0); i < n; i++ {
			sub, tail, err := wire.GetBytes(rest)
			if err != nil {
				return Value{}, fmt.Errorf("datum: decode CONTAINER subscript: %w", err)
			}
			id, tail2, err := wire.Vint(tail)
			if err != nil {
				return Value{}, fmt.Errorf("datum: decode CONTAINER id: %w", err)
			}
			entries[string(sub)] = id
			rest = tail[tail2:]
		}
		return Value{Typ: Container, ContainerEntries: entries}, nil
	case Multiset:
		n, consumed, err := wire.Uvint(buf)
		if err != nil {
			return Value{}, fmt.Errorf("datum: decode MULTISET count: %w", err)
		}
		rest := buf[consumed:]
		entries := make([]Value, 0, n)
		for i := uint64(0); i < n; i++ {
			if len(rest) < 1 {
				return Value{}, fmt.Errorf("datum: truncated MULTISET entry type")
			}
			entryType := Type(rest[0])
			rest = rest[1:]
			payload, tail, err := wire.GetBytes(rest)
			if err != nil {
				return Value{}, fmt.Errorf("datum: decode MULTISET entry: %w", err)
			}
			entryVal, err := DecodeValue(entryType, payload)
			if err != nil {
				return Value{}, err
			}
			entries = append(entries, entryVal)
			rest = tail
		}
		return Value{Typ: Multiset, MultisetEntries: entries}, nil
	default:
		return Value{}, fmt.Errorf("datum: unknown type %d", typ)
	}
}
