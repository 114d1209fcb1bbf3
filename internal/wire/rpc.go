package wire

import "encoding/binary"

// Op identifies a worker-to-server RPC discriminant (spec section 6.2).
type Op uint8

const (
	OpPut Op = iota + 1
	OpGet
	OpCreate
	OpMultiCreate
	OpStore
	OpRetrieve
	OpSubscribe
	OpRefcountIncr
	OpExists
	OpUniqueID
	OpFinalize
	OpFail
	// OpNotify is a server-to-worker CONTROL task payload discriminant
	// (spec section 4.E.4), not a worker request, but shares the same
	// header framing.
	OpNotify
)

// HeaderLen is the fixed size in bytes of an encoded Header.
const HeaderLen = 13

// Header is the fixed-layout prefix every RPC request and reply carries:
// worker rank, sequence number, and discriminant (spec section 6.2).
// Direct byte-offset marshaling, mirroring go-ublk's internal/uapi
// approach to fixed kernel-protocol structs.
type Header struct {
	WorkerRank int32
	Seqno      uint64
	Op         Op
}

// Marshal encodes h into a fresh HeaderLen-byte slice.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(h.WorkerRank))
	binary.BigEndian.PutUint64(buf[4:12], h.Seqno)
	buf[12] = byte(h.Op)
	return buf
}

// UnmarshalHeader decodes a Header from the front of buf, returning the
// decoded value and the remaining payload bytes.
func UnmarshalHeader(buf []byte) (Header, []byte, error) {
	if len(buf) < HeaderLen {
		return Header{}, nil, ErrRecordTruncated
	}
	h := Header{
		WorkerRank: int32(binary.BigEndian.Uint32(buf[0:4])),
		Seqno:      binary.BigEndian.Uint64(buf[4:12]),
		Op:         Op(buf[12]),
	}
	return h, buf[HeaderLen:], nil
}

// PutBytes appends a length-prefixed byte string (uvint length, then the
// bytes themselves) — the standard way opaque payloads are nested inside an
// RPC body.
func PutBytes(dst []byte, b []byte) []byte {
	dst = PutUvint(dst, uint64(len(b)))
	return append(dst, b...)
}

// GetBytes reads a length-prefixed byte string from the front of buf,
// returning the slice (aliasing buf), the remainder, and an error if buf is
// truncated.
func GetBytes(buf []byte) ([]byte, []byte, error) {
	n, consumed, err := Uvint(buf)
	if err != nil {
		return nil, nil, err
	}
	rest := buf[consumed:]
	if uint64(len(rest)) < n {
		return nil, nil, ErrRecordTruncated
	}
	return rest[:n], rest[n:], nil
}
