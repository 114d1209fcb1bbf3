package wire

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{WorkerRank: 7, Seqno: 1 << 33, Op: OpPut}
	buf := h.Marshal()
	if len(buf) != HeaderLen {
		t.Fatalf("Marshal length = %d, want %d", len(buf), HeaderLen)
	}
	got, rest, err := UnmarshalHeader(buf)
	if err != nil {
		t.Fatalf("UnmarshalHeader: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
	if len(rest) != 0 {
		t.Errorf("expected empty remainder, got %d bytes", len(rest))
	}
}

func TestBytesRoundTrip(t *testing.T) {
	payload := []byte("hello, worker")
	buf := PutBytes(nil, payload)
	buf = PutBytes(buf, []byte("second"))

	got, rest, err := GetBytes(buf)
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("first field = %q, want %q", got, payload)
	}
	got2, rest2, err := GetBytes(rest)
	if err != nil {
		t.Fatalf("GetBytes(second): %v", err)
	}
	if !bytes.Equal(got2, []byte("second")) {
		t.Errorf("second field = %q", got2)
	}
	if len(rest2) != 0 {
		t.Errorf("expected no trailing bytes")
	}
}
