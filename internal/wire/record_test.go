package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	key := []byte("rank-1000")
	value := bytes.Repeat([]byte{0xAB}, 300)

	buf := EncodeRecord(key, value)
	rec, err := DecodeRecord(buf)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if rec.EndOfRank {
		t.Fatal("expected non-EOF record")
	}
	if !bytes.Equal(rec.Key, key) || !bytes.Equal(rec.Value, value) {
		t.Errorf("round trip mismatch: got key=%q value len=%d", rec.Key, len(rec.Value))
	}
	if rec.ConsumedBytes != len(buf) {
		t.Errorf("ConsumedBytes=%d, want %d", rec.ConsumedBytes, len(buf))
	}
}

func TestEOFMarker(t *testing.T) {
	buf := EOFMarker()
	rec, err := DecodeRecord(buf)
	if err != nil {
		t.Fatalf("DecodeRecord(EOF): %v", err)
	}
	if !rec.EndOfRank {
		t.Error("expected EndOfRank record")
	}
}

func TestDecodeRecordTruncated(t *testing.T) {
	buf := EncodeRecord([]byte("k"), []byte("v"))
	for i := 1; i < len(buf); i++ {
		if _, err := DecodeRecord(buf[:i]); err != ErrRecordTruncated {
			t.Errorf("prefix len %d: expected ErrRecordTruncated, got %v", i, err)
		}
	}
}

func TestDecodeRecordCorrupted(t *testing.T) {
	buf := EncodeRecord([]byte("k"), []byte("v"))
	corrupt := append([]byte(nil), buf...)
	corrupt[5] ^= 0xFF // flip a CRC byte
	if _, err := DecodeRecord(corrupt); err != ErrCorrupted {
		t.Errorf("expected ErrCorrupted, got %v", err)
	}
}

func TestDecodeRecordBadSync(t *testing.T) {
	buf := EncodeRecord([]byte("k"), []byte("v"))
	buf[0] ^= 0xFF
	if _, err := DecodeRecord(buf); err != ErrCorrupted {
		t.Errorf("expected ErrCorrupted for bad sync, got %v", err)
	}
}
