package wire

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// SyncMarker is the fixed 4-byte pattern at the start of every checkpoint
// record, used to resynchronise after CRC-detected corruption (spec
// section 9).
const SyncMarker uint32 = 0x5F1C0B73

// BlockMagic is the one-byte magic that opens every physical checkpoint
// block (spec section 3.7).
const BlockMagic byte = 0x42

// ErrRecordTruncated is returned when a buffer ends before a full record
// header (sync + crc + rec_len) could be read.
var ErrRecordTruncated = errors.New("wire: truncated record header")

// ErrCorrupted is returned by DecodeRecord when the sync marker is missing
// or the stored CRC does not match the recomputed one; the caller should
// resynchronise by scanning for the next SyncMarker (spec section 9).
var ErrCorrupted = errors.New("wire: corrupted record")

// EncodeRecord renders a checkpoint record per spec section 3.6:
//
//	[sync:u32be][crc32:u32be][rec_len:vint][key_len:vint][key][value]
//
// rec_len covers everything after crc32: the encoded key_len, key and
// value. A zero-length key and value together (rec_len == 0) is the legal
// end-of-stream marker and omits the key_len/key/value fields entirely,
// matching xlb_xpt_write's "empty record" case.
func EncodeRecord(key, value []byte) []byte {
	empty := len(key) == 0 && len(value) == 0

	var keyLenEnc []byte
	var recLen int
	if !empty {
		keyLenEnc = PutUvint(nil, uint64(len(key)))
		recLen = len(keyLenEnc) + len(key) + len(value)
	}
	recLenEnc := PutUvint(nil, uint64(recLen))

	crc := crc32.ChecksumIEEE(recLenEnc)
	if !empty {
		crc = crc32.Update(crc, crc32.IEEETable, keyLenEnc)
		crc = crc32.Update(crc, crc32.IEEETable, key)
		crc = crc32.Update(crc, crc32.IEEETable, value)
	}

	out := make([]byte, 0, 8+len(recLenEnc)+len(keyLenEnc)+len(key)+len(value))
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], SyncMarker)
	binary.BigEndian.PutUint32(hdr[4:8], crc)
	out = append(out, hdr[:]...)
	out = append(out, recLenEnc...)
	if !empty {
		out = append(out, keyLenEnc...)
		out = append(out, key...)
		out = append(out, value...)
	}
	return out
}

// EOFMarker returns the encoding of the end-of-stream record (spec
// section 4.F.1's "close" behaviour): a record with rec_len == 0.
func EOFMarker() []byte {
	return EncodeRecord(nil, nil)
}

// DecodedRecord is a successfully parsed, CRC-verified record.
type DecodedRecord struct {
	Key   []byte
	Value []byte
	// EndOfRank is true when this is the zero-length end-of-stream marker.
	EndOfRank bool
	// ConsumedBytes is the number of bytes of buf consumed by this record,
	// including the sync marker.
	ConsumedBytes int
}

// DecodeRecord parses one record from the start of buf. It returns
// ErrRecordTruncated if buf does not yet contain a full record (the caller
// should supply more bytes and retry); ErrCorrupted if the stored CRC does
// not match, in which case the caller should resynchronise by scanning for
// the next SyncMarker.
func DecodeRecord(buf []byte) (DecodedRecord, error) {
	if len(buf) < 8 {
		return DecodedRecord{}, ErrRecordTruncated
	}
	sync := binary.BigEndian.Uint32(buf[0:4])
	if sync != SyncMarker {
		return DecodedRecord{}, ErrCorrupted
	}
	storedCRC := binary.BigEndian.Uint32(buf[4:8])

	rest := buf[8:]
	recLen, recLenN, err := Uvint(rest)
	if err != nil {
		return DecodedRecord{}, ErrRecordTruncated
	}

	if recLen == 0 {
		crc := crc32.ChecksumIEEE(rest[:recLenN])
		if crc != storedCRC {
			return DecodedRecord{}, ErrCorrupted
		}
		return DecodedRecord{EndOfRank: true, ConsumedBytes: 8 + recLenN}, nil
	}

	if uint64(len(rest)-recLenN) < recLen {
		return DecodedRecord{}, ErrRecordTruncated
	}
	body := rest[recLenN : uint64(recLenN)+recLen]

	keyLen, keyLenN, err := Uvint(body)
	if err != nil {
		return DecodedRecord{}, ErrRecordTruncated
	}
	if uint64(len(body)-keyLenN) < keyLen {
		return DecodedRecord{}, ErrRecordTruncated
	}
	key := body[keyLenN : uint64(keyLenN)+keyLen]
	value := body[uint64(keyLenN)+keyLen:]

	crc := crc32.ChecksumIEEE(rest[:recLenN])
	crc = crc32.Update(crc, crc32.IEEETable, body)
	if crc != storedCRC {
		return DecodedRecord{}, ErrCorrupted
	}

	return DecodedRecord{
		Key:           key,
		Value:         value,
		ConsumedBytes: 8 + recLenN + int(recLen),
	}, nil
}
