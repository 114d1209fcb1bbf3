package xpt

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/adlb-go/adlb/internal/uring"
	"github.com/adlb-go/adlb/internal/wire"
)

// Outcome classifies the result of one Reader.ReadRecord call (spec
// section 4.F.2).
type Outcome int

const (
	// OutcomeRecord is a successfully parsed, CRC-verified record.
	OutcomeRecord Outcome = iota
	// OutcomeEndOfRank is the clean end of this rank's stream — either
	// an explicit zero-length marker record, or running off the end of
	// the file / into an unmagicked (sparse) block.
	OutcomeEndOfRank
	// OutcomeCorrupted is a CRC mismatch or truncation; the reader has
	// attempted to resynchronize to the next sync marker and a further
	// ReadRecord call may succeed.
	OutcomeCorrupted
)

// Record is a decoded, CRC-verified checkpoint record.
type Record struct {
	Key   []byte
	Value []byte
}

// Reader reads one rank's stream at a time out of a checkpoint file (spec
// section 4.F.2).
type Reader struct {
	ring      uring.Ring
	blockSize int64
	rankCount int

	currBlock   int64
	blockPos    int64
	endOfStream bool

	// syncConsumed is set by scanForSync when it recovers a marker: those
	// 4 bytes are already gone from the logical stream (read one at a
	// time into scanForSync's own window), so the next ReadRecord must
	// not try to read a fresh sync marker of its own.
	syncConsumed bool
}

// Open reads the file-wide header (spec section 6.3: magic, block size,
// rank count) and returns a Reader ready for SelectRank.
func Open(ring uring.Ring) (*Reader, error) {
	hdr := make([]byte, 9)
	n, err := ring.PRead(hdr, 0)
	if err != nil {
		return nil, err
	}
	if n < 9 {
		return nil, fmt.Errorf("xpt: checkpoint file too short for header")
	}
	if hdr[0] != wire.BlockMagic {
		return nil, fmt.Errorf("xpt: bad block 0 magic byte %#x", hdr[0])
	}
	blockSize := int64(binary.BigEndian.Uint32(hdr[1:5]))
	rankCount := int(binary.BigEndian.Uint32(hdr[5:9]))
	return &Reader{ring: ring, blockSize: blockSize, rankCount: rankCount}, nil
}

// RankCount reports the rank count recorded in the file header — the
// checkpoint's own rank count, independent of the current job's server
// count (spec section 4.F.3).
func (r *Reader) RankCount() int { return r.rankCount }

// SelectRank positions the reader at the start of rank's block stream. If
// that block is absent (sparse file) or its magic byte is zero/missing,
// the rank is considered to have no checkpoint data: ReadRecord will
// immediately report OutcomeEndOfRank.
func (r *Reader) SelectRank(rank int) error {
	r.currBlock = int64(rank)
	r.endOfStream = false

	magic := make([]byte, 1)
	n, err := r.ring.PRead(magic, r.currBlock*r.blockSize)
	if err != nil || n < 1 || magic[0] != wire.BlockMagic {
		r.endOfStream = true
		return nil
	}
	r.blockPos = headerBytesIn(r.currBlock)
	return nil
}

// readLogical returns the next n bytes of this rank's logical stream,
// transparently skipping each new block's one-byte magic as the cursor
// crosses into it.
func (r *Reader) readLogical(n int64) ([]byte, error) {
	out := make([]byte, 0, n)
	for int64(len(out)) < n {
		if r.endOfStream {
			return out, io.EOF
		}
		if r.blockPos >= r.blockSize {
			r.currBlock += int64(r.rankCount)
			magic := make([]byte, 1)
			mn, err := r.ring.PRead(magic, r.currBlock*r.blockSize)
			if err != nil || mn < 1 || magic[0] != wire.BlockMagic {
				r.endOfStream = true
				return out, io.EOF
			}
			r.blockPos = 1
		}

		need := n - int64(len(out))
		capLeft := r.blockSize - r.blockPos
		toRead := capLeft
		if need < toRead {
			toRead = need
		}
		buf := make([]byte, toRead)
		rn, err := r.ring.PRead(buf, r.currBlock*r.blockSize+r.blockPos)
		if err != nil {
			return out, err
		}
		if rn == 0 {
			r.endOfStream = true
			return out, io.EOF
		}
		out = append(out, buf[:rn]...)
		r.blockPos += int64(rn)
		if int64(rn) < toRead {
			r.endOfStream = true
			return out, io.EOF
		}
	}
	return out, nil
}

// scanForSync reads forward one byte at a time, starting from the 4 bytes
// already in window, until window holds SyncMarker's bytes or the stream
// ends (spec section 4.F.2: "moves the reader position ... to
// resynchronize"). The marker bytes themselves end up consumed from the
// logical stream by the time this returns true — there is no way to push
// them back onto r — so it sets syncConsumed to tell the next ReadRecord
// call it must not read another sync marker of its own.
func (r *Reader) scanForSync(window []byte) bool {
	w := append([]byte(nil), window...)
	for {
		if len(w) >= 4 && binary.BigEndian.Uint32(w[len(w)-4:]) == wire.SyncMarker {
			r.syncConsumed = true
			return true
		}
		b, err := r.readLogical(1)
		if err != nil || len(b) == 0 {
			r.endOfStream = true
			return false
		}
		w = append(w, b[0])
		if len(w) > 4 {
			w = w[1:]
		}
	}
}

// readUvint reads a variable-length unsigned integer one byte at a time,
// returning the decoded value and its raw encoding (needed to recompute
// the CRC).
func (r *Reader) readUvint() (uint64, []byte, error) {
	var encoded []byte
	for i := 0; i < 10; i++ {
		b, err := r.readLogical(1)
		if err != nil || len(b) == 0 {
			return 0, encoded, io.EOF
		}
		encoded = append(encoded, b[0])
		if b[0]&0x80 == 0 {
			v, _, err := wire.Uvint(encoded)
			return v, encoded, err
		}
	}
	return 0, encoded, wire.ErrOverlongVint
}

// ReadRecord reads the next record of the currently selected rank (spec
// section 4.F.2). When a prior call resynchronized via scanForSync, the
// recovered record's sync marker was already consumed off the logical
// stream while scanning for it, so this call picks up directly at that
// record's CRC field instead of re-reading a sync marker it would never
// find.
func (r *Reader) ReadRecord() (Record, Outcome, error) {
	if r.endOfStream {
		return Record{}, OutcomeEndOfRank, nil
	}

	if r.syncConsumed {
		r.syncConsumed = false
	} else {
		syncBuf, err := r.readLogical(4)
		if err != nil {
			if len(syncBuf) == 0 {
				r.endOfStream = true
				return Record{}, OutcomeEndOfRank, nil
			}
			r.endOfStream = true
			return Record{}, OutcomeCorrupted, nil
		}
		if binary.BigEndian.Uint32(syncBuf) != wire.SyncMarker {
			r.scanForSync(syncBuf)
			return Record{}, OutcomeCorrupted, nil
		}
	}

	crcBuf, err := r.readLogical(4)
	if err != nil {
		r.endOfStream = true
		return Record{}, OutcomeCorrupted, nil
	}
	storedCRC := binary.BigEndian.Uint32(crcBuf)

	recLen, recLenEnc, err := r.readUvint()
	if err != nil {
		r.endOfStream = true
		return Record{}, OutcomeCorrupted, nil
	}

	if recLen == 0 {
		crc := crc32.ChecksumIEEE(recLenEnc)
		if crc != storedCRC {
			return Record{}, OutcomeCorrupted, nil
		}
		r.endOfStream = true
		return Record{}, OutcomeEndOfRank, nil
	}

	body, err := r.readLogical(int64(recLen))
	if err != nil {
		r.endOfStream = true
		return Record{}, OutcomeCorrupted, nil
	}

	keyLen, keyLenN, err := wire.Uvint(body)
	if err != nil || keyLenN > len(body) || uint64(len(body)-keyLenN) < keyLen {
		return Record{}, OutcomeCorrupted, nil
	}
	key := body[keyLenN : uint64(keyLenN)+keyLen]
	value := body[uint64(keyLenN)+keyLen:]

	crc := crc32.ChecksumIEEE(recLenEnc)
	crc = crc32.Update(crc, crc32.IEEETable, body)
	if crc != storedCRC {
		return Record{}, OutcomeCorrupted, nil
	}

	return Record{Key: key, Value: value}, OutcomeRecord, nil
}
