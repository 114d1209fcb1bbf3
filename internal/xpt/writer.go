// Package xpt implements the checkpoint log (spec section 4.F/6.3): a
// block-striped append-only file shared by every server, one rank's
// stream per modular block sequence, with CRC-framed records and
// sync-marker resynchronization on corruption. Grounded directly on
// xpt_file.c's block/record layout — the original ADLB checkpoint
// format this component reproduces bit-for-bit.
package xpt

import (
	"encoding/binary"

	"github.com/adlb-go/adlb/internal/uring"
	"github.com/adlb-go/adlb/internal/wire"
)

// headerBytesIn reports how many bytes of block n are consumed by
// fixed header content before the record stream begins: block 0 carries
// the file-wide header (magic + block size + rank count); every other
// block carries only its own one-byte magic.
func headerBytesIn(block int64) int64 {
	if block == 0 {
		return 9
	}
	return 1
}

// Writer appends checkpoint records for one rank's stream (spec section
// 4.F.1). It is strictly single-threaded: callers must not invoke
// WriteRecord/Flush/Close concurrently.
type Writer struct {
	ring      uring.Ring
	blockSize int64
	rankCount int

	currBlock int64 // block containing the next byte physically flushed
	blockPos  int64 // offset within currBlock of the next byte physically flushed

	buf           []byte // accumulated, not-yet-physically-written record bytes
	periodicFlush bool
	closed        bool
}

// NewWriter opens rank's stream within a checkpoint file backed by ring,
// writing the shared file header if rank == 0 (spec section 6.3's
// leader-writes-header convention) and this rank's first block magic
// byte. periodicFlush mirrors the spec's "configurable periodic flush
// knob" — when true, every WriteRecord forces an immediate Flush.
func NewWriter(ring uring.Ring, blockSize int64, rankCount, rank int, periodicFlush bool) (*Writer, error) {
	w := &Writer{
		ring:          ring,
		blockSize:     blockSize,
		rankCount:     rankCount,
		currBlock:     int64(rank),
		periodicFlush: periodicFlush,
	}

	if rank == 0 {
		hdr := make([]byte, 9)
		hdr[0] = wire.BlockMagic
		binary.BigEndian.PutUint32(hdr[1:5], uint32(blockSize))
		binary.BigEndian.PutUint32(hdr[5:9], uint32(rankCount))
		if _, err := ring.PWrite(hdr, 0); err != nil {
			return nil, err
		}
	} else {
		if _, err := ring.PWrite([]byte{wire.BlockMagic}, int64(rank)*blockSize); err != nil {
			return nil, err
		}
	}
	w.blockPos = headerBytesIn(w.currBlock)
	return w, nil
}

// advance computes the (block, pos) reached after n logical stream bytes
// starting from (block, pos), crossing block boundaries the same way
// Flush physically will — used to compute WriteRecord's returned value
// offset before the bytes are actually on disk.
func (w *Writer) advance(block, pos, n int64) (int64, int64) {
	for n > 0 {
		capLeft := w.blockSize - pos
		if n <= capLeft {
			pos += n
			n = 0
		} else {
			n -= capLeft
			block += int64(w.rankCount)
			pos = headerBytesIn(block)
		}
	}
	return block, pos
}

// WriteRecord encodes (key, value) per spec section 3.6 and appends it to
// the pending buffer, returning the file offset the value bytes will
// occupy once flushed (spec section 4.F.1: "optional file offset of the
// value bytes").
func (w *Writer) WriteRecord(key, value []byte) (int64, error) {
	rec := wire.EncodeRecord(key, value)
	valueStart := int64(len(rec) - len(value))

	afterBufBlock, afterBufPos := w.advance(w.currBlock, w.blockPos, int64(len(w.buf)))
	valueBlock, valuePos := w.advance(afterBufBlock, afterBufPos, valueStart)
	valueOffset := valueBlock*w.blockSize + valuePos

	w.buf = append(w.buf, rec...)

	if w.periodicFlush {
		if err := w.Flush(); err != nil {
			return 0, err
		}
	}
	return valueOffset, nil
}

// Flush forces the pending buffer to the file and fsyncs (spec section
// 4.F.1), splitting across physical block boundaries and writing each new
// block's magic byte as it crosses into it.
func (w *Writer) Flush() error {
	remaining := w.buf
	for len(remaining) > 0 {
		capLeft := w.blockSize - w.blockPos
		n := capLeft
		if int64(len(remaining)) < n {
			n = int64(len(remaining))
		}
		offset := w.currBlock*w.blockSize + w.blockPos
		if _, err := w.ring.PWrite(remaining[:n], offset); err != nil {
			return err
		}
		remaining = remaining[n:]
		w.blockPos += n

		if w.blockPos >= w.blockSize {
			w.currBlock += int64(w.rankCount)
			if _, err := w.ring.PWrite([]byte{wire.BlockMagic}, w.currBlock*w.blockSize); err != nil {
				return err
			}
			w.blockPos = 1
		}
	}
	w.buf = nil
	return w.ring.Fsync()
}

// Close writes the end-of-stream marker if room remains in the current
// block, flushes, and releases the underlying ring (spec section 4.F.1):
// "writes a zero-length record as an end-of-stream marker if there is
// room in the current block; otherwise no marker". wire.EOFMarker builds
// that marker record.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	// Recompute the true pending (block, pos) the buffered-but-unflushed
	// bytes would land at, since WriteRecord doesn't force a Flush by
	// default.
	block, pos := w.advance(w.currBlock, w.blockPos, int64(len(w.buf)))
	eof := wire.EOFMarker()
	if w.blockSize-pos >= int64(len(eof)) {
		w.buf = append(w.buf, eof...)
	}

	if err := w.Flush(); err != nil {
		return err
	}
	return w.ring.Close()
}
