// Package uring provides the block-I/O interface used by the checkpoint
// log (spec section 4.F). A default, portable implementation backs it with
// plain pread/pwrite/fsync; building with `-tags giouring` swaps in a real
// io_uring-backed implementation, mirroring go-ublk's internal/uring
// Ring/stub split.
package uring

import "os"

// Ring is the block-I/O seam the checkpoint writer and reader submit
// through. All offsets are absolute file offsets; callers do not rely on
// the current file position.
type Ring interface {
	// PWrite writes buf at the given absolute offset.
	PWrite(buf []byte, off int64) (int, error)

	// PRead reads into buf from the given absolute offset.
	PRead(buf []byte, off int64) (int, error)

	// Fsync forces buffered writes to stable storage.
	Fsync() error

	// Close releases the underlying file and ring resources.
	Close() error
}

// Config configures a Ring.
type Config struct {
	// Path is the checkpoint file to open.
	Path string
	// Entries is the submission queue depth requested from a real
	// io_uring-backed Ring; ignored by the portable implementation.
	Entries uint32
}

// Open opens (creating if necessary) the file at cfg.Path and returns a
// Ring backed by it. The concrete implementation is selected at compile
// time by the `giouring` build tag.
func Open(cfg Config) (Ring, error) {
	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return newRing(f, cfg)
}
