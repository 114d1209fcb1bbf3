//go:build !giouring
// +build !giouring

package uring

import (
	"os"

	"golang.org/x/sys/unix"
)

// fileRing is the portable Ring implementation used when the module is not
// built with `-tags giouring`. It issues synchronous pread/pwrite/fsync
// syscalls directly, the same direct-syscall posture go-ublk takes with
// ioctl/mmap when no io_uring feature is negotiated.
type fileRing struct {
	f *os.File
}

func newRing(f *os.File, _ Config) (Ring, error) {
	return &fileRing{f: f}, nil
}

func (r *fileRing) PWrite(buf []byte, off int64) (int, error) {
	return unix.Pwrite(int(r.f.Fd()), buf, off)
}

func (r *fileRing) PRead(buf []byte, off int64) (int, error) {
	return unix.Pread(int(r.f.Fd()), buf, off)
}

func (r *fileRing) Fsync() error {
	return unix.Fsync(int(r.f.Fd()))
}

func (r *fileRing) Close() error {
	return r.f.Close()
}
