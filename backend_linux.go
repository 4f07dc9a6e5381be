// backend_linux.go - Linux specific file copy
//
// (c) 2021 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

//go:build linux

package cp

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Do copies in chunks of 1GB
const _ioChunkSize int64 = 1024 * 1048576

var errShortCopy = errors.New("zero sized transfer")

type linuxBackend struct{}

var _ Backend = &linuxBackend{}

func platformBackend() Backend {
	return &linuxBackend{}
}

func (b *linuxBackend) Name() string {
	return "linux"
}

func (b *linuxBackend) Caps() Caps {
	return Caps{
		Reflink: true,
		Sparse:  true,
		Offload: true,
	}
}

// Order of attempts:
//
//  1. FICLONE unless reflink is 'never'; with 'always' this is the
//     only attempt.
//  2. hole preserving copy if sparse is 'always' or if it is 'auto'
//     and the source has holes.
//  3. copy_file_range(2) over the whole file.
//  4. read/write from offset zero into a truncated destination.
func (b *linuxBackend) CopyRegular(d *SafeFile, s *os.File, size int64, rm ReflinkMode, sm SparseMode) (CopyDebug, error) {
	dbg := CopyDebug{
		Offload: Unused,
		Reflink: Unused,
		Sparse:  Unused,
	}

	if err := checkCaps(b.Caps(), rm, sm); err != nil {
		return dbg, err
	}

	if rm != ReflinkNever {
		err := unix.IoctlFileClone(int(d.Fd()), int(s.Fd()))
		if err == nil {
			dbg.Reflink = Used
			return dbg, nil
		}

		if rm == ReflinkAlways {
			return dbg, &IOError{Op: "reflink", Err: err}
		}

		if isUnsupported(err) {
			dbg.Reflink = Unsupported
		}

		// FICLONE is all or nothing; still, start clean.
		if err := d.Restart(); err != nil {
			return dbg, err
		}
	}

	// procfs and sysfs report zero for files that have content; only
	// reading until EOF finds out.
	if size == 0 {
		return dbg, restartStream(d, s)
	}

	if sm == SparseAlways || (sm == SparseAuto && looksSparse(s, size)) {
		dbg.Sparse = Used
		offload, err := sparseCopy(d.File, s, size, sm == SparseAlways)
		if offload {
			dbg.Offload = Used
		}
		return dbg, err
	}

	err := rangeCopy(d.File, s, 0, size)
	if err == nil {
		dbg.Offload = Used
		return dbg, nil
	}

	if !isFallbackErr(err) {
		return dbg, err
	}
	if isUnsupported(err) {
		dbg.Offload = Unsupported
	}

	// copy_file_range may have written some of the file; the
	// fallback always restarts on an empty destination.
	return dbg, restartStream(d, s)
}

// isFallbackErr returns true if err should trigger a fallback to the
// next copy mechanism.
func isFallbackErr(err error) bool {
	return errAny(err, unix.ENOSYS, unix.EXDEV, unix.EINVAL, unix.ENOTSUP,
		unix.EOPNOTSUPP, unix.EBADF, unix.ETXTBSY) || errors.Is(err, errShortCopy)
}

// isUnsupported returns true if err means the kernel or filesystem
// can't do the operation at all.
func isUnsupported(err error) bool {
	return errAny(err, unix.ENOSYS, unix.ENOTSUP, unix.EOPNOTSUPP, unix.ENOTTY)
}
