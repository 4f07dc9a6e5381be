// backend_darwin.go - macOS specific file copy
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

//go:build darwin

package cp

import (
	"os"

	"golang.org/x/sys/unix"
)

type darwinBackend struct{}

var _ Backend = &darwinBackend{}

func platformBackend() Backend {
	return &darwinBackend{}
}

func (b *darwinBackend) Name() string {
	return "darwin"
}

func (b *darwinBackend) Caps() Caps {
	return Caps{
		Reflink: true,
	}
}

// macOS doesn't have the equiv of FICLONE that takes two fds;
// fclonefileat(2) clones an open source but requires that the
// destination NOT exist. So we clone onto the temp name of 'd' after
// removing it.
func (b *darwinBackend) CopyRegular(d *SafeFile, s *os.File, size int64, rm ReflinkMode, sm SparseMode) (CopyDebug, error) {
	dbg := CopyDebug{
		Offload: Unsupported,
		Reflink: Unused,
		Sparse:  Unsupported,
	}

	if err := checkCaps(b.Caps(), rm, sm); err != nil {
		return dbg, err
	}

	if rm != ReflinkNever {
		err := d.Replace(func(tmp string) error {
			// clone the open file; the source path may be a symlink
			return unix.Fclonefileat(int(s.Fd()), unix.AT_FDCWD, tmp, 0)
		})
		if err == nil {
			dbg.Reflink = Used
			return dbg, nil
		}

		if rm == ReflinkAlways {
			return dbg, &IOError{Op: "clonefile", Err: err}
		}

		if errAny(err, unix.ENOTSUP, unix.ENOSYS) {
			dbg.Reflink = Unsupported
		}
	}

	return dbg, plainCopy(d, s, size)
}
