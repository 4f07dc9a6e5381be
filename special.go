// special.go - recreate symlinks, hardlinks and device nodes
//
// (c) 2024 Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package cp

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// Symlink makes 'dst' a symlink with the same target as the symlink
// 'src'. An existing identical link at 'dst' is left alone.
func Symlink(dst, src string) error {
	targ, err := os.Readlink(src)
	if err != nil {
		return &LinkError{"readlink", src, dst, err}
	}

	err = os.Symlink(targ, dst)
	if err == nil {
		return nil
	}

	if errors.Is(err, fs.ErrExist) {
		if cur, err := os.Readlink(dst); err == nil && cur == targ {
			return nil
		}
		return &LinkError{"symlink", src, dst, ErrLinkExists}
	}
	return &LinkError{"symlink", src, dst, err}
}

// Hardlink makes 'dst' a hardlink of the already copied 'target'.
// Linking the same pair again is a no-op; a different entry at 'dst'
// is never replaced.
func Hardlink(dst, target string) error {
	err := os.Link(target, dst)
	if err == nil {
		return nil
	}

	if errors.Is(err, fs.ErrExist) {
		a, err1 := os.Lstat(target)
		b, err2 := os.Lstat(dst)
		if err1 == nil && err2 == nil && os.SameFile(a, b) {
			return nil
		}
		return &LinkError{"link", target, dst, ErrLinkExists}
	}
	return &LinkError{"link", target, dst, err}
}

// Mknod recreates the fifo or device node described by 'fi' at 'dst'.
// Content is never read.
func Mknod(dst string, fi *Info) error {
	perm := uint32(fi.Mode().Perm())

	var err error
	var kind uint32

	m := fi.Mode()
	switch {
	case m&fs.ModeNamedPipe != 0:
		kind = unix.S_IFIFO
		err = unix.Mkfifo(dst, perm)

	case m&fs.ModeCharDevice != 0:
		kind = unix.S_IFCHR
		err = mknod(dst, perm|kind, fi.Rdev)

	case m&fs.ModeDevice != 0:
		kind = unix.S_IFBLK
		err = mknod(dst, perm|kind, fi.Rdev)

	default:
		return &LinkError{"mknod", fi.Name(), dst, fmt.Errorf("unsupported file type %s", m.Type())}
	}

	if err == nil {
		return nil
	}

	if errors.Is(err, fs.ErrExist) {
		var st unix.Stat_t
		if e := unix.Lstat(dst, &st); e == nil && uint32(st.Mode)&unix.S_IFMT == kind &&
			(kind == unix.S_IFIFO || uint64(st.Rdev) == fi.Rdev) {
			return nil
		}
		return &LinkError{"mknod", fi.Name(), dst, ErrLinkExists}
	}
	return &LinkError{"mknod", fi.Name(), dst, err}
}
