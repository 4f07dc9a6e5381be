// info.go - a better fs.FileInfo that also handles xattr
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
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
	"fmt"
	"io/fs"
	"syscall"
	"time"
)

// Info is the stat(2) snapshot of a file system entry along with its
// extended attributes. It is the source of truth for every attribute
// that the copier replicates.
type Info struct {
	Nam   string
	Ino   uint64
	Nlink uint64

	Mod fs.FileMode
	Uid uint32
	Gid uint32

	Siz  int64
	Dev  uint64
	Rdev uint64

	Atim time.Time
	Mtim time.Time
	Ctim time.Time

	Xattr Xattr
}

var _ fs.FileInfo = &Info{}

// Stat is like os.Stat() but also returns xattr
func Stat(nm string) (*Info, error) {
	var ii Info
	if err := Statm(nm, &ii); err != nil {
		return nil, err
	}
	return &ii, nil
}

// Statm is like Stat above - except it uses caller
// supplied memory for the stat(2) info
func Statm(nm string, fi *Info) error {
	return statm(nm, fi, true, true)
}

// Lstat is like os.Lstat() but also returns xattr
func Lstat(nm string) (*Info, error) {
	var ii Info
	if err := Lstatm(nm, &ii); err != nil {
		return nil, err
	}
	return &ii, nil
}

// Lstatm is like Lstat except it uses the caller's
// supplied memory.
func Lstatm(nm string, fi *Info) error {
	return statm(nm, fi, false, true)
}

// statm does the stat(2) and optionally fetches the xattr. Streams
// (eg. /dev/fd/N) can be stat'd but often have no usable xattr
// interface.
func statm(nm string, fi *Info, follow, xattrs bool) error {
	var st syscall.Stat_t
	var err error

	op := "lstat"
	if follow {
		op = "stat"
		err = syscall.Stat(nm, &st)
	} else {
		err = syscall.Lstat(nm, &st)
	}
	if err != nil {
		return &fs.PathError{Op: op, Path: nm, Err: err}
	}

	var x Xattr
	switch {
	case !xattrs:
		x = make(Xattr)
	case follow:
		x, err = GetXattr(nm)
	default:
		x, err = LgetXattr(nm)
	}
	if err != nil {
		return err
	}

	makeInfo(fi, nm, &st, x)
	return nil
}

// fill in the type and special bits of the go file mode from the
// stat(2) mode
func fillMode(fi *Info, mode uint32) {
	fi.Mod = fs.FileMode(mode & 0777)

	switch mode & syscall.S_IFMT {
	case syscall.S_IFBLK:
		fi.Mod |= fs.ModeDevice
	case syscall.S_IFCHR:
		fi.Mod |= fs.ModeDevice | fs.ModeCharDevice
	case syscall.S_IFDIR:
		fi.Mod |= fs.ModeDir
	case syscall.S_IFIFO:
		fi.Mod |= fs.ModeNamedPipe
	case syscall.S_IFLNK:
		fi.Mod |= fs.ModeSymlink
	case syscall.S_IFREG:
		// nothing to do
	case syscall.S_IFSOCK:
		fi.Mod |= fs.ModeSocket
	}
	if mode&syscall.S_ISGID != 0 {
		fi.Mod |= fs.ModeSetgid
	}
	if mode&syscall.S_ISUID != 0 {
		fi.Mod |= fs.ModeSetuid
	}
	if mode&syscall.S_ISVTX != 0 {
		fi.Mod |= fs.ModeSticky
	}
}

func (ii *Info) String() string {
	return fmt.Sprintf("%s: %d; %s", ii.Name(), ii.Siz, ii.Mode().String())
}

// SameFile returns true if both entries are the same inode
func (ii *Info) SameFile(b *Info) bool {
	return ii.Dev == b.Dev && ii.Ino == b.Ino
}

// IsRegular returns true for regular files
func (ii *Info) IsRegular() bool {
	return ii.Mod.IsRegular()
}

// fs.FileInfo methods of Info
func (ii *Info) Name() string {
	return ii.Nam
}

func (ii *Info) Size() int64 {
	return ii.Siz
}

func (ii *Info) Mode() fs.FileMode {
	return ii.Mod
}

func (ii *Info) ModTime() time.Time {
	return ii.Mtim
}

func (ii *Info) IsDir() bool {
	return ii.Mod.IsDir()
}

func (ii *Info) Sys() any {
	return ii
}

func ts2time(a syscall.Timespec) time.Time {
	return time.Unix(int64(a.Sec), int64(a.Nsec))
}
