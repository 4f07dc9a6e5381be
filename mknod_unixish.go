// mknod_unixish.go -- mknod(2) for linux and darwin
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

//go:build unix && !freebsd

package cp

import (
	"golang.org/x/sys/unix"
)

func mknod(dst string, mode uint32, rdev uint64) error {
	return unix.Mknod(dst, mode, int(rdev))
}
