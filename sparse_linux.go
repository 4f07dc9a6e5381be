// sparse_linux.go - hole aware copy using SEEK_DATA/SEEK_HOLE
//
// (c) 2025 Sudhi Herle <sudhi@herle.net>
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

// segment is a contiguous run of data or hole in a file
type segment struct {
	off  int64
	size int64
	data bool
}

// sparseBlock is the granularity for turning zero runs into holes
const sparseBlock = 64 * 1024

// segments maps the data and holes of fd. Filesystems without
// SEEK_DATA support report the whole file as one data segment.
func segments(fd *os.File, size int64) ([]segment, error) {
	if size == 0 {
		return nil, nil
	}

	raw := int(fd.Fd())
	var segs []segment
	var off int64

	for off < size {
		data, err := unix.Seek(raw, off, unix.SEEK_DATA)
		if err != nil {
			switch {
			case errors.Is(err, unix.ENXIO):
				// rest of the file is a hole
				segs = append(segs, segment{off, size - off, false})
				return segs, nil
			case errors.Is(err, unix.EINVAL):
				return wholeFile(size), nil
			}
			return nil, err
		}

		if data > off {
			segs = append(segs, segment{off, data - off, false})
		}

		hole, err := unix.Seek(raw, data, unix.SEEK_HOLE)
		if err != nil {
			switch {
			case errors.Is(err, unix.ENXIO):
				hole = size
			case errors.Is(err, unix.EINVAL):
				return wholeFile(size), nil
			default:
				return nil, err
			}
		}

		hole = min(hole, size)
		segs = append(segs, segment{data, hole - data, true})
		off = hole
	}

	if len(segs) == 0 {
		return wholeFile(size), nil
	}
	return segs, nil
}

func wholeFile(size int64) []segment {
	return []segment{{0, size, true}}
}

// looksSparse returns true if fd has fewer allocated blocks than its
// size implies.
func looksSparse(fd *os.File, size int64) bool {
	var st unix.Stat_t
	if err := unix.Fstat(int(fd.Fd()), &st); err != nil {
		return false
	}
	return st.Blocks*512 < size
}

// sparseCopy reproduces the holes of src in dst. If zeros is set,
// all-zero blocks inside data segments become holes too. Returns true
// if copy_file_range moved the data.
func sparseCopy(dst, src *os.File, size int64, zeros bool) (bool, error) {
	segs, err := segments(src, size)
	if err != nil {
		return false, &IOError{Op: "seek-data", Err: err}
	}

	// set the final size first; everything we don't write is a hole
	if err := dst.Truncate(size); err != nil {
		return false, &IOError{Op: "truncate-dst", Err: err}
	}

	offload := !zeros
	for _, sg := range segs {
		if !sg.data {
			continue
		}

		if zeros {
			err = copyNonZero(dst, src, sg.off, sg.size)
		} else if offload {
			err = rangeCopy(dst, src, sg.off, sg.size)
			if err != nil && isFallbackErr(err) {
				offload = false
				err = preadCopy(dst, src, sg.off, sg.size, false)
			}
		} else {
			err = preadCopy(dst, src, sg.off, sg.size, false)
		}

		if err != nil {
			return false, err
		}
	}
	return offload && len(segs) > 0, nil
}

// copy_file_range(2) 'n' bytes at the same offset in both files
func rangeCopy(dst, src *os.File, off, n int64) error {
	roff, woff := off, off
	for n > 0 {
		m, err := unix.CopyFileRange(int(src.Fd()), &roff, int(dst.Fd()), &woff, int(min(n, _ioChunkSize)), 0)
		if err != nil {
			return &IOError{Op: "copy_file_range", Err: err}
		}
		if m == 0 {
			return &IOError{Op: "copy_file_range", Err: errShortCopy}
		}
		n -= int64(m)
	}
	return nil
}

func copyNonZero(dst, src *os.File, off, n int64) error {
	return preadCopy(dst, src, off, n, true)
}

// pread/pwrite 'n' bytes at 'off'; if skipZero is set, blocks that are
// all zero are not written (they stay holes).
func preadCopy(dst, src *os.File, off, n int64, skipZero bool) error {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)

	buf := (*bp)[:sparseBlock]
	if !skipZero {
		buf = *bp
	}

	for n > 0 {
		b := buf[:min(int64(len(buf)), n)]
		m, err := src.ReadAt(b, off)
		if m == 0 && err != nil {
			return &IOError{Op: "pread", Err: err}
		}
		b = b[:m]

		if !(skipZero && isZero(b)) {
			if _, err := dst.WriteAt(b, off); err != nil {
				return &IOError{Op: "pwrite", Err: err}
			}
		}
		off += int64(m)
		n -= int64(m)
	}
	return nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
