// copy_mmap.go - whole file copy using mmap(2)
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

package cp

import (
	"io"
	"os"

	"github.com/opencoff/go-mmap"
)

// Use mmap(2) to copy src to dst.
func copyViaMmap(dst, src *os.File) error {
	_, err := mmap.Reader(src, func(b []byte) error {
		_, err := fullWrite(dst, b)
		return err
	})
	if err != nil {
		return &IOError{Op: "mmap-reader", Err: err}
	}
	return nil
}

// plainCopy is the whole-file duplication primitive every backend
// falls back to: mmap the source and write it out; if the source
// can't be mapped, restart the destination and stream it.
func plainCopy(d *SafeFile, s *os.File, size int64) error {
	if size > 0 {
		err := copyViaMmap(d.File, s)
		if err == nil {
			return nil
		}
	}

	// size may be stale or mmap unsupported (eg. procfs); the
	// streaming copy reads until EOF.
	return restartStream(d, s)
}

// restartStream discards whatever is in 'd' and streams all of 's'
// into it from the start.
func restartStream(d *SafeFile, s *os.File) error {
	if err := d.Restart(); err != nil {
		return err
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return &IOError{Op: "seek-src", Err: err}
	}
	if _, err := copyStream(d.File, s); err != nil {
		return &IOError{Op: "read-write", Err: err}
	}
	return nil
}
