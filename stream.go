// stream.go - copy from sources with no trustworthy size
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

package cp

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
)

const streamBufSize = 1 << 20

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, streamBufSize)
		return &b
	},
}

// copyStream copies src to dst until EOF; it never needs the length of
// src. The wrappers hide ReadFrom/WriteTo so io.CopyBuffer can't pick
// a kernel fast path behind our back.
func copyStream(dst io.Writer, src io.Reader) (int64, error) {
	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)

	w := struct{ io.Writer }{dst}
	r := struct{ io.Reader }{src}
	return io.CopyBuffer(w, r, *bp)
}

// new stream destinations get this mode (less the umask); a pipe's
// permission bits mean nothing for the file we create.
const streamDstPerm fs.FileMode = 0o622

// copyFromStream implements the stream source path. It returns the
// path where attributes must be applied; this is the symlink resolved
// destination.
func (c *Copier) copyFromStream(r *Request) (string, error) {
	src, err := os.Open(r.Src)
	if err != nil {
		return "", &IOError{Op: "open-src", Err: err}
	}
	defer src.Close()

	_, err = os.Stat(r.Dst)
	created := errors.Is(err, fs.ErrNotExist)

	perm := streamDstPerm &^ c.cfg.Umask
	dst, err := os.OpenFile(r.Dst, os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return "", &IOError{Op: "open-dst", Err: err}
	}
	defer dst.Close()

	// OpenFile applied the process umask; the configured one wins.
	if created {
		if err := dst.Chmod(perm); err != nil {
			return "", &IOError{Op: "chmod-dst", Err: err}
		}
	}

	di, err := dst.Stat()
	if err != nil {
		return "", &IOError{Op: "stat-dst", Err: err}
	}

	// A fifo or device at the destination is a live stream; truncating
	// it is meaningless at best. Everything else must lose its old
	// content so a shorter stream doesn't leave a stale tail.
	if !isStreamNode(di.Mode()) {
		if err := dst.Truncate(0); err != nil {
			return "", &IOError{Op: "truncate-dst", Err: err}
		}
	}

	if _, err := copyStream(dst, src); err != nil {
		return "", &IOError{Op: "stream", Err: fmt.Errorf("%w: %v", ErrStream, err)}
	}

	if r.SourceIsFifo {
		si, err := src.Stat()
		if err != nil {
			return "", &IOError{Op: "stat-src", Err: err}
		}
		if err := dst.Chmod(si.Mode().Perm()); err != nil {
			return "", &IOError{Op: "chmod-dst", Err: err}
		}
	}

	return resolveDst(r.Dst), nil
}

// isStreamNode returns true for fifos, char and block devices
func isStreamNode(m fs.FileMode) bool {
	return m&(fs.ModeNamedPipe|fs.ModeDevice|fs.ModeCharDevice) != 0
}
