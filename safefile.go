// safefile.go - safe file creation and unwinding on error
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
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync/atomic"
)

// SafeFile is an io.WriteCloser which uses a temporary file that
// will be atomically renamed when there are no errors and
// caller invokes Close(). Regular file copies write into a SafeFile;
// the destination is never truncated and abandoned when the source
// can't be fully read. The recommended usage is:
//
//	sf, err := NewSafeFile(...)
//	... error handling
//
//	defer sf.Abort()
//
//	... write to sf ..
//	sf.Close()
//
// It is safe to call Abort on a closed SafeFile; the first call
// to Close() or Abort() seals the outcome. Similarly, it is safe
// to call Close() after Abort() - the first call to either
// takes precedence.
type SafeFile struct {
	*os.File

	// error for writes recorded once
	err  error
	name string // actual filename
	perm fs.FileMode

	// tracks the state of this file:
	//  < 0 => aborted
	//  > 0 => closed
	//  = 0 => open and active
	closed atomic.Int64
}

var _ io.WriteCloser = &SafeFile{}

const (
	OPT_OVERWRITE uint32 = 1 << iota
)

// NewSafeFile creates a new temporary file that would either be
// aborted or safely renamed to the correct name.
// 'nm' is the name of the final file; if 'opts' has OPT_OVERWRITE,
// then an existing regular file is replaced on Close().
func NewSafeFile(nm string, opts uint32, perm fs.FileMode) (*SafeFile, error) {
	if st, err := os.Lstat(nm); err == nil {
		if (opts & OPT_OVERWRITE) == 0 {
			return nil, fmt.Errorf("safefile: won't overwrite existing %s", nm)
		}

		if !st.Mode().IsRegular() {
			return nil, fmt.Errorf("safefile: %s is not a regular file", nm)
		}
	}

	// keep the old file around - we don't want to destroy it if we Abort() this operation.
	tmp := fmt.Sprintf("%s.tmp.%d.%x", nm, os.Getpid(), randU32())
	fd, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_RDWR, perm)
	if err != nil {
		return nil, err
	}

	sf := &SafeFile{
		File: fd,
		name: nm,
		perm: perm,
	}
	return sf, nil
}

// Target returns the name the file will have after Close()
func (sf *SafeFile) Target() string {
	return sf.name
}

func (sf *SafeFile) isOpen() bool {
	return sf.closed.Load() == 0
}

// Restart discards everything written so far: the temp file is
// truncated to zero and the write offset rewound. Copy mechanisms
// call this before falling back to another mechanism.
func (sf *SafeFile) Restart() error {
	if !sf.isOpen() {
		return fmt.Errorf("safefile: %s is not open", sf.Name())
	}

	if err := sf.Truncate(0); err != nil {
		return fmt.Errorf("safefile: restart: %w", err)
	}
	if _, err := sf.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("safefile: restart: %w", err)
	}
	sf.err = nil
	return nil
}

// Replace removes the temp file, lets 'fp' create a new file at the
// same name and reopens it. This serves primitives that only create
// new files (eg. clonefile(2)). If 'fp' fails, an empty temp file is
// recreated and the error returned.
func (sf *SafeFile) Replace(fp func(tmp string) error) error {
	if !sf.isOpen() {
		return fmt.Errorf("safefile: %s is not open", sf.Name())
	}

	tmp := sf.Name()
	sf.File.Close()
	os.Remove(tmp)

	ferr := fp(tmp)

	flag := os.O_RDWR
	if ferr != nil {
		flag |= os.O_CREATE | os.O_EXCL
	}

	fd, err := os.OpenFile(tmp, flag, sf.perm)
	if err != nil {
		sf.err = err
		sf.closed.Store(-1)
		os.Remove(tmp)
		return fmt.Errorf("safefile: reopen %s: %w", tmp, err)
	}

	sf.File = fd
	return ferr
}

// Attempt to write everything in 'b' and don't proceed if there was
// a previous error or the file was already closed.
func (sf *SafeFile) Write(b []byte) (int, error) {
	if sf.err != nil {
		return 0, sf.err
	}

	if !sf.isOpen() {
		return 0, fmt.Errorf("safefile: %s is not open", sf.Name())
	}

	var z int
	if z, sf.err = fullWrite(sf.File, b); sf.err != nil {
		return z, sf.err
	}
	return z, nil
}

// Abort the file write and remove any temporary artifacts; it is safe
// to call Close() on a different code path; the first call to Abort() or
// Close() takes precedence.
func (sf *SafeFile) Abort() {
	if !sf.isOpen() {
		return
	}

	sf.File.Close()
	os.Remove(sf.Name())
	sf.closed.Store(-1)

	// we retain any previous error in sf.err
}

// Close flushes all file data & metadata to disk, closes the file and atomically renames
// the temp file to the actual file - ONLY if there were no intervening errors.
func (sf *SafeFile) Close() error {
	if sf.err != nil {
		sf.Abort()
		return sf.err
	}

	n := sf.closed.Load()
	if n < 0 {
		return ErrAborted
	}

	if n > 0 {
		return sf.err
	}

	if sf.err = sf.Sync(); sf.err != nil {
		sf.Abort()
		return sf.err
	}

	if sf.err = sf.File.Close(); sf.err != nil {
		os.Remove(sf.Name())
		sf.closed.Store(-1)
		return sf.err
	}

	// mark this file as closed
	if sf.err = os.Rename(sf.Name(), sf.name); sf.err != nil {
		os.Remove(sf.Name())
		sf.closed.Store(-1)
		return sf.err
	}

	sf.closed.Store(1)
	return nil
}

func fullWrite(d *os.File, b []byte) (int, error) {
	var z int
	n := len(b)
	for n > 0 {
		m, err := d.Write(b)
		if err != nil {
			return z, fmt.Errorf("safefile: %w", err)
		}
		n -= m
		b = b[m:]
		z += m
	}
	return z, nil
}

func randU32() uint32 {
	var b [4]byte

	_, err := io.ReadFull(rand.Reader, b[:])
	if err != nil {
		panic(fmt.Sprintf("can't read 4 rand bytes: %s", err))
	}

	return binary.LittleEndian.Uint32(b[:])
}
