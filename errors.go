// errors.go - descriptive errors for cp
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
)

// IOError is an I/O failure on either end of a copy. Context is the
// caller supplied description of the pair being copied (eg. "'a' -> 'b'").
type IOError struct {
	Op      string
	Context string
	Err     error
}

// Error returns a string representation of IOError
func (e *IOError) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s: %s", e.Context, e.Op, e.Err.Error())
}

// Unwrap returns the underlying wrapped error
func (e *IOError) Unwrap() error {
	return e.Err
}

// UnsupportedError is returned when a requested mode can't be honored
// on this platform. It is always returned before the destination is
// touched.
type UnsupportedError struct {
	Flag      string // eg. "--reflink"
	Platforms string // platforms where Flag works
}

// Error returns a string representation of UnsupportedError
func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is only supported on %s", e.Flag, e.Platforms)
}

// AttrError is a failure to replicate one attribute onto the destination
// after its content was copied.
type AttrError struct {
	Attr string
	Dst  string
	Err  error
}

// Error returns a string representation of AttrError
func (e *AttrError) Error() string {
	return fmt.Sprintf("preserving %s for '%s': %s", e.Attr, e.Dst, e.Err.Error())
}

// Unwrap returns the underlying wrapped error
func (e *AttrError) Unwrap() error {
	return e.Err
}

// ContextError is a failure to read, compute, validate or apply a
// security context. Its message always starts with "failed to".
type ContextError struct {
	Op    string // eg. "set security context"
	Label string
	Path  string
	Err   error
}

// Error returns a string representation of ContextError
func (e *ContextError) Error() string {
	s := "failed to " + e.Op
	if len(e.Label) > 0 {
		s += fmt.Sprintf(" '%s'", e.Label)
	}
	if len(e.Path) > 0 {
		s += fmt.Sprintf(" for '%s'", e.Path)
	}
	return fmt.Sprintf("%s: %s", s, e.Err.Error())
}

// Unwrap returns the underlying wrapped error
func (e *ContextError) Unwrap() error {
	return e.Err
}

// LinkError is a failure to recreate a symlink, hardlink or
// device/fifo node.
type LinkError struct {
	Op  string
	Src string
	Dst string
	Err error
}

// Error returns a string representation of LinkError
func (e *LinkError) Error() string {
	return fmt.Sprintf("%s '%s' '%s': %s", e.Op, e.Src, e.Dst, e.Err.Error())
}

// Unwrap returns the underlying wrapped error
func (e *LinkError) Unwrap() error {
	return e.Err
}

var (
	_ error = &IOError{}
	_ error = &UnsupportedError{}
	_ error = &AttrError{}
	_ error = &ContextError{}
	_ error = &LinkError{}
)

var (
	// ErrIncompatibleModes is returned for --reflink=always combined
	// with a sparse mode other than auto.
	ErrIncompatibleModes = errors.New("--reflink can be used only with --sparse=auto")

	// ErrStream is the normalized failure of a stream copy.
	ErrStream = errors.New("stream copy failed")

	// ErrLinkExists is returned when the destination of a link already
	// exists and is not the same link.
	ErrLinkExists = errors.New("destination exists and is a different entry")

	// ErrNotEnabled is returned when a security context must be set on
	// a system without SELinux.
	ErrNotEnabled = errors.New("SELinux is not enabled")

	// ErrAborted is returned by SafeFile.Close after SafeFile.Abort
	ErrAborted = errors.New("safefile: aborted; file not committed")
)

// attach the caller's context string to I/O errors
func withContext(err error, ctx string) error {
	var ie *IOError
	if errors.As(err, &ie) {
		if len(ie.Context) == 0 {
			ie.Context = ctx
		}
		return err
	}

	var ue *UnsupportedError
	var ce *ContextError
	var ae *AttrError
	if errors.As(err, &ue) || errors.As(err, &ce) || errors.As(err, &ae) || errors.Is(err, ErrIncompatibleModes) {
		return err
	}
	return &IOError{"copy", ctx, err}
}

// errAny returns true if err matches any of the given errnos
func errAny(err error, errs ...error) bool {
	for _, e := range errs {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
