// config.go - process wide settings threaded into every copy
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
	"io/fs"

	"golang.org/x/sys/unix"
)

// Config holds the settings that are global to a process. It is read
// once at startup and never consulted from ambient state afterwards.
type Config struct {
	// Umask is the file creation mask applied to new destinations.
	Umask fs.FileMode

	// StrictAttrs makes every attribute failure fatal. When false,
	// ownership and xattr failures are reported as Result.Warnings.
	StrictAttrs bool
}

// DefaultConfig returns a Config with the process umask.
func DefaultConfig() Config {
	return Config{
		Umask: ReadUmask(),
	}
}

// ReadUmask returns the process file creation mask. There is no way
// to read it without setting it; so we set it and immediately restore
// it. Call this once before starting any concurrent work.
func ReadUmask() fs.FileMode {
	old := unix.Umask(0022)
	unix.Umask(old)
	return fs.FileMode(old) & fs.ModePerm
}
