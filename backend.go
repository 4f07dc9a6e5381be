// backend.go - platform specific regular file copy
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
	"os"
)

// platforms where the optional copy modes work; these show up verbatim
// in UnsupportedError.
const (
	reflinkPlatforms = "linux and macOS"
	sparsePlatforms  = "linux"
)

// Caps describes what a Backend can do on this platform.
type Caps struct {
	Reflink bool // copy-on-write clone
	Sparse  bool // hole detection
	Offload bool // in-kernel whole file copy
}

// Backend copies the content of a regular file using the best
// primitives of a platform. Exactly one backend is compiled in for
// each OS; see PlatformBackend().
//
// CopyRegular writes the content of 's' into 'd'. 'd' is a fresh
// temporary file; if an optimized attempt fails part way, the backend
// must truncate 'd' and restart from offset zero before trying the
// next mechanism. The returned CopyDebug reports what actually fired.
type Backend interface {
	Name() string
	Caps() Caps
	CopyRegular(d *SafeFile, s *os.File, size int64, rm ReflinkMode, sm SparseMode) (CopyDebug, error)
}

// PlatformBackend returns the backend for the running OS.
func PlatformBackend() Backend {
	return platformBackend()
}

// reject modes that 'c' can't honor; this is called before any
// destination is touched.
func checkCaps(c Caps, rm ReflinkMode, sm SparseMode) error {
	if rm != ReflinkNever && !c.Reflink {
		return &UnsupportedError{"--reflink", reflinkPlatforms}
	}
	if sm != SparseAuto && !c.Sparse {
		return &UnsupportedError{"--sparse", sparsePlatforms}
	}
	if rm == ReflinkAlways && sm != SparseAuto {
		return ErrIncompatibleModes
	}
	return nil
}
