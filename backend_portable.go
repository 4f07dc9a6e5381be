// backend_portable.go - backend for platforms without clone or offload
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

type portableBackend struct{}

var _ Backend = &portableBackend{}

// Portable returns a Backend that has no copy-on-write, offload or
// hole detection. It is the platform backend on FreeBSD and is usable
// on every supported OS.
func Portable() Backend {
	return &portableBackend{}
}

func (p *portableBackend) Name() string {
	return "portable"
}

func (p *portableBackend) Caps() Caps {
	return Caps{}
}

func (p *portableBackend) CopyRegular(d *SafeFile, s *os.File, size int64, rm ReflinkMode, sm SparseMode) (CopyDebug, error) {
	var dbg CopyDebug

	// The selector already checked this; never downgrade silently.
	if err := checkCaps(p.Caps(), rm, sm); err != nil {
		return dbg, err
	}

	return dbg, plainCopy(d, s, size)
}
