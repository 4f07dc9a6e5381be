// debug.go - record of the copy mechanisms that actually fired
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
	"fmt"
)

// DebugStatus describes the outcome of a single copy optimization.
type DebugStatus int

const (
	// Unsupported means the platform (or this kind of source) can't
	// perform the optimization at all.
	Unsupported DebugStatus = iota

	// Unused means the optimization was available but did not fire.
	Unused

	// Used means the optimization performed the copy.
	Used
)

func (d DebugStatus) String() string {
	switch d {
	case Unsupported:
		return "unsupported"
	case Unused:
		return "no"
	case Used:
		return "yes"
	}
	return fmt.Sprintf("status(%d)", int(d))
}

// CopyDebug records which mechanisms copied the content of one file.
// It always reflects what happened - not what was asked for.
type CopyDebug struct {
	Offload DebugStatus // kernel whole-file offload (copy_file_range)
	Reflink DebugStatus // copy-on-write clone
	Sparse  DebugStatus // hole detection
}

// String renders the record the way cp --debug does
func (d CopyDebug) String() string {
	return fmt.Sprintf("copy offload: %s, reflink: %s, sparse detection: %s",
		d.Offload, d.Reflink, d.Sparse)
}

// idleDebug is the record for a copy where none of the backend's
// capabilities were exercised.
func idleDebug(c Caps) CopyDebug {
	st := func(ok bool) DebugStatus {
		if ok {
			return Unused
		}
		return Unsupported
	}
	return CopyDebug{
		Offload: st(c.Offload),
		Reflink: st(c.Reflink),
		Sparse:  st(c.Sparse),
	}
}

// Result is the outcome of a successful copy of one entry.
type Result struct {
	Debug CopyDebug

	// Warnings holds attribute failures that were not fatal
	// (eg. chown without privilege). See Config.StrictAttrs.
	Warnings []error
}
