// modes.go - reflink and sparse copy modes
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
	"strings"
)

// ReflinkMode controls the use of copy-on-write clones.
type ReflinkMode int

const (
	// ReflinkAuto attempts a clone and silently falls back to a
	// regular copy.
	ReflinkAuto ReflinkMode = iota

	// ReflinkAlways requires a clone; the copy fails otherwise.
	ReflinkAlways

	// ReflinkNever never clones even if the filesystem can.
	ReflinkNever
)

// SparseMode controls how holes in the source are reproduced.
type SparseMode int

const (
	// SparseAuto reproduces holes when the source looks sparse.
	SparseAuto SparseMode = iota

	// SparseAlways creates holes for every run of zero blocks.
	SparseAlways

	// SparseNever writes every byte of the source.
	SparseNever
)

var whenNames = []string{"auto", "always", "never"}

func (m ReflinkMode) String() string {
	if m >= 0 && int(m) < len(whenNames) {
		return whenNames[m]
	}
	return fmt.Sprintf("reflink(%d)", int(m))
}

func (m SparseMode) String() string {
	if m >= 0 && int(m) < len(whenNames) {
		return whenNames[m]
	}
	return fmt.Sprintf("sparse(%d)", int(m))
}

// DefaultReflinkMode returns the reflink mode to use when none was
// asked for: auto if a backend with capabilities 'c' can clone,
// never otherwise.
func DefaultReflinkMode(c Caps) ReflinkMode {
	if c.Reflink {
		return ReflinkAuto
	}
	return ReflinkNever
}

// ParseReflinkMode parses one of "auto", "always" or "never".
// An empty string is the same as "always" - this matches
// the behavior of a bare "--reflink".
func ParseReflinkMode(s string) (ReflinkMode, error) {
	if len(s) == 0 {
		return ReflinkAlways, nil
	}
	i, err := parseWhen("reflink", s)
	return ReflinkMode(i), err
}

// ParseSparseMode parses one of "auto", "always" or "never".
func ParseSparseMode(s string) (SparseMode, error) {
	i, err := parseWhen("sparse", s)
	return SparseMode(i), err
}

func parseWhen(flag, s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, nm := range whenNames {
		if nm == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("invalid argument '%s' for '--%s'; valid arguments are %s",
		s, flag, strings.Join(whenNames, ", "))
}
