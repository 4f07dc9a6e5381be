// attrs.go - replicate file attributes onto a copied entry
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
	"fmt"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// Preserve is the set of attributes to replicate from the source
type Preserve uint32

const (
	PRESERVE_MODE Preserve = 1 << iota
	PRESERVE_OWNER
	PRESERVE_TIMES
	PRESERVE_XATTR
	PRESERVE_CONTEXT
	PRESERVE_LINKS

	// what -p means
	PRESERVE_DEFAULT = PRESERVE_MODE | PRESERVE_OWNER | PRESERVE_TIMES

	PRESERVE_ALL = PRESERVE_DEFAULT | PRESERVE_XATTR | PRESERVE_CONTEXT | PRESERVE_LINKS
)

var preserveNames = []struct {
	name string
	p    Preserve
}{
	{"mode", PRESERVE_MODE},
	{"ownership", PRESERVE_OWNER},
	{"timestamps", PRESERVE_TIMES},
	{"links", PRESERVE_LINKS},
	{"context", PRESERVE_CONTEXT},
	{"xattr", PRESERVE_XATTR},
	{"all", PRESERVE_ALL},
}

// ParsePreserve parses a comma separated attribute list in the
// format of --preserve. An empty list means PRESERVE_DEFAULT.
func ParsePreserve(s string) (Preserve, error) {
	s = strings.TrimSpace(s)
	if len(s) == 0 {
		return PRESERVE_DEFAULT, nil
	}

	var p Preserve
outer:
	for _, w := range strings.Split(s, ",") {
		w = strings.ToLower(strings.TrimSpace(w))
		for _, pn := range preserveNames {
			if pn.name == w {
				p |= pn.p
				continue outer
			}
		}
		return 0, fmt.Errorf("invalid argument '%s' for '--preserve'", w)
	}
	return p, nil
}

func (p Preserve) String() string {
	if p == PRESERVE_ALL {
		return "all"
	}

	var v []string
	for _, pn := range preserveNames {
		if pn.p != PRESERVE_ALL && (p&pn.p) != 0 {
			v = append(v, pn.name)
		}
	}
	return strings.Join(v, ",")
}

// SecurityRequest is the raw set of security context flags a user
// supplied. Resolve collapses them into exactly one action.
type SecurityRequest struct {
	// Context is the label from --context=CTX
	Context string

	// SetContext is true if --context was given (with or without CTX)
	SetContext bool

	// Default is true for -Z
	Default bool
}

// SecurityKind is the single context action applied to a file
type SecurityKind int

const (
	SEC_NONE SecurityKind = iota
	SEC_PRESERVE
	SEC_DEFAULT
	SEC_EXPLICIT
)

func (k SecurityKind) String() string {
	switch k {
	case SEC_NONE:
		return "none"
	case SEC_PRESERVE:
		return "preserve"
	case SEC_DEFAULT:
		return "default"
	case SEC_EXPLICIT:
		return "explicit"
	}
	return fmt.Sprintf("security(%d)", int(k))
}

// Security is a resolved security context action
type Security struct {
	Kind  SecurityKind
	Label string // only for SEC_EXPLICIT
}

// Resolve picks the one context action for a file: an explicit label
// beats the default context, which beats preserving the source's
// context. --context without a label is the same as -Z.
func (s SecurityRequest) Resolve(p Preserve) Security {
	switch {
	case s.SetContext && len(s.Context) > 0:
		return Security{Kind: SEC_EXPLICIT, Label: s.Context}
	case s.SetContext || s.Default:
		return Security{Kind: SEC_DEFAULT}
	case (p & PRESERVE_CONTEXT) != 0:
		return Security{Kind: SEC_PRESERVE}
	}
	return Security{Kind: SEC_NONE}
}

// the context is owned by the security step and never copied as a
// plain xattr
const selinuxXattr = "security.selinux"

// an attrStep replicates one attribute from 'fi' onto 'dst'
type attrStep struct {
	attr string
	want Preserve

	// failures of soft steps are warnings unless Config.StrictAttrs
	soft bool
	fp   func(dst string, fi *Info) error
}

// The order matters: chown can clear the setuid/setgid bits and
// so must precede chmod.
var attrSteps = []attrStep{
	{"ownership", PRESERVE_OWNER, true, setOwner},
	{"mode", PRESERVE_MODE, false, setPerm},
	{"timestamps", PRESERVE_TIMES, false, setTimes},
	{"xattr", PRESERVE_XATTR, true, setXattr},
}

// Attrs replicates the attributes in 'p' and the security context
// from 'src' onto 'dst'. It returns the non-fatal failures as
// warnings. Callers use this for entries they create themselves (eg.
// directories).
func (c *Copier) Attrs(dst string, src *Info, p Preserve, s SecurityRequest) ([]error, error) {
	sec := s.Resolve(p)
	if err := c.validate(sec); err != nil {
		return nil, err
	}
	return c.applyAttrs(dst, src, p, sec)
}

func (c *Copier) applyAttrs(dst string, fi *Info, p Preserve, sec Security) ([]error, error) {
	var warn []error

	for i := range attrSteps {
		st := &attrSteps[i]
		if (p & st.want) == 0 {
			continue
		}

		if err := st.fp(dst, fi); err != nil {
			ae := &AttrError{st.attr, dst, err}
			if st.soft && !c.cfg.StrictAttrs {
				warn = append(warn, ae)
				continue
			}
			return warn, ae
		}
	}

	if err := c.applyContext(dst, fi, sec); err != nil {
		return warn, err
	}
	return warn, nil
}

// validate rejects a bad explicit label before anything is written
func (c *Copier) validate(sec Security) error {
	if sec.Kind != SEC_EXPLICIT {
		return nil
	}

	if !c.lb.Enabled() {
		return &ContextError{"set security context", sec.Label, "", ErrNotEnabled}
	}
	if err := c.lb.Validate(sec.Label); err != nil {
		return &ContextError{"validate security context", sec.Label, "", err}
	}
	return nil
}

func (c *Copier) applyContext(dst string, fi *Info, sec Security) error {
	if sec.Kind == SEC_NONE {
		return nil
	}

	if !c.lb.Enabled() {
		// nothing to preserve or default to without SELinux
		if sec.Kind == SEC_EXPLICIT {
			return &ContextError{"set security context", sec.Label, dst, ErrNotEnabled}
		}
		return nil
	}

	var label string
	var err error

	switch sec.Kind {
	case SEC_PRESERVE:
		if label, err = c.lb.FileLabel(fi.Name()); err != nil {
			return &ContextError{"get security context", "", fi.Name(), err}
		}

	case SEC_DEFAULT:
		if label, err = c.lb.DefaultLabel(dst); err != nil {
			return &ContextError{"compute default security context", "", dst, err}
		}

	case SEC_EXPLICIT:
		label = sec.Label
	}

	if err = c.lb.SetFileLabel(dst, label); err != nil {
		return &ContextError{"set security context", label, dst, err}
	}
	return nil
}

func setOwner(dst string, fi *Info) error {
	return os.Lchown(dst, int(fi.Uid), int(fi.Gid))
}

// symlinks have no mode of their own on most systems
func setPerm(dst string, fi *Info) error {
	if fi.Mode().Type() == fs.ModeSymlink {
		return nil
	}
	m := fi.Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
	return os.Chmod(dst, m)
}

func setTimes(dst string, fi *Info) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(fi.Atim.UnixNano()),
		unix.NsecToTimespec(fi.Mtim.UnixNano()),
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, dst, ts, unix.AT_SYMLINK_NOFOLLOW)
}

func setXattr(dst string, fi *Info) error {
	x := fi.Xattr.Without(selinuxXattr)
	err := LreplaceXattr(dst, x, selinuxXattr)
	if err != nil && len(x) == 0 && isNoXattr(err) {
		// nothing to copy onto a filesystem without xattrs
		return nil
	}
	return err
}

