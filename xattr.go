// xattr.go - extended attribute support
//
// (c) 2023- Sudhi Herle <sudhi@herle.net>
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
	"sort"
	"strings"
	"syscall"

	"github.com/pkg/xattr"
)

// Xattr is a collection of all the extended attributes of a given file
type Xattr map[string]string

// String returns the string representation of all the extended attributes
// in key order.
func (x Xattr) String() string {
	keys := make([]string, 0, len(x))
	for k := range x {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var s strings.Builder
	for _, k := range keys {
		s.WriteString(fmt.Sprintf("%s=%s\n", k, x[k]))
	}
	return s.String()
}

// Equal returns true if 'x' and 'y' have identical keys and values
func (x Xattr) Equal(y Xattr) bool {
	if len(x) != len(y) {
		return false
	}
	for k, a := range x {
		if b, ok := y[k]; !ok || a != b {
			return false
		}
	}
	return true
}

// Without returns a copy of x without the named keys
func (x Xattr) Without(keys ...string) Xattr {
	y := make(Xattr, len(x))
	for k, v := range x {
		y[k] = v
	}
	for _, k := range keys {
		delete(y, k)
	}
	return y
}

// GetXattr returns all the extended attributes of a file.
// This function will traverse symlinks. Filesystems without xattr
// support yield an empty set.
func GetXattr(nm string) (Xattr, error) {
	return fetch(nm, xattr.List, xattr.Get)
}

// LgetXattr returns all the extended attributes of a file.
// If 'nm' points to a symlink, LgetXattr will return the
// extended attributes of the symlink and *not* the target.
func LgetXattr(nm string) (Xattr, error) {
	return fetch(nm, xattr.LList, xattr.LGet)
}

// SetXattr sets/updates the xattr list for a given file.
func SetXattr(nm string, x Xattr) error {
	return set(nm, x, xattr.Set)
}

// LsetXattr sets/updates the xattr list for a given file.
// If 'nm' points to a symlink, LsetXattr will set/update the
// extended attributes of the symlink and *not* the target.
func LsetXattr(nm string, x Xattr) error {
	return set(nm, x, xattr.LSet)
}

// ReplaceXattr replaces all the extended attributes of 'nm' with
// new attributes in 'x'; keys named in 'keep' are left untouched.
func ReplaceXattr(nm string, x Xattr, keep ...string) error {
	return repl(nm, x, keep, xattr.List, xattr.Remove, xattr.Set)
}

// LreplaceXattr is like ReplaceXattr except it doesn't follow symlinks.
func LreplaceXattr(nm string, x Xattr, keep ...string) error {
	return repl(nm, x, keep, xattr.LList, xattr.LRemove, xattr.LSet)
}

// isNoXattr returns true if err means the file system has no xattr
// support or that we can't look at them.
func isNoXattr(err error) bool {
	return errAny(err, xattr.ENOATTR, syscall.ENOTSUP, syscall.EOPNOTSUPP,
		syscall.EPERM, syscall.EACCES)
}

// handy helper that works for files and symlinks
func fetch(nm string, list func(nm string) ([]string, error),
	get func(nm string, k string) ([]byte, error)) (Xattr, error) {
	x := make(Xattr)

	keys, err := list(nm)
	if err != nil {
		if isNoXattr(err) {
			return x, nil
		}
		return nil, err
	}

	for _, k := range keys {
		b, err := get(nm, k)
		if err != nil {
			// attrs can vanish or be unreadable to us
			if isNoXattr(err) {
				continue
			}
			return nil, err
		}
		x[k] = string(b)
	}
	return x, nil
}

func set(nm string, x Xattr, setter func(nm, key string, val []byte) error) error {
	var errs []error
	for k, v := range x {
		if err := setter(nm, k, []byte(v)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handy helper to replace all xattr of nm; works for files and symlinks
func repl(nm string, x Xattr, keep []string, list func(nm string) ([]string, error),
	del func(nm, key string) error,
	setter func(nm, key string, val []byte) error) error {

	keys, err := list(nm)
	if err != nil && !isNoXattr(err) {
		return err
	}

	skip := make(map[string]bool, len(keep))
	for _, k := range keep {
		skip[k] = true
	}

	for _, k := range keys {
		if _, ok := x[k]; ok || skip[k] {
			continue
		}
		if err := del(nm, k); err != nil && !errors.Is(err, xattr.ENOATTR) {
			return err
		}
	}
	return set(nm, x, setter)
}
