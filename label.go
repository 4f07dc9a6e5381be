// label.go - SELinux security contexts
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
	"path/filepath"

	"github.com/opencontainers/selinux/go-selinux"
)

// Labeler reads, computes and writes security contexts. None of the
// methods follow symlinks.
type Labeler interface {
	// Enabled returns true if the system enforces security contexts
	Enabled() bool

	// FileLabel returns the context of 'path'
	FileLabel(path string) (string, error)

	// SetFileLabel sets the context of 'path' to 'label'
	SetFileLabel(path, label string) error

	// DefaultLabel returns the context a new file at 'path' would get
	// from the policy
	DefaultLabel(path string) (string, error)

	// Validate returns an error if 'label' is not a valid context
	Validate(label string) error
}

type selinuxLabeler struct{}

var _ Labeler = &selinuxLabeler{}

// SELinuxLabeler returns a Labeler backed by the kernel's SELinux
// interfaces.
func SELinuxLabeler() Labeler {
	return &selinuxLabeler{}
}

func (s *selinuxLabeler) Enabled() bool {
	return selinux.GetEnabled()
}

func (s *selinuxLabeler) FileLabel(path string) (string, error) {
	return selinux.LfileLabel(path)
}

func (s *selinuxLabeler) SetFileLabel(path, label string) error {
	return selinux.LsetFileLabel(path, label)
}

// the default context is what the policy computes for our process
// creating a file in the parent dir of 'path'.
func (s *selinuxLabeler) DefaultLabel(path string) (string, error) {
	proc, err := selinux.CurrentLabel()
	if err != nil {
		return "", err
	}

	dir, err := selinux.FileLabel(filepath.Dir(path))
	if err != nil {
		return "", err
	}

	return selinux.ComputeCreateContext(proc, dir, "file")
}

func (s *selinuxLabeler) Validate(label string) error {
	if _, err := selinux.NewContext(label); err != nil {
		return err
	}
	return selinux.SecurityCheckContext(label)
}
