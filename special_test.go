// special_test.go -- symlinks, hardlinks and nodes
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
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
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestSymlink(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	// dangling links are fine; we never read through them
	src := filepath.Join(tmpdir, "link")
	err := os.Symlink("./nowhere", src)
	assert(err == nil, "symlink: %s", err)

	dst := filepath.Join(tmpdir, "newlink")
	for i := 0; i < 2; i++ {
		err = Symlink(dst, src)
		assert(err == nil, "%d: symlink: %s", i, err)

		targ, err := os.Readlink(dst)
		assert(err == nil, "%d: readlink: %s", i, err)
		assert(targ == "./nowhere", "%d: link: exp ./nowhere, saw %s", i, targ)
	}

	other := filepath.Join(tmpdir, "other")
	err = mkfilex(other)
	assert(err == nil, "mkfile: %s", err)

	err = Symlink(other, src)
	assert(errors.Is(err, ErrLinkExists), "exp ErrLinkExists, saw %v", err)
}

func TestHardlink(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	a := filepath.Join(tmpdir, "a")
	b := filepath.Join(tmpdir, "b")
	err := mkfilex(a)
	assert(err == nil, "mkfile: %s", err)

	for i := 0; i < 2; i++ {
		err = Hardlink(b, a)
		assert(err == nil, "%d: link: %s", i, err)
	}

	ai, err := Stat(a)
	assert(err == nil, "stat: %s", err)
	bi, err := Stat(b)
	assert(err == nil, "stat: %s", err)
	assert(ai.SameFile(bi), "%s and %s are different files", a, b)
	assert(ai.Nlink == 2, "nlink: exp 2, saw %d", ai.Nlink)

	c := filepath.Join(tmpdir, "c")
	err = mkfilex(c)
	assert(err == nil, "mkfile: %s", err)

	err = Hardlink(c, a)
	var le *LinkError
	assert(errors.As(err, &le), "exp LinkError, saw %v", err)
	assert(errors.Is(err, ErrLinkExists), "exp ErrLinkExists, saw %v", err)

	// the first link is intact
	ai, err = Stat(a)
	assert(err == nil, "stat: %s", err)
	assert(ai.Nlink == 2, "nlink: exp 2, saw %d", ai.Nlink)
}

func TestMknodFifo(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	src := filepath.Join(tmpdir, "fifo")
	err := unix.Mkfifo(src, 0640)
	assert(err == nil, "mkfifo: %s", err)

	fi, err := Lstat(src)
	assert(err == nil, "lstat: %s", err)

	dst := filepath.Join(tmpdir, "newfifo")
	for i := 0; i < 2; i++ {
		err = Mknod(dst, fi)
		assert(err == nil, "%d: mknod: %s", i, err)
	}

	di, err := Lstat(dst)
	assert(err == nil, "lstat: %s", err)
	assert(di.Mode().Type() == fs.ModeNamedPipe, "type: %s", di.Mode())

	// a regular file in the way is not clobbered
	reg := filepath.Join(tmpdir, "reg")
	err = mkfilex(reg)
	assert(err == nil, "mkfile: %s", err)
	err = Mknod(reg, fi)
	assert(errors.Is(err, ErrLinkExists), "exp ErrLinkExists, saw %v", err)
}

func TestCopySpecial(t *testing.T) {
	assert := newAsserter(t)
	tmpdir := getTmpdir(t)

	fifo := filepath.Join(tmpdir, "fifo")
	err := unix.Mkfifo(fifo, 0600)
	assert(err == nil, "mkfifo: %s", err)
	err = os.Chmod(fifo, 0604)
	assert(err == nil, "chmod: %s", err)

	link := filepath.Join(tmpdir, "link")
	err = os.Symlink("fifo", link)
	assert(err == nil, "symlink: %s", err)

	c := newTestCopier()

	// the fifo is recreated, not read
	dst := filepath.Join(tmpdir, "fifo2")
	_, err = c.CopySpecial(&Request{Src: fifo, Dst: dst, Preserve: PRESERVE_MODE})
	assert(err == nil, "copy fifo: %s", err)

	di, err := os.Lstat(dst)
	assert(err == nil, "lstat: %s", err)
	assert(di.Mode().Type() == fs.ModeNamedPipe, "type: %s", di.Mode())
	assert(di.Mode().Perm() == 0604, "mode: exp 0604, saw %#o", di.Mode().Perm())

	ldst := filepath.Join(tmpdir, "link2")
	_, err = c.CopySpecial(&Request{Src: link, Dst: ldst, Preserve: PRESERVE_DEFAULT})
	assert(err == nil, "copy link: %s", err)

	targ, err := os.Readlink(ldst)
	assert(err == nil, "readlink: %s", err)
	assert(targ == "fifo", "link: exp fifo, saw %s", targ)

	// regular files are for Copy()
	reg := filepath.Join(tmpdir, "reg")
	err = mkfilex(reg)
	assert(err == nil, "mkfile: %s", err)
	_, err = c.CopySpecial(&Request{Src: reg, Dst: filepath.Join(tmpdir, "reg2")})
	assert(err != nil, "copyspecial of a regular file succeeded")
}
