// tree_test.go -- recursive copy tests
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

package tree

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	cp "github.com/opencoff/go-cp"
	"github.com/opencoff/go-cp/walk"
	"github.com/opencoff/go-logger"
)

func newAsserter(t *testing.T) func(cond bool, msg string, args ...interface{}) {
	return func(cond bool, msg string, args ...interface{}) {
		if cond {
			return
		}

		_, file, line, ok := runtime.Caller(1)
		if !ok {
			file = "???"
			line = 0
		}

		s := fmt.Sprintf(msg, args...)
		t.Fatalf("\n%s: %d: Assertion failed: %s\n", file, line, s)
	}
}

func tmpdir(t *testing.T) string {
	nm, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("tmpdir: %s", err)
	}
	return nm
}

// labels in memory, keyed by path
type memLabeler struct {
	sync.Mutex
	m map[string]string
}

func (l *memLabeler) Enabled() bool {
	return true
}

func (l *memLabeler) FileLabel(p string) (string, error) {
	l.Lock()
	defer l.Unlock()
	if v, ok := l.m[p]; ok {
		return v, nil
	}
	return "", fmt.Errorf("%s: no label", p)
}

func (l *memLabeler) SetFileLabel(p, label string) error {
	l.Lock()
	l.m[p] = label
	l.Unlock()
	return nil
}

func (l *memLabeler) DefaultLabel(p string) (string, error) {
	return "system_u:object_r:default_t:s0", nil
}

func (l *memLabeler) Validate(label string) error {
	return nil
}

var _ cp.Labeler = &memLabeler{}

// make the entries in 'names'; names ending in '/' are dirs and
// names with a '@' are symlinks (name@target)
func mktree(t *testing.T, root string, names []string) {
	assert := newAsserter(t)

	for _, nm := range names {
		switch {
		case strings.HasSuffix(nm, "/"):
			err := os.MkdirAll(filepath.Join(root, nm), 0700)
			assert(err == nil, "mkdir %s: %s", nm, err)

		case strings.Contains(nm, "@"):
			v := strings.SplitN(nm, "@", 2)
			err := os.Symlink(v[1], filepath.Join(root, v[0]))
			assert(err == nil, "symlink %s: %s", nm, err)

		default:
			fn := filepath.Join(root, nm)
			err := os.MkdirAll(filepath.Dir(fn), 0700)
			assert(err == nil, "mkdir %s: %s", nm, err)
			err = os.WriteFile(fn, []byte("content of "+nm), 0640)
			assert(err == nil, "write %s: %s", nm, err)
		}
	}
}

// treeEq compares the two trees; 'attrs' also compares mode and mtime
func treeEq(t *testing.T, a, b string, attrs bool) {
	assert := newAsserter(t)

	err := walk.Walk(a, walk.Options{}, func(rel string, fi *cp.Info) error {
		bn := filepath.Join(b, rel)
		bi, err := cp.Lstat(bn)
		if err != nil {
			return err
		}

		if fi.Mode().Type() != bi.Mode().Type() {
			return fmt.Errorf("%s: type: exp %s, saw %s", rel, fi.Mode(), bi.Mode())
		}

		switch {
		case fi.IsRegular():
			x, err := os.ReadFile(fi.Name())
			if err != nil {
				return err
			}
			y, err := os.ReadFile(bn)
			if err != nil {
				return err
			}
			if !bytes.Equal(x, y) {
				return fmt.Errorf("%s: content mismatch", rel)
			}

		case fi.Mode().Type() == fs.ModeSymlink:
			x, _ := os.Readlink(fi.Name())
			y, _ := os.Readlink(bn)
			if x != y {
				return fmt.Errorf("%s: link: exp %s, saw %s", rel, x, y)
			}
		}

		if attrs && fi.Mode().Type() != fs.ModeSymlink {
			if fi.Mode() != bi.Mode() {
				return fmt.Errorf("%s: mode: exp %s, saw %s", rel, fi.Mode(), bi.Mode())
			}
			if !fi.ModTime().Equal(bi.ModTime()) {
				return fmt.Errorf("%s: mtime: exp %s, saw %s", rel, fi.ModTime(), bi.ModTime())
			}
		}
		return nil
	})
	assert(err == nil, "tree: %s", err)
}

var testTree = []string{
	"a/b/c/file1",
	"a/b/file2",
	"a/file3",
	"empty/",
	"top",
	"lnk@a/file3",
	"dangling@nowhere",
}

func TestTreeCopy(t *testing.T) {
	assert := newAsserter(t)
	tmp := tmpdir(t)

	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")
	mktree(t, src, testTree)

	// a read-only dir must still get its content
	err := os.Chmod(filepath.Join(src, "a", "b"), 0500)
	assert(err == nil, "chmod: %s", err)
	defer os.Chmod(filepath.Join(src, "a", "b"), 0700)

	old := time.Now().Add(-72 * time.Hour).Truncate(time.Second)
	err = os.Chtimes(filepath.Join(src, "a"), old, old)
	assert(err == nil, "chtimes: %s", err)

	c := cp.New(cp.Config{Umask: 022}, cp.WithLabeler(&memLabeler{m: map[string]string{}}))

	res, err := Copy(dst, src,
		WithCopier(c),
		WithModes(cp.ReflinkNever, cp.SparseAuto),
		WithPreserve(cp.PRESERVE_DEFAULT, cp.SecurityRequest{}),
		WithConcurrency(4))
	assert(err == nil, "copy: %s", err)
	defer os.Chmod(filepath.Join(dst, "a", "b"), 0700)

	assert(res.Files == 4, "files: exp 4, saw %d", res.Files)
	assert(res.Special == 2, "special: exp 2, saw %d", res.Special)
	assert(res.Dirs == 5, "dirs: exp 5, saw %d", res.Dirs)

	treeEq(t, src, dst, true)

	// and again: the same copy over an identical tree changes nothing
	_, err = Copy(dst, src,
		WithCopier(c),
		WithModes(cp.ReflinkNever, cp.SparseAuto),
		WithPreserve(cp.PRESERVE_DEFAULT, cp.SecurityRequest{}))
	assert(err == nil, "re-copy: %s", err)
	treeEq(t, src, dst, true)
}

func TestTreeModeUmask(t *testing.T) {
	assert := newAsserter(t)
	tmp := tmpdir(t)

	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")
	mktree(t, src, []string{"d/file"})

	err := os.Chmod(filepath.Join(src, "d"), 0777)
	assert(err == nil, "chmod: %s", err)

	c := cp.New(cp.Config{Umask: 027})
	_, err = Copy(dst, src, WithCopier(c), WithModes(cp.ReflinkNever, cp.SparseAuto))
	assert(err == nil, "copy: %s", err)

	fi, err := os.Stat(filepath.Join(dst, "d"))
	assert(err == nil, "stat: %s", err)
	assert(fi.Mode().Perm() == 0750, "dir mode: exp 0750, saw %#o", fi.Mode().Perm())

	fi, err = os.Stat(filepath.Join(dst, "d", "file"))
	assert(err == nil, "stat: %s", err)
	assert(fi.Mode().Perm() == 0640, "file mode: exp 0640, saw %#o", fi.Mode().Perm())
}

func TestTreeContext(t *testing.T) {
	assert := newAsserter(t)
	tmp := tmpdir(t)

	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")
	names := []string{"a/b/file1", "a/file2", "file3"}
	mktree(t, src, names)

	lb := &memLabeler{m: map[string]string{}}
	err := walk.Walk(src, walk.Options{}, func(rel string, fi *cp.Info) error {
		return lb.SetFileLabel(fi.Name(), fmt.Sprintf("user_u:object_r:%s_t:s0", strings.ReplaceAll(rel, "/", "_")))
	})
	assert(err == nil, "label: %s", err)

	c := cp.New(cp.Config{Umask: 022}, cp.WithLabeler(lb))
	_, err = Copy(dst, src,
		WithCopier(c),
		WithModes(cp.ReflinkNever, cp.SparseAuto),
		WithPreserve(cp.PRESERVE_CONTEXT, cp.SecurityRequest{}))
	assert(err == nil, "copy: %s", err)

	for _, rel := range append(names, ".", "a", "a/b") {
		s, _ := lb.FileLabel(filepath.Join(src, rel))
		d, err := lb.FileLabel(filepath.Join(dst, rel))
		assert(err == nil, "%s: %s", rel, err)
		assert(s == d, "%s: context: exp %s, saw %s", rel, s, d)
	}
}

func TestTreeHardlinks(t *testing.T) {
	assert := newAsserter(t)
	tmp := tmpdir(t)

	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")
	mktree(t, src, []string{"a/file1", "b/"})

	for _, nm := range []string{"a/file2", "b/file3"} {
		err := os.Link(filepath.Join(src, "a/file1"), filepath.Join(src, nm))
		assert(err == nil, "link: %s", err)
	}

	lg, err := logger.NewLogger(filepath.Join(tmp, "tree.log"), logger.LOG_DEBUG, "tree-test", logger.Ldate|logger.Ltime|logger.Lmicroseconds|logger.Lfileloc)
	assert(err == nil, "logger: %s", err)
	defer lg.Close()

	c := cp.New(cp.Config{Umask: 022}, cp.WithLabeler(&memLabeler{m: map[string]string{}}))
	for i := 0; i < 2; i++ {
		res, err := Copy(dst, src,
			WithCopier(c),
			WithModes(cp.ReflinkNever, cp.SparseAuto),
			WithPreserve(cp.PRESERVE_LINKS, cp.SecurityRequest{}),
			WithLogger(lg))
		assert(err == nil, "%d: copy: %s", i, err)
		assert(res.Files == 1, "%d: files: exp 1, saw %d", i, res.Files)
		assert(res.Links == 2, "%d: links: exp 2, saw %d", i, res.Links)

		a, err := cp.Stat(filepath.Join(dst, "a/file1"))
		assert(err == nil, "%d: stat: %s", i, err)
		assert(a.Nlink == 3, "%d: nlink: exp 3, saw %d", i, a.Nlink)

		for _, nm := range []string{"a/file2", "b/file3"} {
			b, err := cp.Stat(filepath.Join(dst, nm))
			assert(err == nil, "%d: stat: %s", i, err)
			assert(a.SameFile(b), "%d: %s: not a link", i, nm)
		}
	}

	treeEq(t, src, dst, false)
}

func TestTreeNoClobber(t *testing.T) {
	assert := newAsserter(t)
	tmp := tmpdir(t)

	src := filepath.Join(tmp, "src")
	dst := filepath.Join(tmp, "dst")
	mktree(t, src, []string{"file1", "file2"})
	mktree(t, dst, []string{"file1"})

	err := os.WriteFile(filepath.Join(dst, "file1"), []byte("keep me"), 0600)
	assert(err == nil, "write: %s", err)

	res, err := Copy(dst, src, WithOverwrite(false), WithModes(cp.ReflinkNever, cp.SparseAuto),
		WithCopier(cp.New(cp.Config{Umask: 022})))
	assert(err == nil, "copy: %s", err)
	assert(res.Skipped == 1, "skipped: exp 1, saw %d", res.Skipped)
	assert(res.Files == 1, "files: exp 1, saw %d", res.Files)

	b, err := os.ReadFile(filepath.Join(dst, "file1"))
	assert(err == nil, "read: %s", err)
	assert(string(b) == "keep me", "file1 clobbered: %s", b)
}

// an existing first name of a hardlinked inode must not become the
// link target of the other names
func TestTreeNoClobberLinks(t *testing.T) {
	assert := newAsserter(t)

	for i := 0; i < 8; i++ {
		tmp := tmpdir(t)

		src := filepath.Join(tmp, "src")
		dst := filepath.Join(tmp, "dst")
		mktree(t, src, []string{"f1"})
		mktree(t, dst, []string{"f1"})

		err := os.WriteFile(filepath.Join(src, "f1"), []byte("source content"), 0600)
		assert(err == nil, "write: %s", err)
		for _, nm := range []string{"f2", "f3"} {
			err = os.Link(filepath.Join(src, "f1"), filepath.Join(src, nm))
			assert(err == nil, "link: %s", err)
		}

		err = os.WriteFile(filepath.Join(dst, "f1"), []byte("keep me"), 0600)
		assert(err == nil, "write: %s", err)

		res, err := Copy(dst, src,
			WithCopier(cp.New(cp.Config{Umask: 022})),
			WithOverwrite(false),
			WithModes(cp.ReflinkNever, cp.SparseAuto),
			WithPreserve(cp.PRESERVE_LINKS, cp.SecurityRequest{}))
		assert(err == nil, "%d: copy: %s", i, err)
		assert(res.Skipped == 1, "%d: skipped: exp 1, saw %d", i, res.Skipped)

		b, err := os.ReadFile(filepath.Join(dst, "f1"))
		assert(err == nil, "%d: read: %s", i, err)
		assert(string(b) == "keep me", "%d: f1 clobbered: %s", i, b)

		for _, nm := range []string{"f2", "f3"} {
			b, err := os.ReadFile(filepath.Join(dst, nm))
			assert(err == nil, "%d: read %s: %s", i, nm, err)
			assert(string(b) == "source content", "%d: %s: exp source content, saw %q", i, nm, b)
		}

		x, err := os.Lstat(filepath.Join(dst, "f1"))
		assert(err == nil, "%d: lstat: %s", i, err)
		y, err := os.Lstat(filepath.Join(dst, "f2"))
		assert(err == nil, "%d: lstat: %s", i, err)
		z, err := os.Lstat(filepath.Join(dst, "f3"))
		assert(err == nil, "%d: lstat: %s", i, err)
		assert(!os.SameFile(x, y), "%d: f2 is a link to the old f1", i)
		assert(os.SameFile(y, z), "%d: f2 and f3 are not linked", i)
	}
}

func TestTreeDefaultModes(t *testing.T) {
	assert := newAsserter(t)
	tmp := tmpdir(t)

	src := filepath.Join(tmp, "src")
	mktree(t, src, []string{"a/file1", "file2", ".zfs/file3"})

	backends := []cp.Backend{cp.PlatformBackend(), cp.Portable()}
	for _, be := range backends {
		dst := filepath.Join(tmp, "dst-"+be.Name())
		c := cp.New(cp.Config{Umask: 022}, cp.WithBackend(be))

		res, err := Copy(dst, src, WithCopier(c))
		assert(err == nil, "%s: copy: %s", be.Name(), err)
		assert(res.Files == 3, "%s: files: exp 3, saw %d", be.Name(), res.Files)
		treeEq(t, src, dst, false)
	}
}

func TestTreeErrors(t *testing.T) {
	assert := newAsserter(t)
	tmp := tmpdir(t)

	src := filepath.Join(tmp, "src")
	mktree(t, src, []string{"file1"})

	_, err := Copy(filepath.Join(tmp, "dst"), filepath.Join(src, "file1"))
	var te *Error
	assert(errors.As(err, &te), "copy of a file as a tree: %v", err)
	assert(te.Op == "stat", "op: exp stat, saw %s", te.Op)

	_, err = Copy(filepath.Join(src, "file1"), src)
	assert(errors.As(err, &te), "copy onto a file: %v", err)
	assert(te.Op == "lstat", "op: exp lstat, saw %s", te.Op)
}
