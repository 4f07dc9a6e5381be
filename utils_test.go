// utils_test.go -- test helpers
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
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"flag"
	"fmt"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/opencoff/go-mmap"
)

var testDir = flag.String("testdir", "", "Use 'T' as the testdir for file I/O tests")

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

func getTmpdir(t *testing.T) string {
	assert := newAsserter(t)
	tmpdir := t.TempDir()

	if len(*testDir) > 0 {
		tmpdir = filepath.Join(*testDir, t.Name())
		err := os.MkdirAll(tmpdir, 0700)
		assert(err == nil, "mkdir %s: %s", tmpdir, err)
		t.Logf("Using %s as test dir .. \n", tmpdir)
		t.Cleanup(func() {
			t.Logf("cleaning up %s ..\n", tmpdir)
			os.RemoveAll(tmpdir)
		})
	}

	// copies write to the symlink resolved destination
	nm, err := filepath.EvalSymlinks(tmpdir)
	assert(err == nil, "%s: %s", tmpdir, err)
	return nm
}

func mkfilex(fn string) error {
	bn := filepath.Dir(fn)
	if err := os.MkdirAll(bn, 0700); err != nil {
		return fmt.Errorf("mkdir: %s: %w", bn, err)
	}

	fd, err := os.OpenFile(fn, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("creat: %s: %w", fn, err)
	}

	fd.Write([]byte("hello"))
	fd.Sync()
	return fd.Close()
}

func byteEq(a, b []byte) bool {
	return 1 == subtle.ConstantTimeCompare(a, b)
}

func cksum(b []byte) []byte {
	h := sha256.New()
	h.Write(b)
	return h.Sum(nil)[:]
}

func fileCksum(nm string) ([]byte, error) {
	fd, err := os.Open(nm)
	if err != nil {
		return nil, err
	}

	defer fd.Close()
	h := sha256.New()
	_, err = mmap.Reader(fd, func(b []byte) error {
		h.Write(b)
		return nil
	})

	if err != nil {
		return nil, err
	}

	return h.Sum(nil)[:], nil
}

// create a file and return cryptographic checksum
func createFile(nm string, sz int) ([]byte, error) {
	fd, err := os.OpenFile(nm, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	defer fd.Close()

	if sz <= 0 {
		sz = 1024 + mrand.IntN(65536)
	}

	buf := make([]byte, 4096)
	h := sha256.New()

	// fill it with random data
	for sz > 0 {
		n := min(len(buf), sz)
		b := buf[:n]
		randbuf(b)
		h.Write(b)
		n, err := fd.Write(b)
		if err != nil {
			return nil, err
		}
		if n != len(b) {
			return nil, fmt.Errorf("%s: partial write (exp %d, saw %d)", nm, len(b), n)
		}
		sz -= n
	}

	if err = fd.Sync(); err != nil {
		return nil, err
	}

	if err = fd.Close(); err != nil {
		return nil, err
	}

	return h.Sum(nil), nil
}

func randbuf(b []byte) []byte {
	n, err := crand.Read(b)
	if err != nil || n != len(b) {
		panic(fmt.Sprintf("can't read %d bytes of crypto/rand: %s", len(b), err))
	}
	return b
}

// fakeLabeler keeps labels in memory; when 'snap' is set, it records
// the destination's stat info at the time its label is set.
type fakeLabeler struct {
	sync.Mutex
	enabled bool
	labels  map[string]string
	snap    map[string]*Info
}

var _ Labeler = &fakeLabeler{}

const fakeDefaultLabel = "system_u:object_r:default_t:s0"

func newFakeLabeler() *fakeLabeler {
	return &fakeLabeler{
		enabled: true,
		labels:  make(map[string]string),
		snap:    make(map[string]*Info),
	}
}

func (f *fakeLabeler) Enabled() bool {
	return f.enabled
}

func (f *fakeLabeler) FileLabel(path string) (string, error) {
	f.Lock()
	defer f.Unlock()

	l, ok := f.labels[path]
	if !ok {
		return "", fmt.Errorf("%s: no label", path)
	}
	return l, nil
}

func (f *fakeLabeler) SetFileLabel(path, label string) error {
	if err := f.Validate(label); err != nil {
		return err
	}

	fi, err := Lstat(path)
	if err != nil {
		return err
	}

	f.Lock()
	f.labels[path] = label
	f.snap[path] = fi
	f.Unlock()
	return nil
}

func (f *fakeLabeler) DefaultLabel(path string) (string, error) {
	return fakeDefaultLabel, nil
}

func (f *fakeLabeler) Validate(label string) error {
	if strings.Count(label, ":") < 2 {
		return fmt.Errorf("invalid label '%s'", label)
	}
	return nil
}

func (f *fakeLabeler) get(path string) string {
	f.Lock()
	defer f.Unlock()
	return f.labels[path]
}
