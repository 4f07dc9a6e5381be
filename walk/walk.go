// walk.go - concurrent fs-walker
//
// (c) 2022- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

// Package walk does a concurrent traversal of a directory tree and
// hands each entry, along with its name relative to the root, to a
// caller supplied function. A directory is always handed out before
// any of its children; this lets a tree copier create a directory
// before the entries inside it.
package walk

import (
	"errors"
	"fmt"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	cp "github.com/opencoff/go-cp"
	"github.com/puzpuzpuz/xsync/v3"
)

// High level design:
//
// * multiple workers; each worker is responsible for processing a single
//   directory and its contents. A worker *always* outputs the directory entry
//   before descending to its children.
// * each directory encountered bumps up a WaitGroup count (walkState::dirWg).
// * errors are collected and do not stop the walk.

// Type is an output filter that can be bitwise OR'd. It denotes
// the types of file system entries that will be *returned* to the caller.
type Type uint

const (
	FILE    Type = 1 << iota // regular file
	DIR                      // directory
	SYMLINK                  // symbolic link
	DEVICE                   // device special file (blk and char)
	SPECIAL                  // fifos and sockets

	// This is a short cut for "give me all entries"
	ALL = FILE | DIR | SYMLINK | DEVICE | SPECIAL
)

// Options control the behavior of the filesystem walk.
type Options struct {
	// Number of go-routines to use; if not set (ie 0),
	// Walk() will use the max available cpus
	Concurrency int

	// Follow symlinks if set; the entries below a followed
	// directory symlink are named relative to the link.
	FollowSymlinks bool

	// stay within the same file-system as the root; mount points
	// are returned but not descended
	OneFS bool

	// Types of entries to return; 0 means ALL
	Type Type

	// Excludes is a list of shell-glob patterns to exclude from
	// the traversal. Excluded directories are not descended.
	// The matching is done on the basename component of the pathname.
	Excludes []string

	// Filter is an optional caller provided callback to exclude
	// entries; it returns true if the entry must be skipped.
	Filter func(fi *cp.Info) (bool, error)
}

// ApplyFunc is called for every entry that passes the filters. 'rel'
// is the name relative to the root; the root itself is ".". It is
// called concurrently from multiple goroutines.
type ApplyFunc func(rel string, fi *cp.Info) error

// a directory to be processed by a worker
type dirent struct {
	nm  string
	rel string
	fi  *cp.Info
}

// internal state
type walkState struct {
	Options

	ch chan dirent

	// type mask for output filtering
	typ os.FileMode

	// Tracks completion of the DFS walk across directories.
	// Each counter in this waitGroup tracks one subdir
	// we've encountered.
	dirWg sync.WaitGroup

	// Tracks worker goroutines
	wg sync.WaitGroup

	apply ApplyFunc

	// device of the root for OneFS
	rootDev uint64

	// dirs we've descended; only used when following symlinks
	seen *xsync.MapOf[string, bool]

	errMu sync.Mutex
	errs  []error
}

// mapping our types to the stdlib types
var typMap = map[Type]os.FileMode{
	FILE:    0,
	DIR:     os.ModeDir,
	SYMLINK: os.ModeSymlink,
	DEVICE:  os.ModeDevice | os.ModeCharDevice,
	SPECIAL: os.ModeNamedPipe | os.ModeSocket,
}

var strMap = map[Type]string{
	FILE:    "File",
	DIR:     "Dir",
	SYMLINK: "Symlink",
	DEVICE:  "Device",
	SPECIAL: "Special",
}

// Stringer for walk filter Type
func (t Type) String() string {
	var z []string
	for _, k := range []Type{FILE, DIR, SYMLINK, DEVICE, SPECIAL} {
		if (k & t) > 0 {
			z = append(z, strMap[k])
		}
	}
	return strings.Join(z, "|")
}

// Walk traverses 'root' concurrently and calls 'apply' for every
// entry that matches 'opt'. A non-directory root is handed out by
// itself. All errors from the traversal and from 'apply' are joined
// and returned after the walk completes.
func Walk(root string, opt Options, apply ApplyFunc) error {
	if opt.Concurrency <= 0 {
		opt.Concurrency = runtime.NumCPU()
	}
	if opt.Type == 0 {
		opt.Type = ALL
	}

	root = strings.TrimSuffix(root, "/")
	if len(root) == 0 {
		root = "/"
	}

	d := newWalkState(opt, apply)

	fi, err := d.stat(root, false)
	if err != nil {
		return &Error{"lstat", root, err}
	}

	d.rootDev = fi.Dev

	if fi.Mode().Type() == os.ModeSymlink && d.FollowSymlinks {
		if fi, err = d.stat(root, true); err != nil {
			return &Error{"stat", root, err}
		}
	}

	if fi.IsDir() {
		d.markSeen(fi)
		d.enq([]dirent{{root, ".", fi}})
	} else {
		d.output(".", fi)
	}

	d.dirWg.Wait()
	close(d.ch)
	d.wg.Wait()

	if len(d.errs) > 0 {
		return errors.Join(d.errs...)
	}
	return nil
}

func newWalkState(opt Options, apply ApplyFunc) *walkState {
	d := &walkState{
		Options: opt,
		ch:      make(chan dirent, opt.Concurrency),
		apply:   apply,
		seen:    xsync.NewMapOf[string, bool](),
	}

	if d.Filter == nil {
		d.Filter = func(_ *cp.Info) (bool, error) {
			return false, nil
		}
	}

	// build a fast lookup of our types to stdlib; we will use
	// this in the output path (walkState.output)
	for k, v := range typMap {
		if (d.Type & k) > 0 {
			d.typ |= v
		}
	}

	// create workers
	d.wg.Add(d.Concurrency)
	for i := 0; i < d.Concurrency; i++ {
		go d.worker()
	}
	return d
}

// worker thread to walk directories
func (d *walkState) worker() {
	for de := range d.ch {
		// we are _sure_ this is a dir; it must be handed out
		// before its children.
		d.output(de.rel, de.fi)

		d.walkPath(de)

		// It is crucial that we do this as the last thing in the processing loop.
		// Otherwise, we have a race condition where the workers will prematurely quit.
		// We can only decrement this wait-group _after_ walkPath() has returned!
		d.dirWg.Done()
	}

	d.wg.Done()
}

// output action for entries we encounter
func (d *walkState) output(rel string, fi *cp.Info) {
	m := fi.Mode()

	// we have to special case regular files because there is
	// no mask for Regular Files!
	if (d.typ&m) > 0 || ((d.Type&FILE) > 0 && m.IsRegular()) {
		if err := d.apply(rel, fi); err != nil {
			d.error(err)
		}
	}
}

// return true iff basename(nm) matches one of the patterns
func (d *walkState) exclude(nm string) bool {
	bn := path.Base(nm)
	for _, pat := range d.Excludes {
		ok, err := path.Match(pat, bn)
		if err != nil {
			d.error(&Error{"exclude-glob", nm, fmt.Errorf("'%s': %w", pat, err)})
		} else if ok {
			return true
		}
	}
	return false
}

// enqueue a list of dirs in a separate go-routine so the caller is
// not blocked (deadlocked)
func (d *walkState) enq(dirs []dirent) {
	if len(dirs) > 0 {
		d.dirWg.Add(len(dirs))
		go func(dirs []dirent) {
			for _, de := range dirs {
				d.ch <- de
			}
		}(dirs)
	}
}

// read a dir and return the names
func readDir(nm string) ([]string, error) {
	fd, err := os.Open(nm)
	if err != nil {
		return nil, &Error{"readdir", nm, err}
	}
	defer fd.Close()

	names, err := fd.Readdirnames(-1)
	if err != nil {
		return nil, &Error{"readdirnames", nm, err}
	}
	return names, nil
}

// Process a directory and queue its subdirs.
//
// There is *no* race condition between the workers reading d.ch and the
// wait-group going to zero: there is at least 1 count outstanding: of the
// current entry being processed.
func (d *walkState) walkPath(de dirent) {
	names, err := readDir(de.nm)
	if err != nil {
		d.error(err)
		return
	}

	// hack to make joined paths not look like '//file'
	nm := de.nm
	if nm == "/" {
		nm = ""
	}

	dirs := make([]dirent, 0, len(names)/2)
	for _, entry := range names {
		fp := nm + "/" + entry
		rel := entry
		if de.rel != "." {
			rel = de.rel + "/" + entry
		}

		if len(d.Excludes) > 0 && d.exclude(fp) {
			continue
		}

		fi, err := d.stat(fp, false)
		if err != nil {
			d.error(&Error{"lstat", fp, err})
			continue
		}

		if fi.Mode().Type() == os.ModeSymlink && d.FollowSymlinks {
			if fi, err = d.stat(fp, true); err != nil {
				d.error(&Error{"stat", fp, err})
				continue
			}
		}

		skip, err := d.Filter(fi)
		if err != nil {
			d.error(&Error{"filter", fp, err})
			continue
		}
		if skip {
			continue
		}

		if !fi.IsDir() {
			d.output(rel, fi)
			continue
		}

		// a mount point is returned but not descended; nor is a dir
		// we've seen via a symlink.
		if d.OneFS && fi.Dev != d.rootDev {
			d.output(rel, fi)
			continue
		}
		if d.FollowSymlinks && !d.markSeen(fi) {
			continue
		}
		dirs = append(dirs, dirent{fp, rel, fi})
	}

	d.enq(dirs)
}

func (d *walkState) stat(nm string, follow bool) (*cp.Info, error) {
	if follow {
		return cp.Stat(nm)
	}
	return cp.Lstat(nm)
}

// markSeen returns true the first time a directory inode is seen
func (d *walkState) markSeen(fi *cp.Info) bool {
	key := fmt.Sprintf("%d:%d", fi.Dev, fi.Ino)
	_, loaded := d.seen.LoadOrStore(key, true)
	return !loaded
}

// enq an error
func (d *walkState) error(e error) {
	d.errMu.Lock()
	d.errs = append(d.errs, e)
	d.errMu.Unlock()
}
