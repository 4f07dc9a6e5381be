// tree.go - copy a dir tree recursively
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

// Package tree copies a directory tree with the file copier of the
// parent package. Files are copied concurrently; hardlinks are made
// after all the content is in place and directory attributes are
// applied last, deepest first, so that copying into a directory
// doesn't disturb its timestamps or a read-only mode.
package tree

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	cp "github.com/opencoff/go-cp"
	"github.com/opencoff/go-cp/walk"
	"github.com/opencoff/go-logger"
)

type treeopt struct {
	walk.Options

	copier *cp.Copier

	reflink  cp.ReflinkMode
	sparse   cp.SparseMode
	modes    bool
	preserve cp.Preserve
	security cp.SecurityRequest

	overwrite bool
	log       logger.Logger
}

func defaultOpts() treeopt {
	return treeopt{
		Options: walk.Options{
			Concurrency:    runtime.NumCPU(),
			Type:           walk.ALL,
			FollowSymlinks: false,
		},
		overwrite: true,
	}
}

// Option captures the various options for copying a directory tree.
type Option func(o *treeopt)

// WithCopier uses 'c' for every file copy; the default is
// cp.New(cp.DefaultConfig())
func WithCopier(c *cp.Copier) Option {
	return func(o *treeopt) {
		o.copier = c
	}
}

// WithModes sets the reflink and sparse modes for regular files. The
// default is to clone when the copier's backend can and to detect
// holes automatically.
func WithModes(rm cp.ReflinkMode, sm cp.SparseMode) Option {
	return func(o *treeopt) {
		o.reflink = rm
		o.sparse = sm
		o.modes = true
	}
}

// WithPreserve sets the attributes and security context to replicate
func WithPreserve(p cp.Preserve, s cp.SecurityRequest) Option {
	return func(o *treeopt) {
		o.preserve = p
		o.security = s
	}
}

// WithWalkOptions uses 'wo' as the option for walk.Walk(); it
// describes a caller desired traversal of the file system with
// the requisite input and output filters
func WithWalkOptions(wo walk.Options) Option {
	return func(o *treeopt) {
		o.Options = wo

		// make sure we receive all input
		if o.Type == 0 {
			o.Type = walk.ALL
		}

		if o.Concurrency <= 0 {
			o.Concurrency = runtime.NumCPU()
		}
	}
}

// WithConcurrency sets the number of concurrent file copies
func WithConcurrency(n int) Option {
	return func(o *treeopt) {
		if n <= 0 {
			n = runtime.NumCPU()
		}
		o.Concurrency = n
	}
}

// WithOverwrite controls whether existing files in the destination
// are replaced (the default) or left alone.
func WithOverwrite(ok bool) Option {
	return func(o *treeopt) {
		o.overwrite = ok
	}
}

// WithLogger logs every copied entry at debug level
func WithLogger(l logger.Logger) Option {
	return func(o *treeopt) {
		o.log = l
	}
}

// Result summarizes a tree copy
type Result struct {
	Files   int64
	Dirs    int64
	Links   int64
	Special int64
	Skipped int64

	// content bytes of the copied files
	Bytes int64

	// non-fatal attribute failures
	Warnings []error
}

// Copy copies the tree 'src' into 'dst'; ie entries like src/a/b are
// copied to dst/a/b. 'dst' is created if needed. Failures of
// individual entries don't stop the copy; they are all returned
// as one joined Error.
func Copy(dst, src string, opts ...Option) (*Result, error) {
	opt := defaultOpts()
	for _, fp := range opts {
		fp(&opt)
	}

	if opt.copier == nil {
		opt.copier = cp.New(cp.DefaultConfig())
	}

	if !opt.modes {
		opt.reflink = cp.DefaultReflinkMode(opt.copier.Backend().Caps())
		opt.sparse = cp.SparseAuto
	}

	tc, err := newTreeCopier(dst, src, &opt)
	if err != nil {
		return nil, err
	}
	return tc.run()
}

type treeCopier struct {
	treeopt

	src, dst string
	umask    fs.FileMode

	pool  *cp.WorkPool[*job]
	links *hardlinker

	mu   sync.Mutex
	dirs []*dirAttr
	res  Result
}

// a unit of work for the pool
type job struct {
	src, dst string
	fi       *cp.Info
}

// directories whose attributes are set after everything else
type dirAttr struct {
	dst     string
	depth   int
	created bool
	fi      *cp.Info

	// mode of an existing dir we had to make writable
	restore fs.FileMode
}

func newTreeCopier(dst, src string, opt *treeopt) (*treeCopier, error) {
	si, err := cp.Stat(src)
	if err != nil {
		return nil, &Error{"stat", src, dst, err}
	}
	if !si.IsDir() {
		return nil, &Error{"stat", src, dst, fmt.Errorf("source is not a directory")}
	}

	di, err := os.Lstat(dst)
	if err == nil && !di.IsDir() {
		return nil, &Error{"lstat", src, dst, fmt.Errorf("destination is not a directory")}
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{"lstat", src, dst, err}
	}

	tc := &treeCopier{
		treeopt: *opt,
		src:     src,
		dst:     dst,
		umask:   opt.copier.Config().Umask,
		links:   newHardlinker(),
	}
	return tc, nil
}

func (tc *treeCopier) run() (*Result, error) {
	var errs []error

	tc.pool = cp.NewWorkPool[*job](tc.Concurrency, tc.copyEntry)

	err := walk.Walk(tc.src, tc.Options, tc.apply)
	if err != nil {
		errs = append(errs, err)
	}

	tc.pool.Close()
	if err := tc.pool.Wait(); err != nil {
		errs = append(errs, err)
	}

	// all the content is in place; now the links
	if (tc.preserve & cp.PRESERVE_LINKS) != 0 {
		tc.debug("%d deferred hardlinks", tc.links.count())
		tc.links.hardlinks(func(dst, orig string) {
			if tc.overwrite {
				tc.unlink(dst, orig)
			}
			if err := cp.Hardlink(dst, orig); err != nil {
				errs = append(errs, &Error{"link", orig, dst, err})
				return
			}
			tc.debug("link %s => %s", dst, orig)
			atomic.AddInt64(&tc.res.Links, 1)
		})
	}

	if err := tc.fixDirs(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return &tc.res, &Error{"copytree", tc.src, tc.dst, errors.Join(errs...)}
	}
	return &tc.res, nil
}

// apply is called by the walker for every entry; it runs
// concurrently. Directories are made right away so that their
// children have a place to go.
func (tc *treeCopier) apply(rel string, fi *cp.Info) error {
	dst := tc.dst
	if rel != "." {
		dst = filepath.Join(tc.dst, rel)
	}

	m := fi.Mode()
	if m.IsDir() {
		return tc.mkdir(dst, rel, fi)
	}

	// an existing entry is left alone before it can become the
	// first name of a hardlinked inode
	if !tc.overwrite && tc.exists(dst) {
		return nil
	}

	if m.IsRegular() && (tc.preserve&cp.PRESERVE_LINKS) != 0 && tc.links.track(fi, dst) {
		return nil
	}

	tc.pool.Submit(&job{fi.Name(), dst, fi})
	return nil
}

func (tc *treeCopier) mkdir(dst, rel string, fi *cp.Info) error {
	// we need to write into the dir; the real mode is set at the end.
	var restore fs.FileMode

	created := true
	perm := fi.Mode().Perm() | 0700
	if err := os.Mkdir(dst, perm); err != nil {
		di, err2 := os.Stat(dst)
		if err2 != nil || !di.IsDir() {
			return &Error{"mkdir", fi.Name(), dst, err}
		}
		created = false

		if m := di.Mode().Perm(); m&0700 != 0700 {
			if err := os.Chmod(dst, m|0700); err != nil {
				return &Error{"chmod", fi.Name(), dst, err}
			}
			restore = m
		}
	}

	depth := 0
	if rel != "." {
		depth = strings.Count(rel, "/") + 1
	}

	tc.mu.Lock()
	tc.dirs = append(tc.dirs, &dirAttr{dst, depth, created, fi, restore})
	tc.mu.Unlock()

	tc.debug("mkdir %s", dst)
	atomic.AddInt64(&tc.res.Dirs, 1)
	return nil
}

// copyEntry is the pool worker for files, symlinks and nodes
func (tc *treeCopier) copyEntry(_ int, j *job) error {
	r := &cp.Request{
		Src:      j.src,
		Dst:      j.dst,
		Reflink:  tc.reflink,
		Sparse:   tc.sparse,
		Preserve: tc.preserve,
		Security: tc.security,
	}

	var res *cp.Result
	var err error

	if j.fi.IsRegular() {
		res, err = tc.copier.Copy(r)
	} else {
		// symlinks and nodes are recreated, never read through. An
		// existing different entry in the way is replaced.
		if tc.overwrite {
			tc.clear(j.dst, j.fi)
		}
		res, err = tc.copier.CopySpecial(r)
	}

	if err != nil {
		return &Error{"copy", j.src, j.dst, err}
	}

	if j.fi.IsRegular() {
		tc.debug("copy %s -> %s: %s", j.src, j.dst, res.Debug)
		atomic.AddInt64(&tc.res.Files, 1)
		atomic.AddInt64(&tc.res.Bytes, j.fi.Size())
	} else {
		tc.debug("special %s -> %s", j.src, j.dst)
		atomic.AddInt64(&tc.res.Special, 1)
	}

	tc.warn(res.Warnings)
	return nil
}

// exists returns true if there is an entry at 'dst'; it is counted
// as skipped.
func (tc *treeCopier) exists(dst string) bool {
	if _, err := os.Lstat(dst); err != nil {
		return false
	}
	tc.debug("skip %s: exists", dst)
	atomic.AddInt64(&tc.res.Skipped, 1)
	return true
}

// clear removes a non-directory at 'dst' unless it already is the
// same kind of entry as 'fi'
func (tc *treeCopier) clear(dst string, fi *cp.Info) {
	di, err := os.Lstat(dst)
	if err != nil || di.IsDir() || di.Mode().Type() == fi.Mode().Type() {
		return
	}
	os.Remove(dst)
}

// unlink removes a stale entry at 'dst' that isn't a link to 'orig'
func (tc *treeCopier) unlink(dst, orig string) {
	a, err := os.Lstat(dst)
	if err != nil || a.IsDir() {
		return
	}
	if b, err := os.Lstat(orig); err == nil && os.SameFile(a, b) {
		return
	}
	os.Remove(dst)
}

// fixDirs applies the attributes of every directory; children first.
func (tc *treeCopier) fixDirs() error {
	sort.Slice(tc.dirs, func(i, j int) bool {
		return tc.dirs[i].depth > tc.dirs[j].depth
	})

	var errs []error
	for _, d := range tc.dirs {
		// existing dirs keep their mode unless asked otherwise
		if (tc.preserve & cp.PRESERVE_MODE) == 0 {
			var perm fs.FileMode
			switch {
			case d.created:
				perm = d.fi.Mode().Perm() &^ tc.umask
			case d.restore != 0:
				perm = d.restore
			}

			if perm != 0 {
				if err := os.Chmod(d.dst, perm); err != nil {
					errs = append(errs, &Error{"chmod", d.fi.Name(), d.dst, err})
					continue
				}
			}
		}

		warn, err := tc.copier.Attrs(d.dst, d.fi, tc.preserve, tc.security)
		if err != nil {
			errs = append(errs, &Error{"attrs", d.fi.Name(), d.dst, err})
			continue
		}
		tc.warn(warn)
	}
	return errors.Join(errs...)
}

func (tc *treeCopier) warn(w []error) {
	if len(w) == 0 {
		return
	}

	tc.mu.Lock()
	tc.res.Warnings = append(tc.res.Warnings, w...)
	tc.mu.Unlock()

	for _, e := range w {
		tc.debug("warning: %s", e)
	}
}

func (tc *treeCopier) debug(s string, v ...any) {
	if tc.log != nil {
		tc.log.Debug(s, v...)
	}
}
