// copier.go - copy one file system entry
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
	"path/filepath"
	"syscall"
)

// Copier copies one file at a time. It holds no per-copy state and
// is safe for concurrent use.
type Copier struct {
	cfg Config
	be  Backend
	lb  Labeler
}

// Option configures a Copier
type Option func(c *Copier)

// WithBackend replaces the platform backend (eg. with Portable())
func WithBackend(b Backend) Option {
	return func(c *Copier) {
		c.be = b
	}
}

// WithLabeler replaces the SELinux labeler
func WithLabeler(l Labeler) Option {
	return func(c *Copier) {
		c.lb = l
	}
}

// New makes a Copier that uses the platform backend and SELinux
// unless overridden by 'opts'.
func New(cfg Config, opts ...Option) *Copier {
	c := &Copier{
		cfg: cfg,
		be:  PlatformBackend(),
		lb:  SELinuxLabeler(),
	}

	for _, fp := range opts {
		fp(c)
	}
	return c
}

// Config returns the copier's configuration
func (c *Copier) Config() Config {
	return c.cfg
}

// Backend returns the backend in use
func (c *Copier) Backend() Backend {
	return c.be
}

// Request describes one copy
type Request struct {
	Src string
	Dst string

	Reflink ReflinkMode
	Sparse  SparseMode

	Preserve Preserve
	Security SecurityRequest

	// Context is used to annotate I/O errors; the default
	// is "'Src' -> 'Dst'"
	Context string

	// SourceIsFifo is set when Src is a named pipe
	SourceIsFifo bool

	// SourceIsStream is set when Src has no trustworthy size
	// (eg. a pipe or /dev/fd/N)
	SourceIsStream bool
}

func (r *Request) context() string {
	if len(r.Context) > 0 {
		return r.Context
	}
	return fmt.Sprintf("'%s' -> '%s'", r.Src, r.Dst)
}

// Copy copies the content of r.Src to r.Dst and then replicates the
// requested attributes. Unsupported modes and invalid security
// contexts are rejected before the destination is touched. Regular
// files are committed atomically; a failed copy leaves an existing
// destination as it was.
func (c *Copier) Copy(r *Request) (*Result, error) {
	ctx := r.context()
	caps := c.be.Caps()

	if err := checkCaps(caps, r.Reflink, r.Sparse); err != nil {
		return nil, err
	}

	sec := r.Security.Resolve(r.Preserve)
	if err := c.validate(sec); err != nil {
		return nil, err
	}

	stream := r.SourceIsStream || r.SourceIsFifo

	// the source's stat info is only needed for attributes and
	// to discover the type of the source.
	var fi Info
	xattrs := !stream && (r.Preserve&PRESERVE_XATTR) != 0
	if err := statm(r.Src, &fi, true, xattrs); err != nil {
		return nil, withContext(&IOError{Op: "stat-src", Err: err}, ctx)
	}

	// we can't size anything other than regular files
	if !fi.IsRegular() {
		stream = true
	}

	var dst string
	var err error

	res := &Result{
		Debug: idleDebug(caps),
	}

	if !stream && isStreamNode(dstMode(r.Dst)) {
		stream = true
	}

	if stream {
		dst, err = c.copyFromStream(r)
	} else {
		dst, res.Debug, err = c.copyRegular(r, &fi)
	}

	if err != nil {
		return nil, withContext(err, ctx)
	}

	// without the source's xattrs, replacing would only delete the
	// destination's own
	p := r.Preserve
	if !xattrs {
		p &^= PRESERVE_XATTR
	}

	res.Warnings, err = c.applyAttrs(dst, &fi, p, sec)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CopySpecial recreates a symlink, fifo or device node at r.Dst
// without reading through it and then replicates its attributes.
func (c *Copier) CopySpecial(r *Request) (*Result, error) {
	ctx := r.context()

	sec := r.Security.Resolve(r.Preserve)
	if err := c.validate(sec); err != nil {
		return nil, err
	}

	var fi Info
	if err := statm(r.Src, &fi, false, (r.Preserve&PRESERVE_XATTR) != 0); err != nil {
		return nil, withContext(&IOError{Op: "lstat-src", Err: err}, ctx)
	}

	var err error

	m := fi.Mode()
	switch m.Type() {
	case fs.ModeSymlink:
		err = Symlink(r.Dst, r.Src)

	case fs.ModeNamedPipe, fs.ModeDevice, fs.ModeDevice | fs.ModeCharDevice:
		err = Mknod(r.Dst, &fi)

	default:
		err = &LinkError{"mknod", r.Src, r.Dst, fmt.Errorf("unsupported file type %s", m.Type())}
	}

	if err != nil {
		return nil, withContext(err, ctx)
	}

	res := &Result{
		Debug: idleDebug(c.be.Caps()),
	}

	res.Warnings, err = c.applyAttrs(r.Dst, &fi, r.Preserve, sec)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// copyRegular copies a regular file into a SafeFile at the symlink
// resolved destination. It returns the committed path.
func (c *Copier) copyRegular(r *Request, fi *Info) (string, CopyDebug, error) {
	var dbg CopyDebug

	s, err := os.Open(r.Src)
	if err != nil {
		return "", dbg, &IOError{Op: "open-src", Err: err}
	}
	defer s.Close()

	dst := resolveDst(r.Dst)

	// an existing destination keeps its permissions; new files get
	// the source's less the umask.
	perm := fi.Mode().Perm() &^ c.cfg.Umask
	if di, err := os.Stat(dst); err == nil {
		if di.IsDir() {
			return "", dbg, &IOError{Op: "open-dst", Err: &fs.PathError{Op: "open", Path: dst, Err: syscall.EISDIR}}
		}
		perm = di.Mode().Perm()
	}

	d, err := NewSafeFile(dst, OPT_OVERWRITE, 0600)
	if err != nil {
		return "", dbg, &IOError{Op: "open-dst", Err: err}
	}
	defer d.Abort()

	dbg, err = c.be.CopyRegular(d, s, fi.Size(), r.Reflink, r.Sparse)
	if err != nil {
		return "", dbg, err
	}

	if err = d.Chmod(perm); err != nil {
		return "", dbg, &IOError{Op: "chmod-dst", Err: err}
	}

	if err = d.Close(); err != nil {
		return "", dbg, &IOError{Op: "commit-dst", Err: err}
	}
	return dst, dbg, nil
}

// resolveDst follows symlinks at the destination so that we write
// the file they point to. Dangling links resolve to their target
// name.
func resolveDst(p string) string {
	if nm, err := filepath.EvalSymlinks(p); err == nil {
		return nm
	}

	targ, err := os.Readlink(p)
	if err != nil {
		return p
	}
	if !filepath.IsAbs(targ) {
		targ = filepath.Join(filepath.Dir(p), targ)
	}
	return targ
}

// dstMode returns the mode of the destination or 0 if it doesn't exist
func dstMode(p string) fs.FileMode {
	if fi, err := os.Stat(p); err == nil {
		return fi.Mode()
	}
	return 0
}
