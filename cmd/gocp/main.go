// main.go - gocp: a cp(1) built on go-cp
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

package main

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	cp "github.com/opencoff/go-cp"
	"github.com/opencoff/go-cp/tree"
	"github.com/opencoff/go-cp/walk"
	"github.com/opencoff/go-logger"
	"github.com/opencoff/go-utils"
	flag "github.com/opencoff/pflag"
)

var Z = path.Base(os.Args[0])

// --context without a value; pflag needs a non-empty marker
const ctxDefault = "\x00default"

type config struct {
	recursive bool
	verbose   bool
	debug     bool
	noClobber bool
	deref     bool
	oneFS     bool
	ncpu      int

	reflink  cp.ReflinkMode
	sparse   cp.SparseMode
	preserve cp.Preserve
	security cp.SecurityRequest

	copier *cp.Copier
	log    logger.Logger
}

func main() {
	var help, recursive, archive, preserveDef, defCtx, verbose, debug bool
	var noClobber, deref, oneFS, strict bool
	var reflink, sparse, preserve, context, logfile string
	var ncpu int

	fs := flag.NewFlagSet(Z, flag.ExitOnError)

	fs.BoolVarP(&help, "help", "h", false, "Show help and exit [False]")
	fs.BoolVarP(&recursive, "recursive", "r", false, "Copy directories recursively [False]")
	fs.BoolVarP(&archive, "archive", "a", false, "Same as -r --preserve=all [False]")
	fs.BoolVarP(&preserveDef, "preserve-default", "p", false, "Same as --preserve=mode,ownership,timestamps [False]")
	fs.StringVarP(&preserve, "preserve", "", "", "Preserve the attributes in `LIST`")
	defReflink := cp.DefaultReflinkMode(cp.PlatformBackend().Caps())

	fs.StringVarP(&reflink, "reflink", "", defReflink.String(), "Control copy-on-write clones; `WHEN` is one of auto, always, never")
	fs.StringVarP(&sparse, "sparse", "", "auto", "Control creation of sparse files; `WHEN` is one of auto, always, never")
	fs.BoolVarP(&defCtx, "default-context", "Z", false, "Set the security context of the destination to the default [False]")
	fs.StringVarP(&context, "context", "", "", "Set the security context of the destination to `CTX`")
	fs.BoolVarP(&noClobber, "no-clobber", "n", false, "Don't overwrite existing files [False]")
	fs.BoolVarP(&deref, "dereference", "L", false, "Follow symlinks in the source [False]")
	fs.BoolVarP(&oneFS, "one-file-system", "x", false, "Stay on the file system of each source dir [False]")
	fs.BoolVarP(&verbose, "verbose", "v", false, "Explain what is being done [False]")
	fs.BoolVarP(&debug, "debug", "", false, "Explain how each file is copied; implies -v [False]")
	fs.BoolVarP(&strict, "strict", "", false, "Treat every attribute failure as fatal [False]")
	fs.StringVarP(&logfile, "log", "", "", "Write a debug log to `F` (STDOUT for the terminal)")
	fs.IntVarP(&ncpu, "concurrency", "c", runtime.NumCPU(), "Use upto `N` concurrent copies for -r")

	fs.Lookup("reflink").NoOptDefVal = "always"
	fs.Lookup("context").NoOptDefVal = ctxDefault

	fs.SetOutput(os.Stdout)

	err := fs.Parse(os.Args[1:])
	if err != nil {
		Die("%s", err)
	}

	if help {
		usage(fs)
	}

	args := fs.Args()
	if len(args) < 2 {
		Die("missing file operand\nTry '%s --help' for more information.", Z)
	}

	cfg := &config{
		recursive: recursive || archive,
		verbose:   verbose || debug,
		debug:     debug,
		noClobber: noClobber,
		deref:     deref,
		oneFS:     oneFS,
		ncpu:      ncpu,
	}

	if cfg.reflink, err = cp.ParseReflinkMode(reflink); err != nil {
		Die("%s", err)
	}
	if cfg.sparse, err = cp.ParseSparseMode(sparse); err != nil {
		Die("%s", err)
	}

	switch {
	case archive:
		cfg.preserve = cp.PRESERVE_ALL
	case preserveDef:
		cfg.preserve = cp.PRESERVE_DEFAULT
	}

	if fs.Changed("preserve") {
		p, err := cp.ParsePreserve(preserve)
		if err != nil {
			Die("%s", err)
		}
		cfg.preserve |= p
	}

	cfg.security = cp.SecurityRequest{
		Default:    defCtx,
		SetContext: fs.Changed("context"),
	}
	if context != ctxDefault {
		cfg.security.Context = context
	}

	if len(logfile) > 0 {
		cfg.log, err = logger.NewLogger(logfile, logger.LOG_DEBUG, Z, logger.Ldate|logger.Ltime|logger.Lmicroseconds|logger.Lfileloc)
		if err != nil {
			Die("logfile: %s", err)
		}
		defer cfg.log.Close()
	}

	ccfg := cp.DefaultConfig()
	ccfg.StrictAttrs = strict
	cfg.copier = cp.New(ccfg)

	srcs := args[:len(args)-1]
	dst := args[len(args)-1]

	dstDir := isDir(dst)
	if len(srcs) > 1 && !dstDir {
		Die("target '%s' is not a directory", dst)
	}

	cfg.info("%s: %d sources -> %s; reflink=%s sparse=%s preserve=%s",
		Z, len(srcs), dst, cfg.reflink, cfg.sparse, cfg.preserve)

	var nerr int
	for _, src := range srcs {
		targ := dst
		if dstDir {
			targ = filepath.Join(dst, filepath.Base(strings.TrimSuffix(src, "/")))
		}

		if err := cfg.copy(targ, src); err != nil {
			Warn("cannot copy '%s' to '%s': %s", src, targ, err)
			nerr++
		}
	}

	if nerr > 0 {
		if cfg.log != nil {
			cfg.log.Close()
		}
		os.Exit(1)
	}
}

// copy one command line argument
func (cfg *config) copy(dst, src string) error {
	stat := os.Lstat
	if cfg.deref {
		stat = os.Stat
	}

	fi, err := stat(src)
	if err != nil {
		return err
	}

	if fi.IsDir() {
		if !cfg.recursive {
			return fmt.Errorf("-r not specified; omitting directory")
		}
		return cfg.copyTree(dst, src)
	}

	if cfg.noClobber {
		if _, err := os.Lstat(dst); err == nil {
			cfg.info("skip '%s': exists", dst)
			return nil
		}
	}

	r := &cp.Request{
		Src:      src,
		Dst:      dst,
		Reflink:  cfg.reflink,
		Sparse:   cfg.sparse,
		Preserve: cfg.preserve,
		Security: cfg.security,
	}

	var res *cp.Result

	m := fi.Mode()
	switch {
	case m.Type() == fs.ModeSymlink && cfg.recursive:
		res, err = cfg.copier.CopySpecial(r)

	default:
		r.SourceIsFifo = (m & fs.ModeNamedPipe) != 0
		r.SourceIsStream = r.SourceIsFifo || isStream(src, m)
		res, err = cfg.copier.Copy(r)
	}

	if err != nil {
		return err
	}

	var size int64
	if m.IsRegular() && !r.SourceIsStream {
		size = fi.Size()
	}
	cfg.report(src, dst, size, res)
	return nil
}

func (cfg *config) copyTree(dst, src string) error {
	wo := walk.Options{
		Concurrency:    cfg.ncpu,
		FollowSymlinks: cfg.deref,
		OneFS:          cfg.oneFS,
	}

	opts := []tree.Option{
		tree.WithCopier(cfg.copier),
		tree.WithWalkOptions(wo),
		tree.WithModes(cfg.reflink, cfg.sparse),
		tree.WithPreserve(cfg.preserve, cfg.security),
		tree.WithOverwrite(!cfg.noClobber),
	}
	if cfg.log != nil {
		opts = append(opts, tree.WithLogger(cfg.log))
	}

	res, err := tree.Copy(dst, src, opts...)
	if res != nil {
		if cfg.verbose {
			fmt.Printf("'%s' -> '%s': %d files (%s), %d dirs, %d links, %d special\n",
				src, dst, res.Files, utils.HumanizeSize(uint64(res.Bytes)), res.Dirs, res.Links, res.Special)
		}
		for _, w := range res.Warnings {
			Warn("%s", w)
		}
	}
	return err
}

func (cfg *config) report(src, dst string, size int64, res *cp.Result) {
	if cfg.verbose {
		if size > 0 {
			fmt.Printf("'%s' -> '%s' (%s)\n", src, dst, utils.HumanizeSize(uint64(size)))
		} else {
			fmt.Printf("'%s' -> '%s'\n", src, dst)
		}
	}
	if cfg.debug {
		fmt.Printf("%s\n", res.Debug)
	}
	for _, w := range res.Warnings {
		Warn("%s", w)
	}
	cfg.info("'%s' -> '%s': %s", src, dst, res.Debug)
}

func (cfg *config) info(s string, v ...any) {
	if cfg.log != nil {
		cfg.log.Info(s, v...)
	}
}

// isStream returns true for sources whose size can't be trusted
func isStream(nm string, m fs.FileMode) bool {
	if (m & (fs.ModeCharDevice | fs.ModeNamedPipe | fs.ModeSocket)) != 0 {
		return true
	}

	for _, pref := range []string{"/dev/fd/", "/proc/", "/sys/", "/dev/stdin"} {
		if strings.HasPrefix(nm, pref) {
			return true
		}
	}
	return false
}

func isDir(nm string) bool {
	fi, err := os.Stat(nm)
	return err == nil && fi.IsDir()
}

func usage(fs *flag.FlagSet) {
	fmt.Printf(usageStr, Z, Z)
	fs.PrintDefaults()
	os.Exit(0)
}

// Die prints an error message and exits
func Die(f string, v ...any) {
	Warn(f, v...)
	os.Exit(1)
}

// Warn prints a message to stderr
func Warn(f string, v ...any) {
	z := fmt.Sprintf("%s: %s", Z, f)
	s := fmt.Sprintf(z, v...)
	if n := len(s); s[n-1] != '\n' {
		s += "\n"
	}
	os.Stderr.WriteString(s)
}

var usageStr = `%s - copy files and directories.

Copy SRC to DST, or multiple SRCs into the directory DST. Regular files
are cloned (copy-on-write) when the file system allows it and are
committed atomically.

Usage: %s [options] SRC [SRC...] DST

Options:
`
