// hardlink.go -- tracking & recreating hardlinks
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

package tree

import (
	"fmt"

	cp "github.com/opencoff/go-cp"
	"github.com/puzpuzpuz/xsync/v3"
)

// We track hardlinked files using the src file's properties.
// The first destination seen for an inode gets the content; every
// later name for that inode is recorded against the first one in
// 'links' and linked after all the copies are done.
type hardlinker struct {
	// tracks src dev:inode -> first dst
	m *xsync.MapOf[string, string]

	// stores the map of new_dst -> first dst
	links *xsync.MapOf[string, string]
}

func newHardlinker() *hardlinker {
	h := &hardlinker{
		m:     xsync.NewMapOf[string, string](),
		links: xsync.NewMapOf[string, string](),
	}
	return h
}

func key(fi *cp.Info) string {
	return fmt.Sprintf("%d:%d", fi.Dev, fi.Ino)
}

// track returns true if 'dst' must be a link to an earlier copy
// instead of a copy of its own.
func (h *hardlinker) track(src *cp.Info, dst string) bool {
	if src.Nlink <= 1 || !src.IsRegular() {
		return false
	}

	orig, loaded := h.m.LoadOrStore(key(src), dst)
	if !loaded {
		return false
	}

	h.links.Store(dst, orig)
	return true
}

// hardlinks calls 'fp' for every deferred link
func (h *hardlinker) hardlinks(fp func(dst, orig string)) {
	h.links.Range(func(dst, orig string) bool {
		fp(dst, orig)
		return true
	})
}

// count returns the number of deferred links
func (h *hardlinker) count() int {
	return h.links.Size()
}
