package disk

import (
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/besquared/poolish/storage/page"
	"github.com/besquared/poolish/types"
)

// extent is the place of one page image in a store file. Extents are one
// slot long, so every offset stays aligned to the smallest class.
type extent struct {
	offset int64
	class  page.SizeClass
}

type (
	// extentTable maps page ids to extents and recycles the extents of
	// discarded pages per class.
	extentTable struct {
		extents *xsync.MapOf[types.PageID, extent]

		mu   sync.Mutex // guards free and end
		free [page.NumSizeClasses][]int64
		end  int64 // first byte past the last extent
	}
)

func newExtentTable() *extentTable {
	return &extentTable{extents: xsync.NewMapOf[types.PageID, extent]()}
}

// lookup finds the extent of pid and checks it was stored with class.
func (t *extentTable) lookup(pid types.PageID, class page.SizeClass) (extent, error) {
	ext, ok := t.extents.Load(pid)
	if !ok {
		return extent{}, fmt.Errorf("page %v: %w", pid, ErrPageNotFound)
	}
	if ext.class != class {
		return extent{}, fmt.Errorf("page %v stored as %s, asked for %s: %w", pid, ext.class, class, ErrClassMismatch)
	}
	return ext, nil
}

// place returns the extent pid should be written to, reusing its current
// one when the class is unchanged.
func (t *extentTable) place(pid types.PageID, class page.SizeClass) extent {
	ext, _ := t.extents.Compute(pid, func(old extent, loaded bool) (extent, bool) {
		if loaded && old.class == class {
			return old, false
		}
		if loaded {
			t.release(old)
		}
		return extent{offset: t.reserve(class), class: class}, false
	})
	return ext
}

// discard forgets pid. It reports whether pid had an extent.
func (t *extentTable) discard(pid types.PageID) bool {
	ext, ok := t.extents.LoadAndDelete(pid)
	if ok {
		t.release(ext)
	}
	return ok
}

func (t *extentTable) reserve(class page.SizeClass) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	free := t.free[class.Index()]
	if n := len(free); n > 0 {
		off := free[n-1]
		t.free[class.Index()] = free[:n-1]
		return off
	}
	off := t.end
	t.end += int64(class.Size())
	return off
}

func (t *extentTable) release(ext extent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.free[ext.class.Index()] = append(t.free[ext.class.Index()], ext.offset)
}

func (t *extentTable) size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.end
}

func (t *extentTable) count() int {
	return t.extents.Size()
}
