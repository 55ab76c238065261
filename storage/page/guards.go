package page

import (
	"sync/atomic"

	"github.com/besquared/poolish/types"
)

// Reader is the read-only capability shared by the blocking guards.
type Reader interface {
	ReadAt(dst []byte, off int) (int, error)
	Release()
}

// Writer adds mutation of the data zone.
type Writer interface {
	Reader
	WriteAt(src []byte, off int) (int, error)
}

var (
	_ Reader = (*SharedGuard)(nil)
	_ Writer = (*ExclusiveGuard)(nil)
)

// OptimisticReadGuard reads without taking the latch. Every read is checked
// against the version recorded when the guard was made; a writer that ran in
// between invalidates it.
type OptimisticReadGuard struct {
	frame   Frame
	latch   Latch
	version uint64
}

func (g *OptimisticReadGuard) Version() uint64 {
	return g.version
}

// TryRead copies len(dest) bytes from off. ok is false when a writer
// invalidated the snapshot; dest may then hold torn data.
func (g *OptimisticReadGuard) TryRead(off int, dest []byte) (n int, ok bool, err error) {
	if err := g.frame.checkRange(off, len(dest)); err != nil {
		return 0, false, err
	}
	g.latch.spinWhile(IsExclusive)
	n = copy(dest, g.frame.Data()[off:])
	if !g.latch.Validate(g.version) {
		return 0, false, nil
	}
	return n, true, nil
}

func (g *OptimisticReadGuard) Validate() bool {
	return g.latch.Validate(g.version)
}

// SharedGuard holds one reader slot of the latch until Release.
type SharedGuard struct {
	frame    Frame
	latch    Latch
	released atomic.Bool
}

func (g *SharedGuard) ReadAt(dst []byte, off int) (int, error) {
	if g.released.Load() {
		return 0, ErrGuardReleased
	}
	return g.frame.ReadAt(dst, off)
}

// Release drops the reader slot. Later calls are no-ops.
func (g *SharedGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.latch.ReleaseShared()
	}
}

// ExclusiveGuard holds the latch exclusively. Release bumps the version and
// marks the page dirty.
type ExclusiveGuard struct {
	frame    Frame
	latch    Latch
	released atomic.Bool
}

func (g *ExclusiveGuard) ReadAt(dst []byte, off int) (int, error) {
	if g.released.Load() {
		return 0, ErrGuardReleased
	}
	return g.frame.ReadAt(dst, off)
}

func (g *ExclusiveGuard) WriteAt(src []byte, off int) (int, error) {
	if g.released.Load() {
		return 0, ErrGuardReleased
	}
	return g.frame.WriteAt(src, off)
}

// Data exposes the data zone for in-place mutation. It is nil once the
// guard is released; the slice must not be kept past Release.
func (g *ExclusiveGuard) Data() []byte {
	if g.released.Load() {
		return nil
	}
	return g.frame.Data()
}

func (g *ExclusiveGuard) Frame() Frame {
	return g.frame
}

// Identity reads the page identity from the header.
func (g *ExclusiveGuard) Identity() (types.PageID, SizeClass, error) {
	return g.frame.Identity()
}

func (g *ExclusiveGuard) Released() bool {
	return g.released.Load()
}

func (g *ExclusiveGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.latch.ReleaseExclusive(true)
	}
}

// Abandon ends the guard without publishing anything: version and dirty
// bit stay as they were. The caller must not have written through it.
func (g *ExclusiveGuard) Abandon() {
	if g.released.CompareAndSwap(false, true) {
		g.latch.ReleaseExclusiveUnchanged()
	}
}

// Retire ends the guard for a frame leaving its page: the version bumps and
// the dirty bit clears. It reports false if the guard was already released.
func (g *ExclusiveGuard) Retire() bool {
	if !g.released.CompareAndSwap(false, true) {
		return false
	}
	g.latch.ReleaseRetired()
	return true
}
