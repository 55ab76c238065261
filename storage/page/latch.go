package page

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/besquared/poolish/common"
	"github.com/besquared/poolish/util/poolish_util"
)

// Latch is a versioned optimistic latch over a frame's VLDS word. Every
// transition is a compare-and-swap of the whole word; waiting happens by
// spinning outside the CAS.
type Latch struct {
	word      *atomic.Uint64
	spinLimit int
}

func NewLatch(word *atomic.Uint64, spinLimit int) Latch {
	if spinLimit <= 0 {
		spinLimit = common.DefaultSpinLimit
	}
	return Latch{word: word, spinLimit: spinLimit}
}

func (l Latch) Load() uint64 {
	return l.word.Load()
}

func (l Latch) State() uint64 {
	return VLDSState(l.Load())
}

func (l Latch) Version() uint64 {
	return VLDSVersion(l.Load())
}

func (l Latch) IsDirty() bool {
	return VLDSDirty(l.Load())
}

// spinWhile busy-waits until blocked returns false, yielding to the Go
// scheduler every spinLimit iterations so a latch holder parked on the same P
// can make progress.
func (l Latch) spinWhile(blocked func(state uint64) bool) {
	for i := 1; blocked(l.State()); i++ {
		if i%l.spinLimit == 0 {
			runtime.Gosched()
		}
	}
}

func (l Latch) spinWhileContext(ctx context.Context, blocked func(state uint64) bool) error {
	for i := 1; blocked(l.State()); i++ {
		if i%l.spinLimit == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		}
	}
	return nil
}

// TryAcquireExclusive makes one attempt at Open -> Exclusive.
func (l Latch) TryAcquireExclusive() bool {
	w := l.Load()
	if !IsOpen(VLDSState(w)) {
		return false
	}
	return l.word.CompareAndSwap(w, withState(w, StateExclusive))
}

func (l Latch) AcquireExclusive() {
	for !l.TryAcquireExclusive() {
		l.spinWhile(notOpen)
	}
}

func (l Latch) AcquireExclusiveContext(ctx context.Context) error {
	for !l.TryAcquireExclusive() {
		if err := l.spinWhileContext(ctx, notOpen); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseExclusive opens the latch and bumps the version. The CAS publishes
// every write made to the data zone while the latch was held.
func (l Latch) ReleaseExclusive(markDirty bool) {
	for {
		w := l.Load()
		poolish_util.PoolishAssert(IsExclusive(VLDSState(w)), "release of a latch not held exclusively")
		next := withVersion(withState(w, StateOpen), VLDSVersion(w)+1)
		if markDirty {
			next = withDirty(next, true)
		}
		if l.word.CompareAndSwap(w, next) {
			return
		}
	}
}

// ReleaseExclusiveUnchanged opens the latch leaving version and dirty bit as
// they were before the acquire. Only for sections that wrote nothing.
func (l Latch) ReleaseExclusiveUnchanged() {
	for {
		w := l.Load()
		poolish_util.PoolishAssert(IsExclusive(VLDSState(w)), "release of a latch not held exclusively")
		if l.word.CompareAndSwap(w, withState(w, StateOpen)) {
			return
		}
	}
}

// ReleaseRetired ends the exclusive section of a frame that is leaving its
// page: version bumps, latch opens, dirty clears.
func (l Latch) ReleaseRetired() {
	for {
		w := l.Load()
		poolish_util.PoolishAssert(IsExclusive(VLDSState(w)), "retire of a latch not held exclusively")
		next := PackVLDS(VLDSVersion(w)+1, StateOpen, false)
		if l.word.CompareAndSwap(w, next) {
			return
		}
	}
}

// TryAcquireShared makes one attempt at Open -> Shared(1) or Shared(n) -> Shared(n+1).
func (l Latch) TryAcquireShared() bool {
	w := l.Load()
	state := VLDSState(w)
	var next uint64
	switch {
	case IsOpen(state):
		next = withState(w, 2)
	case IsShared(state) && SharedHolders(state) < MaxSharedHolders:
		next = withState(w, state+1)
	default:
		return false
	}
	return l.word.CompareAndSwap(w, next)
}

func (l Latch) AcquireShared() {
	for !l.TryAcquireShared() {
		l.spinWhile(sharedBlocked)
	}
}

func (l Latch) AcquireSharedContext(ctx context.Context) error {
	for !l.TryAcquireShared() {
		if err := l.spinWhileContext(ctx, sharedBlocked); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseShared drops one reader; the last reader opens the latch. The version is untouched.
func (l Latch) ReleaseShared() {
	for {
		w := l.Load()
		state := VLDSState(w)
		poolish_util.PoolishAssert(IsShared(state), "release of a latch not held shared")
		next := withState(w, state-1)
		if state == 2 {
			next = withState(w, StateOpen)
		}
		if l.word.CompareAndSwap(w, next) {
			return
		}
	}
}

// Snapshot starts an optimistic read.
func (l Latch) Snapshot() uint64 {
	return l.Version()
}

// Validate reports whether no exclusive section completed or is running since the snapshot.
func (l Latch) Validate(version uint64) bool {
	w := l.Load()
	return VLDSVersion(w) == version && !IsExclusive(VLDSState(w))
}

// MarkClean clears the dirty bit once a page store persisted the page.
func (l Latch) MarkClean() {
	l.setDirty(false)
}

func (l Latch) MarkDirty() {
	l.setDirty(true)
}

func (l Latch) setDirty(dirty bool) {
	for {
		w := l.Load()
		if VLDSDirty(w) == dirty || l.word.CompareAndSwap(w, withDirty(w, dirty)) {
			return
		}
	}
}

func notOpen(state uint64) bool {
	return !IsOpen(state)
}

func sharedBlocked(state uint64) bool {
	return IsExclusive(state) || SharedHolders(state) >= MaxSharedHolders
}
