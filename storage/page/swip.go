package page

import (
	"fmt"
	"sync/atomic"

	"github.com/besquared/poolish/types"
	"github.com/besquared/poolish/util/poolish_util"
)

// In-frame handle word layout (fizzled):
//
//	| page id (57 bits) | class id (6 bits) | tag (1 bit) = 1 |
//
// A swizzled word is the slot address itself; slots are 4KiB aligned so its tag bit is 0.
const (
	swipTagBits   = 1
	swipClassBits = 6
	swipClassMask = uint64(0x7E)
	swipPidShift  = swipTagBits + swipClassBits
)

func PackSWIP(pid types.PageID, class SizeClass) uint64 {
	w := (uint64(pid) << swipPidShift) | ((uint64(class) << swipTagBits) & swipClassMask)
	return poolish_util.SetTag(w)
}

func IsFizzledWord(w uint64) bool {
	return poolish_util.IsTagged(w)
}

func UnpackSWIP(w uint64) (types.PageID, SizeClass, error) {
	if !IsFizzledWord(w) {
		return types.InvalidPageID, 0, fmt.Errorf("word %#x: %w", w, ErrNotFizzled)
	}
	pid := types.PageID(w >> swipPidShift)
	class := SizeClass((poolish_util.UnsetTag(w) & swipClassMask) >> swipTagBits)
	if !class.IsValid() {
		return types.InvalidPageID, 0, fmt.Errorf("word %#x carries class %d: %w", w, uint8(class), ErrClassOutOfRange)
	}
	return pid, class, nil
}

// Slot addresses one fixed-size slot of a class pool.
type Slot struct {
	Class SizeClass
	Index int
	Addr  uintptr
}

// SWIP is the logical state of a page handle: Fizzled or Swizzled.
type SWIP interface {
	PageID() types.PageID
	Class() SizeClass
	// Word is the single machine word encoding of the state.
	Word() uint64
	isSWIP()
}

// Fizzled names a page that is not resident.
type Fizzled struct {
	PID types.PageID
	Cls SizeClass
}

func (f Fizzled) PageID() types.PageID { return f.PID }
func (f Fizzled) Class() SizeClass     { return f.Cls }
func (f Fizzled) Word() uint64         { return PackSWIP(f.PID, f.Cls) }
func (Fizzled) isSWIP()                {}

// Swizzled names a resident page by the slot that holds it.
type Swizzled struct {
	PID  types.PageID
	Slot Slot
}

func (s Swizzled) PageID() types.PageID { return s.PID }
func (s Swizzled) Class() SizeClass     { return s.Slot.Class }
func (s Swizzled) Word() uint64         { return uint64(s.Slot.Addr) }
func (Swizzled) isSWIP()                {}

// PageHandle is a swizzlable page reference. It is safe for concurrent use;
// state transitions are compare-and-swap so a handle swizzles at most once
// per allocation.
type PageHandle struct {
	state atomic.Pointer[SWIP]
}

func NewFizzledHandle(pid types.PageID, class SizeClass) *PageHandle {
	h := &PageHandle{}
	var s SWIP = Fizzled{PID: pid, Cls: class}
	h.state.Store(&s)
	return h
}

func NewSwizzledHandle(pid types.PageID, slot Slot) *PageHandle {
	h := &PageHandle{}
	var s SWIP = Swizzled{PID: pid, Slot: slot}
	h.state.Store(&s)
	return h
}

func (h *PageHandle) load() *SWIP {
	return h.state.Load()
}

func (h *PageHandle) SWIP() SWIP {
	return *h.load()
}

func (h *PageHandle) IsFizzled() bool {
	_, ok := h.SWIP().(Fizzled)
	return ok
}

func (h *PageHandle) IsSwizzled() bool {
	_, ok := h.SWIP().(Swizzled)
	return ok
}

func (h *PageHandle) PageID() types.PageID {
	return h.SWIP().PageID()
}

func (h *PageHandle) Class() SizeClass {
	return h.SWIP().Class()
}

func (h *PageHandle) Word() uint64 {
	return h.SWIP().Word()
}

// Swizzle moves a fizzled handle onto a slot. It fails if the handle is not
// in the fizzled state observed by the caller.
func (h *PageHandle) Swizzle(from Fizzled, slot Slot) bool {
	cur := h.load()
	if f, ok := (*cur).(Fizzled); !ok || f != from {
		return false
	}
	var next SWIP = Swizzled{PID: from.PID, Slot: slot}
	return h.state.CompareAndSwap(cur, &next)
}

// Fizzle moves a swizzled handle back to its logical identity.
func (h *PageHandle) Fizzle(from Swizzled) bool {
	cur := h.load()
	if s, ok := (*cur).(Swizzled); !ok || s != from {
		return false
	}
	var next SWIP = Fizzled{PID: from.PID, Cls: from.Slot.Class}
	return h.state.CompareAndSwap(cur, &next)
}

func (h *PageHandle) String() string {
	switch s := h.SWIP().(type) {
	case Fizzled:
		return fmt.Sprintf("fizzled(pid=%d, %s)", s.PID, s.Cls)
	case Swizzled:
		return fmt.Sprintf("swizzled(pid=%d, %s, slot=%d, addr=%#x)", s.PID, s.Slot.Class, s.Slot.Index, s.Slot.Addr)
	}
	return "invalid"
}
