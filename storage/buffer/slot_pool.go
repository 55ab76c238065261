package buffer

import (
	"context"
	"fmt"
	"unsafe"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/viney-shih/go-lock"
	"golang.org/x/sys/unix"

	"github.com/besquared/poolish/storage/page"
	"github.com/besquared/poolish/util/poolish_util"
)

type (
	// SlotPool carves one anonymous mapping into equally sized slots of a
	// single class. Slots are named by index; the mapping is never moved or
	// resized while the pool is open, so a slot keeps its address for life.
	SlotPool struct {
		class    page.SizeClass
		slotSize uint64
		region   []byte  // nil for an empty pool
		base     uintptr // address of region[0]
		nslots   int

		mu   *lock.CASMutex  // guards free, used and gens
		free *slotQueue      // FIFO, oldest freed slot first
		used mapset.Set[int] // slots handed out
		gens []uint64        // times each slot was handed out
	}
)

// NewSlotPool maps poolSize bytes for class. A zero poolSize yields a pool
// that is always exhausted.
func NewSlotPool(class page.SizeClass, poolSize uint64) (*SlotPool, error) {
	if !class.IsValid() {
		return nil, fmt.Errorf("slot pool for %s: %w", class, page.ErrClassOutOfRange)
	}
	slotSize := class.Size()
	if poolSize%slotSize != 0 {
		return nil, fmt.Errorf("pool of %d bytes for %s: %w", poolSize, class, ErrBadPoolSize)
	}

	p := &SlotPool{
		class:    class,
		slotSize: slotSize,
		nslots:   int(poolSize / slotSize),
		mu:       lock.NewCASMutex(),
		used:     mapset.NewThreadUnsafeSet[int](),
	}
	p.free = newSlotQueue(p.nslots)
	p.gens = make([]uint64, p.nslots)

	if p.nslots > 0 {
		region, err := unix.Mmap(-1, 0, int(poolSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
		if err != nil {
			return nil, fmt.Errorf("mmap %d bytes for %s: %w", poolSize, class, err)
		}
		p.region = region
		p.base = uintptr(unsafe.Pointer(&region[0]))
	}
	for i := 0; i < p.nslots; i++ {
		p.free.PushBack(i)
	}
	return p, nil
}

func (p *SlotPool) Class() page.SizeClass {
	return p.class
}

func (p *SlotPool) Capacity() int {
	return p.nslots
}

func (p *SlotPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.free.Len()
}

func (p *SlotPool) UsedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used.Cardinality()
}

func (p *SlotPool) IsUsed(idx int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used.Contains(idx)
}

// Alloc hands out the slot freed longest ago. ok is false when the pool is exhausted.
func (p *SlotPool) Alloc() (idx int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocLocked()
}

// AllocContext is Alloc with a bounded wait on the pool lock.
func (p *SlotPool) AllocContext(ctx context.Context) (idx int, ok bool, err error) {
	if !p.mu.TryLockWithContext(ctx) {
		return 0, false, ctx.Err()
	}
	defer p.mu.Unlock()
	idx, ok = p.allocLocked()
	return idx, ok, nil
}

func (p *SlotPool) allocLocked() (int, bool) {
	idx, ok := p.free.PopFront()
	if !ok {
		return 0, false
	}
	p.used.Add(idx)
	p.gens[idx]++
	return idx, true
}

// Generation counts how often slot idx was handed out. It only changes on
// Alloc, so a holder of the slot sees a stable value.
func (p *SlotPool) Generation(idx int) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.gens) {
		return 0
	}
	return p.gens[idx]
}

// Free returns a slot to the back of the free queue. It reports false and
// changes nothing if the slot is not in use.
func (p *SlotPool) Free(idx int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.used.Contains(idx) {
		return false
	}
	p.used.Remove(idx)
	p.free.PushBack(idx)
	return true
}

// Slot describes slot idx. It panics if idx is out of range.
func (p *SlotPool) Slot(idx int) page.Slot {
	if idx < 0 || idx >= p.nslots {
		panic(fmt.Sprintf("slot %d out of range for %s pool of %d", idx, p.class, p.nslots))
	}
	return page.Slot{Class: p.class, Index: idx, Addr: p.base + uintptr(idx)*uintptr(p.slotSize)}
}

// Frame is the bounds-checked accessor to the bytes of slot idx.
func (p *SlotPool) Frame(idx int) (page.Frame, error) {
	if idx < 0 || idx >= p.nslots {
		return page.Frame{}, fmt.Errorf("slot %d of %s pool of %d: %w", idx, p.class, p.nslots, page.ErrOutOfBounds)
	}
	off := uint64(idx) * p.slotSize
	return page.NewFrame(p.region[off : off+p.slotSize : off+p.slotSize])
}

// IndexOf maps a slot address back to its index.
func (p *SlotPool) IndexOf(addr uintptr) (int, bool) {
	if p.nslots == 0 || addr < p.base {
		return 0, false
	}
	off := uint64(addr - p.base)
	if off%p.slotSize != 0 || off/p.slotSize >= uint64(p.nslots) {
		return 0, false
	}
	return int(off / p.slotSize), true
}

// String renders the pool and its in-use slots, e.g. "class12(4096B) 2/4 used [0,3]".
func (p *SlotPool) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("%s %d/%d used [%s]", p.class, p.used.Cardinality(), p.nslots, poolish_util.IntSetToString(p.used))
}

// Close unmaps the region. Frames handed out by the pool must not be used afterwards.
func (p *SlotPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.region == nil {
		return nil
	}
	err := unix.Munmap(p.region)
	p.region = nil
	p.nslots = 0
	p.free = newSlotQueue(0)
	p.gens = nil
	p.used.Clear()
	return err
}
