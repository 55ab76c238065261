package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/besquared/poolish/common"
	"github.com/besquared/poolish/storage/page"
)

type (
	// BufferManager owns one slot pool per size class and binds logical pages
	// to slots. It is safe for concurrent use.
	BufferManager struct {
		pools     [page.NumSizeClasses]*SlotPool
		pids      *PageIDAllocator
		store     PageStore // nil: cold fetch and eviction are unavailable
		usedBytes atomic.Uint64
		spinLimit int
		log       *zap.Logger
	}

	ClassStats struct {
		Class    page.SizeClass
		Capacity int
		Free     int
		Used     int
	}

	Stats struct {
		UsedBytes uint64
		// Classes lists the classes with a non-empty pool, smallest first.
		Classes []ClassStats
	}
)

// NewBufferManager maps the pools described by cfg. store may be nil.
func NewBufferManager(cfg *common.Config, store PageStore) (*BufferManager, error) {
	if cfg == nil {
		cfg = common.DefaultConfig()
	}
	bm := &BufferManager{
		pids:      NewPageIDAllocator(),
		store:     store,
		spinLimit: cfg.SpinLimit,
		log:       common.LoggerAt(cfg.LogLevel).Named("buffer"),
	}

	var mapped uint64
	for i := range bm.pools {
		class, err := page.SizeClassAt(i)
		if err != nil {
			return nil, multierr.Append(err, bm.closePools())
		}
		size := cfg.PoolSizeOf(class.ID())
		pool, err := NewSlotPool(class, size)
		if err != nil {
			return nil, multierr.Append(err, bm.closePools())
		}
		bm.pools[i] = pool
		mapped += size
	}

	bm.log.Info("buffer manager ready",
		zap.Uint64("mappedBytes", mapped),
		zap.Bool("pageStore", store != nil),
		zap.Int("spinLimit", bm.spinLimit))
	return bm, nil
}

// Pool returns the slot pool of class.
func (bm *BufferManager) Pool(class page.SizeClass) *SlotPool {
	return bm.pools[class.Index()]
}

func (bm *BufferManager) PageIDs() *PageIDAllocator {
	return bm.pids
}

// UsedBytes is the total slot size of all resident pages.
func (bm *BufferManager) UsedBytes() uint64 {
	return bm.usedBytes.Load()
}

func (bm *BufferManager) addUsed(class page.SizeClass) {
	bm.usedBytes.Add(class.Size())
}

func (bm *BufferManager) subUsed(class page.SizeClass) {
	bm.usedBytes.Add(^(class.Size() - 1))
}

// NewHandle reserves a page id for a payload of payloadLen bytes. The page
// is not resident until Alloc.
func (bm *BufferManager) NewHandle(payloadLen uint64) (*page.PageHandle, error) {
	class, err := page.SizeClassToFit(payloadLen)
	if err != nil {
		return nil, err
	}
	pid, err := bm.pids.Next()
	if err != nil {
		return nil, err
	}
	return page.NewFizzledHandle(pid, class), nil
}

// Alloc binds a fizzled handle to a fresh slot. The new page is dirty and
// its data zone holds whatever the slot held before.
func (bm *BufferManager) Alloc(h *page.PageHandle) (*page.Page, error) {
	f, ok := h.SWIP().(page.Fizzled)
	if !ok {
		return nil, fmt.Errorf("alloc %v: %w", h, ErrAlreadyAllocated)
	}
	pool := bm.pools[f.Cls.Index()]
	idx, ok := pool.Alloc()
	if !ok {
		bm.log.Debug("pool exhausted", zap.Stringer("class", f.Cls), zap.Stringer("pid", f.PID))
		return nil, fmt.Errorf("alloc page %v: %s: %w", f.PID, f.Cls, ErrPoolExhausted)
	}
	return bm.install(h, f, pool, idx, true)
}

// AllocContext is Alloc with a bounded wait on the pool lock.
func (bm *BufferManager) AllocContext(ctx context.Context, h *page.PageHandle) (*page.Page, error) {
	f, ok := h.SWIP().(page.Fizzled)
	if !ok {
		return nil, fmt.Errorf("alloc %v: %w", h, ErrAlreadyAllocated)
	}
	pool := bm.pools[f.Cls.Index()]
	idx, ok, err := pool.AllocContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("alloc page %v: %w", f.PID, err)
	}
	if !ok {
		bm.log.Debug("pool exhausted", zap.Stringer("class", f.Cls), zap.Stringer("pid", f.PID))
		return nil, fmt.Errorf("alloc page %v: %s: %w", f.PID, f.Cls, ErrPoolExhausted)
	}
	return bm.install(h, f, pool, idx, true)
}

// install stamps slot idx with the handle's identity and swizzles the handle
// onto it. The slot goes back to the pool if the handle moved meanwhile.
func (bm *BufferManager) install(h *page.PageHandle, f page.Fizzled, pool *SlotPool, idx int, dirty bool) (*page.Page, error) {
	frame, err := pool.Frame(idx)
	if err != nil {
		pool.Free(idx)
		return nil, err
	}
	frame.Activate(f.PID, f.Cls, dirty)
	if !h.Swizzle(f, pool.Slot(idx)) {
		pool.Free(idx)
		return nil, fmt.Errorf("install page %v: %w", f.PID, ErrAlreadyAllocated)
	}
	bm.addUsed(f.Cls)
	return page.NewPageAt(frame, bm.spinLimit, pool.Generation(idx))
}

// Fetch returns the resident page of a handle, loading it from the page
// store first if the handle is fizzled.
func (bm *BufferManager) Fetch(h *page.PageHandle) (*page.Page, error) {
	switch s := h.SWIP().(type) {
	case page.Swizzled:
		return bm.wrap(s.Slot)
	case page.Fizzled:
		return bm.load(h, s)
	}
	return nil, fmt.Errorf("fetch %v: %w", h, ErrNotResident)
}

func (bm *BufferManager) wrap(slot page.Slot) (*page.Page, error) {
	pool := bm.pools[slot.Class.Index()]
	frame, err := pool.Frame(slot.Index)
	if err != nil {
		return nil, err
	}
	return page.NewPageAt(frame, bm.spinLimit, pool.Generation(slot.Index))
}

func (bm *BufferManager) load(h *page.PageHandle, f page.Fizzled) (*page.Page, error) {
	if bm.store == nil {
		return nil, fmt.Errorf("fetch page %v: %w", f.PID, ErrNoPageStore)
	}
	pool := bm.pools[f.Cls.Index()]
	idx, ok := pool.Alloc()
	if !ok {
		bm.log.Debug("pool exhausted on fetch", zap.Stringer("class", f.Cls), zap.Stringer("pid", f.PID))
		return nil, fmt.Errorf("fetch page %v: %s: %w", f.PID, f.Cls, ErrPoolExhausted)
	}
	frame, err := pool.Frame(idx)
	if err != nil {
		pool.Free(idx)
		return nil, err
	}
	if err := bm.store.Load(f.PID, f.Cls, frame.Data()); err != nil {
		pool.Free(idx)
		bm.log.Warn("page store load failed", zap.Stringer("pid", f.PID), zap.Stringer("class", f.Cls), zap.Error(err))
		return nil, fmt.Errorf("fetch page %v: %w", f.PID, err)
	}

	p, err := bm.install(h, f, pool, idx, false)
	if errors.Is(err, ErrAlreadyAllocated) {
		// another fetch won the swizzle
		return bm.Fetch(h)
	}
	return p, err
}

// Free releases a resident page: its slot returns to the pool and its id to
// the allocator. It takes the exclusive latch first. A page whose slot was
// freed, or freed and handed to another page, is rejected and the slot's
// latch is left as it was.
func (bm *BufferManager) Free(p *page.Page) error {
	g := p.Write()
	if !bm.owns(p, g) {
		g.Abandon()
		bm.log.Warn("invalid free", zap.Stringer("pid", p.PageID()), zap.Stringer("class", p.Class()))
		return fmt.Errorf("free page %v: %w", p.PageID(), ErrInvalidFree)
	}
	return bm.FreeLocked(g)
}

// owns reports whether the slot under g still holds the activation p was made for.
func (bm *BufferManager) owns(p *page.Page, g *page.ExclusiveGuard) bool {
	pid, class, err := g.Identity()
	if err != nil || pid != p.PageID() || class != p.Class() {
		return false
	}
	pool := bm.pools[class.Index()]
	idx, ok := pool.IndexOf(g.Frame().Addr())
	if !ok || !pool.IsUsed(idx) {
		return false
	}
	return pool.Generation(idx) == p.Generation()
}

// FreeLocked frees the page held by g and consumes the guard.
func (bm *BufferManager) FreeLocked(g *page.ExclusiveGuard) error {
	if g.Released() {
		return page.ErrGuardReleased
	}
	pid, class, err := g.Identity()
	if err != nil {
		g.Abandon()
		return fmt.Errorf("free frame at %#x: %w", g.Frame().Addr(), err)
	}
	pool := bm.pools[class.Index()]
	idx, ok := pool.IndexOf(g.Frame().Addr())
	if !ok || !pool.IsUsed(idx) {
		g.Abandon()
		bm.log.Warn("invalid free", zap.Stringer("pid", pid), zap.Stringer("class", class), zap.Int("slot", idx))
		return fmt.Errorf("free page %v: %w", pid, ErrInvalidFree)
	}

	// retire before the slot is visible to Alloc again
	g.Retire()
	if !pool.Free(idx) {
		bm.log.Warn("invalid free", zap.Stringer("pid", pid), zap.Stringer("class", class), zap.Int("slot", idx))
		return fmt.Errorf("free page %v: %w", pid, ErrInvalidFree)
	}
	bm.subUsed(class)

	var errs error
	if d, ok := bm.store.(PageDiscarder); ok {
		if err := d.Discard(pid); err != nil {
			bm.log.Warn("page store discard failed", zap.Stringer("pid", pid), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	if err := bm.pids.Release(pid); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Evict writes a dirty resident page to the page store and fizzles its
// handle. The page id stays live; Fetch brings the page back.
func (bm *BufferManager) Evict(h *page.PageHandle) error {
	s, ok := h.SWIP().(page.Swizzled)
	if !ok {
		return fmt.Errorf("evict %v: %w", h, ErrNotResident)
	}
	if bm.store == nil {
		return fmt.Errorf("evict page %v: %w", s.PID, ErrNoPageStore)
	}
	p, err := bm.wrap(s.Slot)
	if err != nil {
		return err
	}

	g := p.Write()
	if pid, _, err := g.Identity(); err != nil || pid != s.PID {
		g.Abandon()
		return fmt.Errorf("evict page %v: %w", s.PID, ErrNotResident)
	}
	if p.IsDirty() {
		if err := bm.store.Evict(s.PID, s.Slot.Class, g.Data()); err != nil {
			g.Abandon()
			bm.log.Warn("page store evict failed", zap.Stringer("pid", s.PID), zap.Error(err))
			return fmt.Errorf("evict page %v: %w", s.PID, err)
		}
	}
	if !h.Fizzle(s) {
		g.Abandon()
		return fmt.Errorf("evict page %v: %w", s.PID, ErrNotResident)
	}

	g.Retire()
	pool := bm.pools[s.Slot.Class.Index()]
	if !pool.Free(s.Slot.Index) {
		bm.log.Warn("evicted slot was not in use", zap.Stringer("pid", s.PID), zap.Int("slot", s.Slot.Index))
		return fmt.Errorf("evict page %v: %w", s.PID, ErrInvalidFree)
	}
	bm.subUsed(s.Slot.Class)
	common.DPrintf("evicted page %v from slot %d of %v", s.PID, s.Slot.Index, s.Slot.Class)
	return nil
}

// Flush writes a dirty page to the page store under a shared latch and
// clears its dirty bit. The page stays resident.
func (bm *BufferManager) Flush(p *page.Page) error {
	if bm.store == nil {
		return fmt.Errorf("flush page %v: %w", p.PageID(), ErrNoPageStore)
	}
	g := p.Share()
	defer g.Release()
	if !p.IsDirty() {
		return nil
	}
	if err := bm.store.Evict(p.PageID(), p.Class(), p.Frame().Data()); err != nil {
		bm.log.Warn("page store flush failed", zap.Stringer("pid", p.PageID()), zap.Error(err))
		return fmt.Errorf("flush page %v: %w", p.PageID(), err)
	}
	p.Latch().MarkClean()
	return nil
}

// Resolve turns a raw handle word back into a handle. Fizzled words decode
// directly; swizzled words must be the address of an in-use slot.
func (bm *BufferManager) Resolve(word uint64) (*page.PageHandle, error) {
	if page.IsFizzledWord(word) {
		pid, class, err := page.UnpackSWIP(word)
		if err != nil {
			return nil, err
		}
		return page.NewFizzledHandle(pid, class), nil
	}

	addr := uintptr(word)
	for _, pool := range bm.pools {
		idx, ok := pool.IndexOf(addr)
		if !ok {
			continue
		}
		if !pool.IsUsed(idx) {
			return nil, fmt.Errorf("resolve %#x: %w", word, ErrNotResident)
		}
		frame, err := pool.Frame(idx)
		if err != nil {
			return nil, err
		}
		pid, _, err := frame.Identity()
		if err != nil {
			return nil, err
		}
		return page.NewSwizzledHandle(pid, pool.Slot(idx)), nil
	}
	return nil, fmt.Errorf("resolve %#x: %w", word, ErrUnknownAddress)
}

func (bm *BufferManager) Stats() Stats {
	st := Stats{UsedBytes: bm.UsedBytes()}
	for _, pool := range bm.pools {
		if pool.Capacity() == 0 {
			continue
		}
		st.Classes = append(st.Classes, ClassStats{
			Class:    pool.Class(),
			Capacity: pool.Capacity(),
			Free:     pool.FreeCount(),
			Used:     pool.UsedCount(),
		})
	}
	return st
}

// Close unmaps every pool. Pages obtained from the manager must not be used afterwards.
func (bm *BufferManager) Close() error {
	err := bm.closePools()
	bm.log.Info("buffer manager closed", zap.Error(err))
	return err
}

func (bm *BufferManager) closePools() error {
	var errs error
	for _, pool := range bm.pools {
		if pool == nil {
			continue
		}
		if pool.UsedCount() > 0 {
			bm.log.Warn("closing pool with resident pages", zap.Stringer("pool", pool))
		}
		errs = multierr.Append(errs, pool.Close())
	}
	return errs
}
