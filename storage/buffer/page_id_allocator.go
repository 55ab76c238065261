package buffer

import (
	"fmt"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/viney-shih/go-lock"

	"github.com/besquared/poolish/types"
)

type (
	// PageIDAllocator mints odd page ids and hands released ids out again
	// before minting new ones. The counter and the reuse queue are
	// synchronized independently.
	PageIDAllocator struct {
		next atomic.Uint64 // next id to mint

		mu       *lock.CASMutex
		reuse    []types.PageID           // FIFO of released ids
		released mapset.Set[types.PageID] // ids sitting in reuse
	}
)

func NewPageIDAllocator() *PageIDAllocator {
	a := &PageIDAllocator{
		mu:       lock.NewCASMutex(),
		released: mapset.NewThreadUnsafeSet[types.PageID](),
	}
	a.next.Store(1)
	return a
}

// Next returns a released id if one is queued, otherwise mints a fresh one.
// Ids never exceed types.MaxPageID.
func (a *PageIDAllocator) Next() (types.PageID, error) {
	if id, ok := a.popReleased(); ok {
		return id, nil
	}
	for {
		n := a.next.Load()
		if n > uint64(types.MaxPageID) {
			return types.InvalidPageID, ErrPageIDsExhausted
		}
		// stepping by 2 keeps every minted id odd
		if a.next.CompareAndSwap(n, n+2) {
			return types.PageID(n), nil
		}
	}
}

func (a *PageIDAllocator) popReleased() (types.PageID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.reuse) == 0 {
		return types.InvalidPageID, false
	}
	id := a.reuse[0]
	a.reuse[0] = types.InvalidPageID
	a.reuse = a.reuse[1:]
	a.released.Remove(id)
	return id, true
}

// Release queues id for reuse. The caller guarantees nothing references it
// any more. Ids that were never minted or are already queued are rejected.
func (a *PageIDAllocator) Release(id types.PageID) error {
	if !id.IsValid() || uint64(id) >= a.next.Load() {
		return fmt.Errorf("page id %v was never minted: %w", id, ErrInvalidRelease)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.released.Add(id) {
		return fmt.Errorf("page id %v is already released: %w", id, ErrInvalidRelease)
	}
	a.reuse = append(a.reuse, id)
	return nil
}

// Minted is the number of ids minted so far.
func (a *PageIDAllocator) Minted() uint64 {
	return (a.next.Load() - 1) / 2
}

// Released returns the queued ids in reuse order.
func (a *PageIDAllocator) Released() []types.PageID {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.PageID, len(a.reuse))
	copy(out, a.reuse)
	return out
}
