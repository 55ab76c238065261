package buffer

import (
	"errors"
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/besquared/poolish/types"
	"github.com/magiconair/properties/assert"
)

func mustNext(t *testing.T, a *PageIDAllocator) types.PageID {
	t.Helper()
	id, err := a.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	return id
}

func TestPageIDAllocator_MintsOddIDs(t *testing.T) {
	a := NewPageIDAllocator()
	for want := types.PageID(1); want < 20; want += 2 {
		if got := mustNext(t, a); got != want {
			t.Errorf("Next() = %v, want %v", got, want)
		}
	}
	assert.Equal(t, a.Minted(), uint64(10))
}

func TestPageIDAllocator_Exhausted(t *testing.T) {
	a := NewPageIDAllocator()
	a.next.Store(uint64(types.MaxPageID))

	last := mustNext(t, a)
	assert.Equal(t, last, types.MaxPageID)
	if !last.IsValid() {
		t.Errorf("Next() = %v is not a valid id", last)
	}
	for i := 0; i < 2; i++ {
		if id, err := a.Next(); !errors.Is(err, ErrPageIDsExhausted) {
			t.Errorf("Next() past the limit = (%v, %v), want %v", id, err, ErrPageIDsExhausted)
		}
	}

	// released ids are still handed out
	if err := a.Release(last); err != nil {
		t.Fatalf("Release(%v) error = %v", last, err)
	}
	assert.Equal(t, mustNext(t, a), last)
}

func TestPageIDAllocator_ReusesReleased(t *testing.T) {
	a := NewPageIDAllocator()
	ids := []types.PageID{mustNext(t, a), mustNext(t, a), mustNext(t, a)}

	if err := a.Release(ids[1]); err != nil {
		t.Fatalf("Release(%v) error = %v", ids[1], err)
	}
	if got := mustNext(t, a); got != ids[1] {
		t.Errorf("Next() after Release = %v, want %v", got, ids[1])
	}

	// FIFO across several releases
	_ = a.Release(ids[2])
	_ = a.Release(ids[0])
	assert.Equal(t, a.Released(), []types.PageID{ids[2], ids[0]})
	assert.Equal(t, mustNext(t, a), ids[2])
	assert.Equal(t, mustNext(t, a), ids[0])
	assert.Equal(t, mustNext(t, a), types.PageID(7))
}

func TestPageIDAllocator_ReleaseRejects(t *testing.T) {
	a := NewPageIDAllocator()
	id := mustNext(t, a)

	tests := []struct {
		name string
		id   types.PageID
	}{
		{name: "invalid", id: types.InvalidPageID},
		{name: "even", id: 2},
		{name: "never minted", id: 99},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := a.Release(tt.id); !errors.Is(err, ErrInvalidRelease) {
				t.Errorf("Release(%v) error = %v, want %v", tt.id, err, ErrInvalidRelease)
			}
		})
	}

	if err := a.Release(id); err != nil {
		t.Fatalf("Release(%v) error = %v", id, err)
	}
	if err := a.Release(id); !errors.Is(err, ErrInvalidRelease) {
		t.Errorf("second Release(%v) error = %v, want %v", id, err, ErrInvalidRelease)
	}
	assert.Equal(t, len(a.Released()), 1)
}

func TestPageIDAllocator_ConcurrentUnique(t *testing.T) {
	a := NewPageIDAllocator()
	const workers = 8
	const perWorker = 500

	results := make([][]types.PageID, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := a.Next()
				if err != nil {
					t.Errorf("Next() error = %v", err)
					return
				}
				results[w] = append(results[w], id)
				// hand every other id back so reuse and minting interleave
				if i%2 == 0 {
					results[w] = results[w][:len(results[w])-1]
					if err := a.Release(id); err != nil {
						t.Errorf("Release(%v) error = %v", id, err)
					}
				}
			}
		}(w)
	}
	wg.Wait()

	var live []types.PageID
	for _, r := range results {
		live = append(live, r...)
	}
	set := mapset.NewThreadUnsafeSet(live...)
	assert.Equal(t, set.Cardinality(), len(live), "live ids must be unique")
	for _, id := range live {
		if !id.IsValid() {
			t.Errorf("minted id %v is not odd", id)
		}
	}
}
