package disk

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dsnet/golib/memfile"

	"github.com/besquared/poolish/storage/page"
	"github.com/besquared/poolish/types"
)

// VirtualPageStore is the in-memory counterpart of DiskPageStore, laid out
// the same way over a memfile.
type VirtualPageStore struct {
	file      *memfile.File
	extents   *extentTable
	numReads  atomic.Uint64
	numWrites atomic.Uint64
	fileMutex *sync.Mutex
}

func NewVirtualPageStore() *VirtualPageStore {
	return &VirtualPageStore{
		file:      memfile.New(make([]byte, 0)),
		extents:   newExtentTable(),
		fileMutex: new(sync.Mutex),
	}
}

func (d *VirtualPageStore) Load(pid types.PageID, class page.SizeClass, dst []byte) error {
	ext, err := d.extents.lookup(pid, class)
	if err != nil {
		return err
	}
	n := len(dst)
	if uint64(n) > class.Size() {
		n = int(class.Size())
	}

	d.fileMutex.Lock()
	defer d.fileMutex.Unlock()
	if _, err := d.file.ReadAt(dst[:n], ext.offset); err != nil {
		return fmt.Errorf("read page %v at %d: %w", pid, ext.offset, err)
	}
	d.numReads.Add(1)
	return nil
}

func (d *VirtualPageStore) Evict(pid types.PageID, class page.SizeClass, src []byte) error {
	if uint64(len(src)) > class.Size() {
		return fmt.Errorf("image of %d bytes for %s: %w", len(src), class, page.ErrOutOfBounds)
	}

	d.fileMutex.Lock()
	defer d.fileMutex.Unlock()
	ext := d.extents.place(pid, class)
	// pad to the full extent so a later Load never reads past the end
	block := make([]byte, class.Size())
	copy(block, src)
	if _, err := d.file.WriteAt(block, ext.offset); err != nil {
		d.extents.discard(pid)
		return fmt.Errorf("write page %v at %d: %w", pid, ext.offset, err)
	}
	d.numWrites.Add(1)
	return nil
}

func (d *VirtualPageStore) Discard(pid types.PageID) error {
	d.fileMutex.Lock()
	defer d.fileMutex.Unlock()
	d.extents.discard(pid)
	return nil
}

func (d *VirtualPageStore) NumReads() uint64 {
	return d.numReads.Load()
}

func (d *VirtualPageStore) NumWrites() uint64 {
	return d.numWrites.Load()
}

func (d *VirtualPageStore) NumPages() int {
	return d.extents.count()
}

func (d *VirtualPageStore) Size() int64 {
	return d.extents.size()
}

// Close drops the in-memory file.
func (d *VirtualPageStore) Close() error {
	d.fileMutex.Lock()
	defer d.fileMutex.Unlock()
	return d.file.Truncate(0)
}
