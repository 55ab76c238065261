package disk

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ncw/directio"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/besquared/poolish/common"
	"github.com/besquared/poolish/storage/page"
	"github.com/besquared/poolish/types"
	"github.com/besquared/poolish/util/poolish_util"
)

// DiskPageStore keeps page images in a file opened for direct I/O. Every
// image occupies one slot-sized extent, so offsets and lengths stay block
// aligned. The extent table lives in memory; the file does not outlive the
// process that wrote it.
type DiskPageStore struct {
	file      *os.File
	fileName  string
	extents   *extentTable
	numReads  atomic.Uint64
	numWrites atomic.Uint64
	closed    bool
	fileMutex *sync.Mutex
	log       *zap.Logger
}

// NewDiskPageStore creates or truncates fileName.
func NewDiskPageStore(fileName string) (*DiskPageStore, error) {
	logger := common.Logger().Named("disk").With(zap.String("file", fileName))
	if poolish_util.FileExists(fileName) {
		logger.Info("truncating existing page store")
	}
	file, err := directio.OpenFile(fileName, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, fmt.Errorf("open page store %s: %w", fileName, err)
	}
	return &DiskPageStore{
		file:      file,
		fileName:  fileName,
		extents:   newExtentTable(),
		fileMutex: new(sync.Mutex),
		log:       logger,
	}, nil
}

// Load reads the image of pid into dst.
func (d *DiskPageStore) Load(pid types.PageID, class page.SizeClass, dst []byte) error {
	ext, err := d.extents.lookup(pid, class)
	if err != nil {
		return err
	}
	block := directio.AlignedBlock(int(class.Size()))

	d.fileMutex.Lock()
	defer d.fileMutex.Unlock()
	if d.closed {
		return ErrStoreClosed
	}
	if _, err := d.file.ReadAt(block, ext.offset); err != nil {
		return fmt.Errorf("read page %v at %d: %w", pid, ext.offset, err)
	}
	d.numReads.Add(1)
	copy(dst, block)
	return nil
}

// Evict writes src as the image of pid.
func (d *DiskPageStore) Evict(pid types.PageID, class page.SizeClass, src []byte) error {
	if uint64(len(src)) > class.Size() {
		return fmt.Errorf("image of %d bytes for %s: %w", len(src), class, page.ErrOutOfBounds)
	}
	block := directio.AlignedBlock(int(class.Size()))
	copy(block, src)

	d.fileMutex.Lock()
	defer d.fileMutex.Unlock()
	if d.closed {
		return ErrStoreClosed
	}
	ext := d.extents.place(pid, class)
	if _, err := d.file.WriteAt(block, ext.offset); err != nil {
		d.extents.discard(pid)
		return fmt.Errorf("write page %v at %d: %w", pid, ext.offset, err)
	}
	d.numWrites.Add(1)
	d.log.Debug("page written", zap.Stringer("pid", pid), zap.Stringer("class", class), zap.Int64("offset", ext.offset))
	return nil
}

// Discard forgets pid; its extent is reused by the next image of the same class.
func (d *DiskPageStore) Discard(pid types.PageID) error {
	d.fileMutex.Lock()
	defer d.fileMutex.Unlock()
	d.extents.discard(pid)
	return nil
}

func (d *DiskPageStore) NumReads() uint64 {
	return d.numReads.Load()
}

func (d *DiskPageStore) NumWrites() uint64 {
	return d.numWrites.Load()
}

// NumPages is the number of page images held.
func (d *DiskPageStore) NumPages() int {
	return d.extents.count()
}

// Size is the byte length of the extents handed out so far.
func (d *DiskPageStore) Size() int64 {
	return d.extents.size()
}

func (d *DiskPageStore) Close() error {
	d.fileMutex.Lock()
	defer d.fileMutex.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return multierr.Combine(d.file.Sync(), d.file.Close())
}

// RemoveFile deletes the backing file. Call it after Close.
func (d *DiskPageStore) RemoveFile() error {
	d.fileMutex.Lock()
	defer d.fileMutex.Unlock()
	return os.Remove(d.fileName)
}
