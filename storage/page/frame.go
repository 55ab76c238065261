package page

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/besquared/poolish/common"
	"github.com/besquared/poolish/types"
	"github.com/besquared/poolish/util/poolish_util"
)

// Frame header layout, fixed for every size class:
//
//	| SWIP word (8B, little-endian) | VLDS word (8B, little-endian) | data zone ... |
const (
	swipOffset = 0
	vldsOffset = swipOffset + common.SwipLen
)

func init() {
	// header words are accessed atomically in host order
	poolish_util.PoolishAssert(poolish_util.IsLittleEndian(), "frame header layout requires a little-endian host")
}

// Frame is a typed view over one slot: the header words plus the data zone.
type Frame struct {
	buf []byte
}

// NewFrame wraps a slot. The slot must be exactly one size class long and word aligned.
func NewFrame(buf []byte) (Frame, error) {
	n := uint64(len(buf))
	if n < MinSizeClass.Size() || n > MaxSizeClass.Size() || n&(n-1) != 0 {
		return Frame{}, fmt.Errorf("slot of %d bytes: %w", n, ErrBadFrame)
	}
	if uintptr(unsafe.Pointer(&buf[0]))%8 != 0 {
		return Frame{}, fmt.Errorf("slot at %p is not word aligned: %w", &buf[0], ErrBadFrame)
	}
	return Frame{buf: buf}, nil
}

func (f Frame) Len() int {
	return len(f.buf)
}

// Addr is the slot address used as the swizzled handle word.
func (f Frame) Addr() uintptr {
	return uintptr(unsafe.Pointer(&f.buf[0]))
}

func (f Frame) swipWord() *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&f.buf[swipOffset]))
}

func (f Frame) vldsWord() *atomic.Uint64 {
	return (*atomic.Uint64)(unsafe.Pointer(&f.buf[vldsOffset]))
}

func (f Frame) ReadHeader() (swip uint64, vlds uint64) {
	return f.swipWord().Load(), f.vldsWord().Load()
}

// WriteHeader is only legal on a slot nobody else can reach.
func (f Frame) WriteHeader(swip uint64, vlds uint64) {
	f.swipWord().Store(swip)
	f.vldsWord().Store(vlds)
}

// Activate stamps a freshly taken slot with its page identity. The latch
// opens at the slot's current version (0 for a never used slot) so the
// version of a slot never moves backwards across reuse.
func (f Frame) Activate(pid types.PageID, class SizeClass, dirty bool) {
	_, vlds := f.ReadHeader()
	f.WriteHeader(PackSWIP(pid, class), PackVLDS(VLDSVersion(vlds), StateOpen, dirty))
}

// Identity decodes the page id and class from the header.
func (f Frame) Identity() (types.PageID, SizeClass, error) {
	swip, _ := f.ReadHeader()
	return UnpackSWIP(swip)
}

func (f Frame) Latch(spinLimit int) Latch {
	return NewLatch(f.vldsWord(), spinLimit)
}

// Data is the zone after the header.
func (f Frame) Data() []byte {
	return f.buf[common.HeaderLen:]
}

func (f Frame) DataLen() int {
	return len(f.buf) - common.HeaderLen
}

func (f Frame) checkRange(off int, n int) error {
	if off < 0 || n < 0 || off > f.DataLen()-n {
		return fmt.Errorf("range [%d,%d) of %d data bytes: %w", off, off+n, f.DataLen(), ErrOutOfBounds)
	}
	return nil
}

// ReadAt copies len(dst) bytes of the data zone starting at off.
func (f Frame) ReadAt(dst []byte, off int) (int, error) {
	if err := f.checkRange(off, len(dst)); err != nil {
		return 0, err
	}
	return copy(dst, f.Data()[off:]), nil
}

// WriteAt copies src into the data zone at off.
func (f Frame) WriteAt(src []byte, off int) (int, error) {
	if err := f.checkRange(off, len(src)); err != nil {
		return 0, err
	}
	return copy(f.Data()[off:], src), nil
}

// EncodeHeader writes the header words in their little-endian wire form.
func EncodeHeader(dst []byte, swip uint64, vlds uint64) error {
	if len(dst) < common.HeaderLen {
		return fmt.Errorf("header buffer of %d bytes: %w", len(dst), ErrOutOfBounds)
	}
	binary.LittleEndian.PutUint64(dst[swipOffset:], swip)
	binary.LittleEndian.PutUint64(dst[vldsOffset:], vlds)
	return nil
}

func DecodeHeader(src []byte) (swip uint64, vlds uint64, err error) {
	if len(src) < common.HeaderLen {
		return 0, 0, fmt.Errorf("header buffer of %d bytes: %w", len(src), ErrOutOfBounds)
	}
	return binary.LittleEndian.Uint64(src[swipOffset:]), binary.LittleEndian.Uint64(src[vldsOffset:]), nil
}
