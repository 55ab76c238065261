package page

import (
	"fmt"
	"math/bits"

	"github.com/besquared/poolish/common"
)

// SizeClass is a power-of-two page size bucket identified by its exponent.
//
//	12 4KiB   13 8KiB   14 16KiB  15 32KiB
//	16 64KiB  17 128KiB 18 256KiB 19 512KiB
//	20 1MiB   21 2MiB   22 4MiB   23 8MiB
//	24 16MiB  25 32MiB  26 64MiB  27 128MiB
//	28 256MiB 29 512MiB 30 1GiB   31 2GiB
type SizeClass uint8

const (
	MinSizeClass   = SizeClass(common.MinClassID)
	MaxSizeClass   = SizeClass(common.MaxClassID)
	NumSizeClasses = common.NumClasses
)

// NewSizeClass clamps ids below the minimum up to it and rejects ids above the maximum.
func NewSizeClass(id uint8) (SizeClass, error) {
	if id <= uint8(MinSizeClass) {
		return MinSizeClass, nil
	}
	if id > uint8(MaxSizeClass) {
		return 0, fmt.Errorf("class id %d exceeds %d: %w", id, MaxSizeClass, ErrClassOutOfRange)
	}
	return SizeClass(id), nil
}

// SizeClassToFit returns the smallest class whose slot holds payloadLen bytes plus the header.
func SizeClassToFit(payloadLen uint64) (SizeClass, error) {
	maxSize := MaxSizeClass.Size()
	if payloadLen > maxSize-common.HeaderLen {
		return 0, fmt.Errorf("no class fits %d payload bytes: %w", payloadLen, ErrClassOutOfRange)
	}
	total := payloadLen + common.HeaderLen
	// ceil(log2(total))
	return NewSizeClass(uint8(bits.Len64(total - 1)))
}

func SizeOf(id uint8) uint64 {
	return uint64(1) << id
}

func (c SizeClass) ID() uint8 {
	return uint8(c)
}

func (c SizeClass) Size() uint64 {
	return SizeOf(uint8(c))
}

// DataSize is the byte length of the data zone of a slot in this class.
func (c SizeClass) DataSize() uint64 {
	return c.Size() - common.HeaderLen
}

// Index addresses the per-class pool array.
func (c SizeClass) Index() int {
	return int(c - MinSizeClass)
}

func (c SizeClass) IsValid() bool {
	return c >= MinSizeClass && c <= MaxSizeClass
}

func (c SizeClass) String() string {
	return fmt.Sprintf("class%d(%dB)", uint8(c), c.Size())
}

// SizeClassAt is the inverse of Index.
func SizeClassAt(idx int) (SizeClass, error) {
	if idx < 0 || idx >= NumSizeClasses {
		return 0, fmt.Errorf("class index %d: %w", idx, ErrClassOutOfRange)
	}
	return MinSizeClass + SizeClass(idx), nil
}
