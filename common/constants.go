package common

const (
	SwipLen   = 8                 // handle word (SWIP)
	VldsLen   = 8                 // version / latch / dirty word (VLDS)
	HeaderLen = SwipLen + VldsLen // identical for every size class

	MinClassID = 12 // 4KiB
	MaxClassID = 31 // 2GiB

	NumClasses = MaxClassID - MinClassID + 1

	DefaultPoolSize  = uint64(1) << MaxClassID
	DefaultSpinLimit = 64
)
