package buffer

import "errors"

var (
	ErrAlreadyAllocated = errors.New("page handle is already swizzled")
	ErrPoolExhausted    = errors.New("size class pool has no free slot")
	ErrInvalidFree      = errors.New("free of a slot that is not in use")
	ErrNoPageStore      = errors.New("no page store configured")
	ErrNotResident      = errors.New("page is not resident")
	ErrInvalidRelease   = errors.New("release of a page id that is not live")
	ErrPageIDsExhausted = errors.New("page id space is exhausted")
	ErrBadPoolSize      = errors.New("pool size is not a multiple of the slot size")
	ErrUnknownAddress   = errors.New("address does not belong to any slot pool")
)
