package page

import "errors"

var (
	ErrClassOutOfRange = errors.New("page size class out of range")
	ErrOutOfBounds     = errors.New("access out of page data bounds")
	ErrNotFizzled      = errors.New("handle word is not fizzled")
	ErrGuardReleased   = errors.New("page guard already released")
	ErrBadFrame        = errors.New("frame is not a valid size class slot")
	// ErrReadConflict reports an optimistic read invalidated by a writer. The
	// caller retries the whole logical read.
	ErrReadConflict = errors.New("optimistic read invalidated")
)
