package disk

import "errors"

var (
	ErrPageNotFound  = errors.New("page not found in page store")
	ErrClassMismatch = errors.New("stored page has a different size class")
	ErrStoreClosed   = errors.New("page store is closed")
)
