package buffer

import (
	"github.com/besquared/poolish/storage/page"
	"github.com/besquared/poolish/types"
)

// PageStore persists page images outside the pools. The manager calls it on
// the cold fetch path and when a resident page is evicted or flushed.
type PageStore interface {
	// Load fills dst, the data zone of a fresh slot of class, with the last
	// image stored for pid.
	Load(pid types.PageID, class page.SizeClass, dst []byte) error
	// Evict stores src as the image of pid.
	Evict(pid types.PageID, class page.SizeClass, src []byte) error
}

// PageDiscarder is implemented by stores that want to hear about freed pages.
type PageDiscarder interface {
	Discard(pid types.PageID) error
}
