package types

import "strconv"

// PageID is the logical identifier of a page. Minted ids are always odd.
type PageID uint64

const InvalidPageID = PageID(0)

// MaxPageID is the largest id that fits the handle word next to the tag and class bits.
const MaxPageID = PageID(1<<57 - 1)

func (id PageID) IsValid() bool {
	return id&1 == 1 && id <= MaxPageID
}

func (id PageID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
