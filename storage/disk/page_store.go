package disk

import (
	"github.com/besquared/poolish/common"
	"github.com/besquared/poolish/storage/page"
	"github.com/besquared/poolish/types"
)

// PageStore is what both stores offer. It satisfies the buffer manager's
// collaborator interfaces.
type PageStore interface {
	Load(pid types.PageID, class page.SizeClass, dst []byte) error
	Evict(pid types.PageID, class page.SizeClass, src []byte) error
	Discard(pid types.PageID) error
	NumReads() uint64
	NumWrites() uint64
	Close() error
}

var (
	_ PageStore = (*DiskPageStore)(nil)
	_ PageStore = (*VirtualPageStore)(nil)
)

// NewPageStore opens the store selected by cfg.PageStorePath: a direct I/O
// file when set, memory otherwise.
func NewPageStore(cfg *common.Config) (PageStore, error) {
	if cfg == nil || cfg.PageStorePath == "" {
		return NewVirtualPageStore(), nil
	}
	store, err := NewDiskPageStore(cfg.PageStorePath)
	if err != nil {
		return nil, err
	}
	return store, nil
}
