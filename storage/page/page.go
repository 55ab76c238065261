package page

import (
	"context"
	"errors"
	"fmt"

	"github.com/besquared/poolish/types"
)

// Page is a resident page: a frame plus the identity stamped in its header.
// All access to the data zone goes through a guard.
type Page struct {
	pid   types.PageID
	class SizeClass
	frame Frame
	latch Latch
	gen   uint64 // activation of the slot this page was made for
}

// NewPage wraps an activated frame.
func NewPage(frame Frame, spinLimit int) (*Page, error) {
	return NewPageAt(frame, spinLimit, 0)
}

// NewPageAt wraps an activated frame and records which activation of its
// slot it belongs to.
func NewPageAt(frame Frame, spinLimit int, gen uint64) (*Page, error) {
	pid, class, err := frame.Identity()
	if err != nil {
		return nil, fmt.Errorf("frame at %#x: %w", frame.Addr(), err)
	}
	if uint64(frame.Len()) != class.Size() {
		return nil, fmt.Errorf("frame of %d bytes stamped %s: %w", frame.Len(), class, ErrBadFrame)
	}
	return &Page{pid: pid, class: class, frame: frame, latch: frame.Latch(spinLimit), gen: gen}, nil
}

func (p *Page) PageID() types.PageID {
	return p.pid
}

func (p *Page) Class() SizeClass {
	return p.class
}

func (p *Page) Generation() uint64 {
	return p.gen
}

func (p *Page) Frame() Frame {
	return p.frame
}

func (p *Page) Latch() Latch {
	return p.latch
}

func (p *Page) DataLen() int {
	return p.frame.DataLen()
}

func (p *Page) Version() uint64 {
	return p.latch.Version()
}

func (p *Page) IsDirty() bool {
	return p.latch.IsDirty()
}

// Read starts an optimistic read. It waits out a running writer so the
// snapshot is not doomed from the start.
func (p *Page) Read() *OptimisticReadGuard {
	p.latch.spinWhile(IsExclusive)
	return &OptimisticReadGuard{frame: p.frame, latch: p.latch, version: p.latch.Snapshot()}
}

// Share spins until the latch admits one more reader.
func (p *Page) Share() *SharedGuard {
	p.latch.AcquireShared()
	return &SharedGuard{frame: p.frame, latch: p.latch}
}

func (p *Page) ShareContext(ctx context.Context) (*SharedGuard, error) {
	if err := p.latch.AcquireSharedContext(ctx); err != nil {
		return nil, err
	}
	return &SharedGuard{frame: p.frame, latch: p.latch}, nil
}

// Write spins until the latch is open and takes it exclusively.
func (p *Page) Write() *ExclusiveGuard {
	p.latch.AcquireExclusive()
	return &ExclusiveGuard{frame: p.frame, latch: p.latch}
}

func (p *Page) WriteContext(ctx context.Context) (*ExclusiveGuard, error) {
	if err := p.latch.AcquireExclusiveContext(ctx); err != nil {
		return nil, err
	}
	return &ExclusiveGuard{frame: p.frame, latch: p.latch}, nil
}

// WithWrite runs fn under the exclusive latch. The latch is released on
// every exit path, panics included.
func (p *Page) WithWrite(fn func(g *ExclusiveGuard) error) error {
	g := p.Write()
	defer g.Release()
	return fn(g)
}

// WithShare runs fn under a shared latch.
func (p *Page) WithShare(fn func(g *SharedGuard) error) error {
	g := p.Share()
	defer g.Release()
	return fn(g)
}

// ReadOptimistic runs fn against a fresh snapshot until the snapshot
// validates after fn returns. fn must not retain what it read from an
// invalidated attempt; returning ErrReadConflict forces a retry.
func (p *Page) ReadOptimistic(fn func(g *OptimisticReadGuard) error) error {
	for {
		g := p.Read()
		err := fn(g)
		if errors.Is(err, ErrReadConflict) {
			continue
		}
		if !g.Validate() {
			continue
		}
		return err
	}
}

func (p *Page) String() string {
	return fmt.Sprintf("page(pid=%d, %s, addr=%#x, version=%d)", p.pid, p.class, p.frame.Addr(), p.Version())
}
