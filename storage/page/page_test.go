package page

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/besquared/poolish/common"
	"github.com/besquared/poolish/types"
	"github.com/magiconair/properties/assert"
)

// newTestSlot returns a word aligned slot of one class.
func newTestSlot(class SizeClass) []byte {
	words := make([]uint64, class.Size()/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), class.Size())
}

func newTestPage(t *testing.T, pid types.PageID, class SizeClass) *Page {
	t.Helper()
	frame, err := NewFrame(newTestSlot(class))
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}
	frame.Activate(pid, class, true)
	p, err := NewPage(frame, 8)
	if err != nil {
		t.Fatalf("NewPage() error = %v", err)
	}
	return p
}

func TestFrame_NewFrame(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{name: "4KiB", buf: newTestSlot(12)},
		{name: "8KiB", buf: newTestSlot(13)},
		{name: "too small", buf: newTestSlot(12)[:2048], wantErr: ErrBadFrame},
		{name: "not a power of two", buf: newTestSlot(13)[:6144], wantErr: ErrBadFrame},
		{name: "unaligned", buf: newTestSlot(13)[1 : 4096+1], wantErr: ErrBadFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrame(tt.buf)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewFrame() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrame_Activate(t *testing.T) {
	frame, err := NewFrame(newTestSlot(12))
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}

	frame.Activate(11, 12, true)
	swip, vlds := frame.ReadHeader()
	assert.Equal(t, swip, PackSWIP(11, 12))
	assert.Equal(t, vlds, InitialVLDS)
	assert.Equal(t, frame.DataLen(), 4096-common.HeaderLen)
	assert.Equal(t, len(frame.Data()), 4096-common.HeaderLen)

	pid, class, err := frame.Identity()
	assert.Equal(t, err, nil)
	assert.Equal(t, pid, types.PageID(11))
	assert.Equal(t, class, SizeClass(12))

	// a reused slot keeps its version
	frame.WriteHeader(swip, PackVLDS(9, StateOpen, false))
	frame.Activate(13, 12, false)
	_, vlds = frame.ReadHeader()
	assert.Equal(t, vlds, PackVLDS(9, StateOpen, false))
}

func TestFrame_HeaderCodec(t *testing.T) {
	frame, err := NewFrame(newTestSlot(12))
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}
	frame.Activate(5, 12, true)

	// the in-frame header is the little-endian wire form
	swip, vlds, err := DecodeHeader(frame.buf)
	assert.Equal(t, err, nil)
	assert.Equal(t, swip, PackSWIP(5, 12))
	assert.Equal(t, vlds, InitialVLDS)

	buf := make([]byte, common.HeaderLen)
	assert.Equal(t, EncodeHeader(buf, swip, vlds), nil)
	if !bytes.Equal(buf, frame.buf[:common.HeaderLen]) {
		t.Errorf("EncodeHeader() = %v, want %v", buf, frame.buf[:common.HeaderLen])
	}

	if _, _, err := DecodeHeader(buf[:8]); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("DecodeHeader(short) error = %v, want %v", err, ErrOutOfBounds)
	}
}

func TestPage_Bounds(t *testing.T) {
	p := newTestPage(t, 1, 12)
	g := p.Write()
	defer g.Release()

	tests := []struct {
		name    string
		off     int
		n       int
		wantErr error
	}{
		{name: "start", off: 0, n: 16},
		{name: "whole zone", off: 0, n: p.DataLen()},
		{name: "tail", off: p.DataLen() - 1, n: 1},
		{name: "negative", off: -1, n: 1, wantErr: ErrOutOfBounds},
		{name: "past end", off: p.DataLen() - 1, n: 2, wantErr: ErrOutOfBounds},
		{name: "offset past end", off: p.DataLen() + 1, n: 0, wantErr: ErrOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.WriteAt(make([]byte, tt.n), tt.off)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("WriteAt(%d, %d) error = %v, want %v", tt.off, tt.n, err, tt.wantErr)
			}
			_, err = g.ReadAt(make([]byte, tt.n), tt.off)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ReadAt(%d, %d) error = %v, want %v", tt.off, tt.n, err, tt.wantErr)
			}
		})
	}
}

func TestPage_ExclusiveGuard(t *testing.T) {
	p := newTestPage(t, 3, 12)
	p.Latch().MarkClean()
	before := p.Version()

	g := p.Write()
	if n, err := g.WriteAt([]byte("hello"), 10); err != nil || n != 5 {
		t.Fatalf("WriteAt() = (%d, %v), want (5, nil)", n, err)
	}
	g.Release()
	g.Release()

	assert.Equal(t, p.Version(), before+1)
	assert.Equal(t, p.IsDirty(), true)
	if _, err := g.WriteAt([]byte("x"), 0); !errors.Is(err, ErrGuardReleased) {
		t.Errorf("WriteAt() after Release error = %v, want %v", err, ErrGuardReleased)
	}
	if g.Data() != nil {
		t.Errorf("Data() after Release = %d bytes, want nil", len(g.Data()))
	}

	s := p.Share()
	got := make([]byte, 5)
	if _, err := s.ReadAt(got, 10); err != nil {
		t.Fatalf("ReadAt() error = %v", err)
	}
	s.Release()
	s.Release()
	assert.Equal(t, string(got), "hello")
	assert.Equal(t, p.Latch().State(), StateOpen)
	// readers leave the version alone
	assert.Equal(t, p.Version(), before+1)
}

func TestPage_Retire(t *testing.T) {
	p := newTestPage(t, 3, 12)
	g := p.Write()
	if !g.Retire() {
		t.Fatalf("Retire() = false on a held guard")
	}
	if g.Retire() {
		t.Errorf("second Retire() = true")
	}
	g.Release()

	assert.Equal(t, p.Version(), uint64(1))
	assert.Equal(t, p.IsDirty(), false)
	assert.Equal(t, p.Latch().State(), StateOpen)
}

func TestPage_Abandon(t *testing.T) {
	p := newTestPage(t, 3, 12)
	p.Latch().MarkClean()
	before := p.Version()
	r := p.Read()

	g := p.Write()
	if len(g.Data()) != p.DataLen() {
		t.Errorf("Data() = %d bytes, want %d", len(g.Data()), p.DataLen())
	}
	g.Abandon()
	g.Abandon()
	g.Release()

	assert.Equal(t, p.Version(), before)
	assert.Equal(t, p.IsDirty(), false)
	assert.Equal(t, p.Latch().State(), StateOpen)
	if !r.Validate() {
		t.Errorf("Validate() = false after Abandon")
	}
}

func TestPage_OptimisticRead(t *testing.T) {
	p := newTestPage(t, 5, 12)
	if err := p.WithWrite(func(g *ExclusiveGuard) error {
		copy(g.Data(), "abcdef")
		return nil
	}); err != nil {
		t.Fatalf("WithWrite() error = %v", err)
	}

	r := p.Read()
	dest := make([]byte, 3)
	n, ok, err := r.TryRead(1, dest)
	if err != nil || !ok || n != 3 {
		t.Fatalf("TryRead() = (%d, %v, %v), want (3, true, nil)", n, ok, err)
	}
	assert.Equal(t, string(dest), "bcd")

	// a full write cycle invalidates the snapshot
	w := p.Write()
	w.Release()
	if _, ok, err := r.TryRead(1, dest); ok || err != nil {
		t.Errorf("TryRead() after write = (%v, %v), want (false, nil)", ok, err)
	}
	if r.Validate() {
		t.Errorf("Validate() = true after write")
	}

	if _, _, err := r.TryRead(p.DataLen(), dest); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("TryRead(past end) error = %v, want %v", err, ErrOutOfBounds)
	}
}

func TestPage_ReadOptimisticRetries(t *testing.T) {
	p := newTestPage(t, 5, 12)

	attempts := 0
	got := make([]byte, 4)
	err := p.ReadOptimistic(func(g *OptimisticReadGuard) error {
		attempts++
		if attempts == 1 {
			// a writer sneaks in during the first attempt
			w := p.Write()
			copy(w.Data(), "data")
			w.Release()
		}
		if _, ok, err := g.TryRead(0, got); err != nil {
			return err
		} else if !ok {
			return ErrReadConflict
		}
		return nil
	})

	assert.Equal(t, err, nil)
	assert.Equal(t, attempts, 2)
	assert.Equal(t, string(got), "data")
}

func TestPage_ScopedReleaseOnPanic(t *testing.T) {
	p := newTestPage(t, 7, 12)

	assert.Panic(t, func() {
		_ = p.WithWrite(func(g *ExclusiveGuard) error {
			panic("boom")
		})
	}, "boom")
	assert.Equal(t, p.Latch().State(), StateOpen)

	assert.Panic(t, func() {
		_ = p.WithShare(func(g *SharedGuard) error {
			panic("boom")
		})
	}, "boom")
	assert.Equal(t, p.Latch().State(), StateOpen)

	errFail := errors.New("fail")
	if err := p.WithShare(func(g *SharedGuard) error { return errFail }); !errors.Is(err, errFail) {
		t.Errorf("WithShare() error = %v, want %v", err, errFail)
	}
	assert.Equal(t, p.Latch().State(), StateOpen)
}

func TestPage_WriteContext(t *testing.T) {
	p := newTestPage(t, 9, 12)
	s := p.Share()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.WriteContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WriteContext() error = %v, want %v", err, context.DeadlineExceeded)
	}
	s.Release()

	g, err := p.WriteContext(context.Background())
	if err != nil {
		t.Fatalf("WriteContext() error = %v", err)
	}
	g.Release()

	s, err = p.ShareContext(context.Background())
	if err != nil {
		t.Fatalf("ShareContext() error = %v", err)
	}
	s.Release()
}

func TestNewPage_rejectsMismatchedClass(t *testing.T) {
	frame, err := NewFrame(newTestSlot(12))
	if err != nil {
		t.Fatalf("NewFrame() error = %v", err)
	}
	frame.Activate(1, 13, true)
	if _, err := NewPage(frame, 0); !errors.Is(err, ErrBadFrame) {
		t.Errorf("NewPage() error = %v, want %v", err, ErrBadFrame)
	}
}
