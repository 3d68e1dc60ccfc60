package media

import (
	"sync"
	"sync/atomic"
)

// SharedBuffer is a payload that may live in externally managed memory.
// The release hook runs at most once.
type SharedBuffer struct {
	data    []byte
	release func()
	once    sync.Once
}

// NewSharedBuffer wraps data whose lifetime is controlled by release.
func NewSharedBuffer(data []byte, release func()) *SharedBuffer {
	return &SharedBuffer{data: data, release: release}
}

// NewOwnedBuffer wraps heap memory owned by the frame itself.
func NewOwnedBuffer(data []byte) *SharedBuffer {
	return &SharedBuffer{data: data}
}

// Bytes returns the payload.
func (b *SharedBuffer) Bytes() []byte {
	return b.data
}

// Len returns the payload length.
func (b *SharedBuffer) Len() int {
	return len(b.data)
}

// Release returns the memory to its owner.
func (b *SharedBuffer) Release() {
	b.once.Do(func() {
		if b.release != nil {
			b.release()
		}
		b.data = nil
	})
}

// Ownership is a move-only token for a SharedBuffer. It is handed across
// goroutine boundaries in place of the buffer itself: whoever calls Take
// first becomes the owner, every later Take returns nil.
type Ownership struct {
	buf atomic.Pointer[SharedBuffer]
}

// NewOwnership creates a token holding buf. A nil buf yields an empty token.
func NewOwnership(buf *SharedBuffer) *Ownership {
	o := &Ownership{}
	if buf != nil {
		o.buf.Store(buf)
	}
	return o
}

// Take transfers the buffer to the caller.
func (o *Ownership) Take() *SharedBuffer {
	if o == nil {
		return nil
	}
	return o.buf.Swap(nil)
}

// Peek returns the buffer without transferring it.
func (o *Ownership) Peek() *SharedBuffer {
	if o == nil {
		return nil
	}
	return o.buf.Load()
}

// Held reports whether the token still owns a buffer.
func (o *Ownership) Held() bool {
	return o.Peek() != nil
}

// Release takes the buffer and releases it. Safe to call repeatedly.
func (o *Ownership) Release() {
	if b := o.Take(); b != nil {
		b.Release()
	}
}
