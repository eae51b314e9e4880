package columnar

import (
	"errors"
	"sync/atomic"
)

var ErrBufferMoved = errors.New("buffer already moved")

// Ownership is the list of flat buffers that move together with a Buffer.
type Ownership []Attribute

// Bytes is the total size of the owned buffers.
func (o Ownership) Bytes() int {
	n := 0
	for _, a := range o {
		n += a.ByteLength
	}
	return n
}

// Handle carries a Buffer across goroutines with single-owner semantics. The sender gives up
// the buffer when it builds the handle; exactly one Take succeeds on the receiving side.
type Handle struct {
	buf   *Buffer
	own   Ownership
	taken atomic.Bool
}

func NewHandle(buf *Buffer, own Ownership) *Handle {
	return &Handle{buf: buf, own: own}
}

// Take transfers the buffer to the caller. Later calls return ErrBufferMoved.
func (h *Handle) Take() (*Buffer, error) {
	if h == nil || !h.taken.CompareAndSwap(false, true) {
		return nil, ErrBufferMoved
	}
	buf := h.buf
	h.buf = nil
	return buf, nil
}

// Ownership reports what the handle transfers. It stays readable after Take.
func (h *Handle) Ownership() Ownership {
	if h == nil {
		return nil
	}
	return h.own
}
