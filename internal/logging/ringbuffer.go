package logging

import (
	"os"
	"sync"
)

// RingBuffer is a thread-safe circular byte buffer.
// It implements io.Writer and silently overwrites old data when full.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	start int // index of the oldest byte
	count int // bytes currently stored
}

// NewRingBuffer creates a ring buffer with the given capacity in bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1024 * 1024
	}
	return &RingBuffer{
		buf: make([]byte, size),
	}
}

// Write implements io.Writer. Old data is overwritten once capacity is reached.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	size := len(rb.buf)
	if n >= size {
		// Larger than the whole buffer: only the tail survives.
		copy(rb.buf, p[n-size:])
		rb.start = 0
		rb.count = size
		return n, nil
	}

	writeAt := (rb.start + rb.count) % size
	tail := size - writeAt
	if n <= tail {
		copy(rb.buf[writeAt:], p)
	} else {
		copy(rb.buf[writeAt:], p[:tail])
		copy(rb.buf, p[tail:])
	}

	rb.count += n
	if rb.count > size {
		// Overwrote the oldest bytes; advance start past them.
		rb.start = (rb.start + rb.count - size) % size
		rb.count = size
	}

	return n, nil
}

// Bytes returns the buffer contents in chronological order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]byte, rb.count)
	tail := len(rb.buf) - rb.start
	if rb.count <= tail {
		copy(out, rb.buf[rb.start:rb.start+rb.count])
	} else {
		copy(out, rb.buf[rb.start:])
		copy(out[tail:], rb.buf[:rb.count-tail])
	}
	return out
}

// DumpToFile writes the ring buffer contents to a file in chronological order.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0o644)
}
