package ptyhandle

import "sync"

// RingBuffer is a fixed-capacity buffer of byte chunks that drops the
// oldest chunk once full. Used to retain raw scrollback independent of
// the VT parser's own screen/scrollback state.
type RingBuffer struct {
	data [][]byte
	max  int
	mu   sync.Mutex
}

// NewRingBuffer creates a ring buffer holding at most capacity chunks.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		data: make([][]byte, 0, capacity),
		max:  capacity,
	}
}

// Push appends a copy of data, dropping the oldest chunk if full.
func (rb *RingBuffer) Push(data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	copied := make([]byte, len(data))
	copy(copied, data)

	if len(rb.data) >= rb.max {
		rb.data = rb.data[1:]
	}
	rb.data = append(rb.data, copied)
}

// Drain returns and clears all buffered chunks concatenated together.
func (rb *RingBuffer) Drain() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	var result []byte
	for _, chunk := range rb.data {
		result = append(result, chunk...)
	}
	rb.data = rb.data[:0]
	return result
}
