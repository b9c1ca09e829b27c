package pipeline

import (
	"sync"
	"time"
)

// Buffer is a unit of media data travelling downstream.
//
// A buffer may carry a release hook that hands the underlying memory back
// to whoever allocated it (a HAL preview slot, a pool). The hook runs at
// most once no matter how many times Release is called.
type Buffer struct {
	Data     []byte
	PTS      time.Duration
	Duration time.Duration
	Offset   uint64
	// TraceID identifies the buffer across logs and metrics
	TraceID string

	once    sync.Once
	release func()
}

// NewBuffer wraps data in a buffer. release may be nil.
func NewBuffer(data []byte, release func()) *Buffer {
	return &Buffer{
		Data:     data,
		PTS:      -1,
		Duration: -1,
		release:  release,
	}
}

// Size returns the payload size in bytes
func (b *Buffer) Size() int {
	if b == nil {
		return 0
	}
	return len(b.Data)
}

// Release returns the buffer memory to its owner.
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	b.once.Do(func() {
		if b.release != nil {
			b.release()
		}
	})
}
