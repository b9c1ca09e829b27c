package device

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/moralrecordings/gst-droid/hal"
	"github.com/moralrecordings/gst-droid/pipeline"
)

// Target receives buffers from the pool, typically a source pad.
type Target interface {
	Enqueue(buf *pipeline.Buffer)
}

// PoolStats counts frames seen by the pool
type PoolStats struct {
	Delivered uint64
	Dropped   uint64
}

// Pool turns HAL preview frames into buffers and hands them to its target.
// Frames arriving while no target is bound are released and counted as
// dropped.
type Pool struct {
	log zerolog.Logger

	mu       sync.Mutex
	target   Target
	base     time.Duration
	haveBase bool
	duration time.Duration
	offset   uint64

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newPool(log zerolog.Logger) *Pool {
	return &Pool{log: log, duration: -1}
}

// SetTarget binds (or with nil, unbinds) the delivery target
func (p *Pool) SetTarget(t Target) {
	p.mu.Lock()
	p.target = t
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool counters
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Delivered: p.delivered.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// reset restarts running time at the next frame
func (p *Pool) reset(fps int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.haveBase = false
	p.offset = 0
	p.duration = -1
	if fps > 0 {
		p.duration = time.Second / time.Duration(fps)
	}
}

// handleFrame runs on the HAL preview thread
func (p *Pool) handleFrame(frame hal.PreviewFrame) {
	p.mu.Lock()
	target := p.target
	if target == nil {
		p.mu.Unlock()
		if frame.Release != nil {
			frame.Release()
		}
		p.dropped.Add(1)
		return
	}

	if !p.haveBase {
		p.base = frame.Timestamp
		p.haveBase = true
	}
	buf := pipeline.NewBuffer(frame.Data, frame.Release)
	buf.PTS = frame.Timestamp - p.base
	buf.Duration = p.duration
	buf.Offset = p.offset
	buf.TraceID = uuid.New().String()
	p.offset++
	p.mu.Unlock()

	target.Enqueue(buf)
	p.delivered.Add(1)
}
