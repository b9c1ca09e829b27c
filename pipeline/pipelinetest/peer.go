// Package pipelinetest provides a recording downstream peer for tests of
// source elements.
package pipelinetest

import (
	"sync"
	"time"

	"github.com/moralrecordings/gst-droid/pipeline"
)

// Item is one thing the peer received, in arrival order: either an event
// or a buffer.
type Item struct {
	Event  *pipeline.Event
	Buffer *pipeline.Buffer
}

// Peer records everything pushed into it.
type Peer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []Item
	caps    pipeline.Caps
	flow    pipeline.FlowReturn
	handled bool
}

// NewPeer creates a peer that accepts every buffer and event and offers
// caps to negotiation.
func NewPeer(caps pipeline.Caps) *Peer {
	p := &Peer{caps: caps, flow: pipeline.FlowOK, handled: true}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetFlowReturn changes the result returned from Push
func (p *Peer) SetFlowReturn(ret pipeline.FlowReturn) {
	p.mu.Lock()
	p.flow = ret
	p.mu.Unlock()
}

// SetCaps changes the caps offered to negotiation
func (p *Peer) SetCaps(caps pipeline.Caps) {
	p.mu.Lock()
	p.caps = caps
	p.mu.Unlock()
}

// Push implements pipeline.Peer. The buffer is released whatever flow
// return is configured.
func (p *Peer) Push(buf *pipeline.Buffer) pipeline.FlowReturn {
	defer buf.Release()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, Item{Buffer: buf})
	p.cond.Broadcast()
	return p.flow
}

// PushEvent implements pipeline.Peer
func (p *Peer) PushEvent(ev *pipeline.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, Item{Event: ev})
	p.cond.Broadcast()
	return p.handled
}

// QueryCaps implements pipeline.Peer
func (p *Peer) QueryCaps(filter pipeline.Caps) pipeline.Caps {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps.Intersect(filter)
}

// Items returns a snapshot of everything received so far
func (p *Peer) Items() []Item {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Item(nil), p.items...)
}

// Buffers returns the received buffers in order
func (p *Peer) Buffers() []*pipeline.Buffer {
	var out []*pipeline.Buffer
	for _, it := range p.Items() {
		if it.Buffer != nil {
			out = append(out, it.Buffer)
		}
	}
	return out
}

// Events returns the received events of type t in order
func (p *Peer) Events(t pipeline.EventType) []*pipeline.Event {
	var out []*pipeline.Event
	for _, it := range p.Items() {
		if it.Event != nil && it.Event.Type == t {
			out = append(out, it.Event)
		}
	}
	return out
}

// WaitBuffers blocks until at least n buffers arrived or timeout expires.
// It reports whether the count was reached.
func (p *Peer) WaitBuffers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.countBuffers() < n {
		if !time.Now().Before(deadline) {
			return false
		}
		p.cond.Wait()
	}
	return true
}

func (p *Peer) countBuffers() int {
	n := 0
	for _, it := range p.items {
		if it.Buffer != nil {
			n++
		}
	}
	return n
}
