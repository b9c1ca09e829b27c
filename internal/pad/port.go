// Package pad implements the source pads of the camera element: a FIFO of
// captured buffers per stream and the task that pushes them downstream.
//
// Buffers arrive from the HAL thread through Enqueue. The pad task blocks
// on a condition variable while the queue is empty; deactivation wakes it
// with nothing queued and running cleared, which the loop treats as exit.
package pad

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/moralrecordings/gst-droid/internal/msgbus"
	"github.com/moralrecordings/gst-droid/internal/stats"
	"github.com/moralrecordings/gst-droid/internal/task"
	"github.com/moralrecordings/gst-droid/pipeline"
)

// DefaultJoinTimeout is how long deactivation waits for the pad task to exit
const DefaultJoinTimeout = 3 * time.Second

// ErrTaskStop is returned when the pad task fails to exit on deactivation
var ErrTaskStop = errors.New("pad: failed to stop task")

// Kind identifies the stream carried by a port
type Kind int

const (
	Viewfinder Kind = iota
	Image
	Video
)

// Name returns the pad name of the stream
func (k Kind) Name() string {
	switch k {
	case Viewfinder:
		return "vfsrc"
	case Image:
		return "imgsrc"
	case Video:
		return "vidsrc"
	default:
		return fmt.Sprintf("src_%d", int(k))
	}
}

func (k Kind) String() string { return k.Name() }

// NegotiateFunc agrees on caps with the peer. It runs on the pad task
// without the port lock held and reports whether negotiation succeeded.
type NegotiateFunc func(p *Port) bool

// Metrics are the counters a port updates. Nil fields are replaced by
// unregistered counters.
type Metrics struct {
	Enqueued     prometheus.Counter
	Delivered    prometheus.Counter
	Dropped      prometheus.Counter
	Failures     prometheus.Counter
	Negotiations prometheus.Counter
}

// Options holds the settings of a port
type Options struct {
	Kind     Kind
	Element  string
	Template pipeline.Caps
	// MaxDeliveryFailures consecutive failed pushes post an error and pause
	// the task. Zero disables escalation.
	MaxDeliveryFailures int
	JoinTimeout         time.Duration
	Bus                 msgbus.Bus
	Metrics             Metrics
	Logger              zerolog.Logger
}

// Stats is a snapshot of the counters of a port
type Stats struct {
	Name         string
	Active       bool
	Halted       bool
	Queued       int
	Enqueued     uint64
	Delivered    uint64
	Dropped      uint64
	Failures     uint64
	Negotiations uint64
	FPS          stats.FPSStats
}

// Port is one source pad with its queue and task
type Port struct {
	kind        Kind
	name        string
	element     string
	template    pipeline.Caps
	maxFailures int
	joinTimeout time.Duration
	bus         msgbus.Bus
	metrics     Metrics
	log         zerolog.Logger
	failLog     rate.Sometimes
	task        *task.Task

	mu          sync.Mutex
	cond        *sync.Cond
	queue       []*pipeline.Buffer
	running     bool
	halted      bool
	openStream  bool
	openSegment bool
	capsPending bool
	reconfigure bool
	caps        pipeline.Caps
	haveCaps    bool
	segment     pipeline.Segment
	negotiate   NegotiateFunc
	peer        pipeline.Peer

	// touched only by the pad task
	failures int

	window       stats.Window
	enqueued     atomic.Uint64
	delivered    atomic.Uint64
	dropped      atomic.Uint64
	failed       atomic.Uint64
	negotiations atomic.Uint64
}

// New creates an inactive port
func New(opts Options) *Port {
	name := opts.Kind.Name()
	p := &Port{
		kind:        opts.Kind,
		name:        name,
		element:     opts.Element,
		template:    opts.Template,
		maxFailures: opts.MaxDeliveryFailures,
		joinTimeout: opts.JoinTimeout,
		bus:         opts.Bus,
		metrics:     withDefaults(opts.Metrics),
		log:         opts.Logger.With().Str("pad", name).Logger(),
		failLog:     rate.Sometimes{First: 1, Interval: time.Second},
		segment:     pipeline.NewSegment(pipeline.FormatTime),
	}
	if p.joinTimeout <= 0 {
		p.joinTimeout = DefaultJoinTimeout
	}
	p.cond = sync.NewCond(&p.mu)
	p.task = task.New(name, p.loop, p.log)
	return p
}

func withDefaults(m Metrics) Metrics {
	fill := func(c *prometheus.Counter, name string) {
		if *c == nil {
			*c = prometheus.NewCounter(prometheus.CounterOpts{Name: name})
		}
	}
	fill(&m.Enqueued, "enqueued")
	fill(&m.Delivered, "delivered")
	fill(&m.Dropped, "dropped")
	fill(&m.Failures, "failures")
	fill(&m.Negotiations, "negotiations")
	return m
}

// Name returns the pad name
func (p *Port) Name() string { return p.name }

// Kind returns the stream kind
func (p *Port) Kind() Kind { return p.kind }

// Template returns the caps the pad may ever produce
func (p *Port) Template() pipeline.Caps { return p.template }

// SetNegotiate installs the negotiation callback
func (p *Port) SetNegotiate(fn NegotiateFunc) {
	p.mu.Lock()
	p.negotiate = fn
	p.mu.Unlock()
}

// SetPeer links the pad to its downstream peer. Linking requests a
// renegotiation, and a new peer gets the stream-start, caps and segment
// events again before its first buffer.
func (p *Port) SetPeer(peer pipeline.Peer) {
	p.mu.Lock()
	if peer != nil && peer != p.peer {
		p.openStream = true
		p.openSegment = true
		p.capsPending = p.haveCaps
	}
	p.peer = peer
	p.reconfigure = true
	p.cond.Signal()
	p.mu.Unlock()
}

// Peer returns the linked peer, or nil
func (p *Port) Peer() pipeline.Peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

// MarkReconfigure requests negotiation before the next buffer
func (p *Port) MarkReconfigure() {
	p.mu.Lock()
	p.reconfigure = true
	p.cond.Signal()
	p.mu.Unlock()
}

// Caps returns the negotiated caps, if any
func (p *Port) Caps() (pipeline.Caps, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.caps, p.haveCaps
}

// SetCaps stores negotiated caps; a caps event is sent before the next
// buffer.
func (p *Port) SetCaps(caps pipeline.Caps) {
	p.mu.Lock()
	p.caps = caps
	p.haveCaps = true
	p.capsPending = true
	p.mu.Unlock()
	p.negotiations.Add(1)
	p.metrics.Negotiations.Inc()
}

// IsActive reports whether the pad task is running
func (p *Port) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// IsHalted reports whether the pad stopped streaming after an error. A
// halted pad stays active but drops every buffer until it is deactivated.
func (p *Port) IsHalted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.halted
}

// Enqueue appends a buffer and wakes the task. Buffers arriving while the
// pad is inactive or halted are released.
func (p *Port) Enqueue(buf *pipeline.Buffer) {
	p.mu.Lock()
	if !p.running || p.halted {
		p.mu.Unlock()
		buf.Release()
		p.dropped.Add(1)
		p.metrics.Dropped.Inc()
		return
	}
	p.queue = append(p.queue, buf)
	p.cond.Signal()
	p.mu.Unlock()

	p.enqueued.Add(1)
	p.metrics.Enqueued.Inc()
}

// Activate starts or stops the pad task. Deactivation releases every
// queued buffer and the negotiated caps.
func (p *Port) Activate(active bool) error {
	if active {
		p.mu.Lock()
		if p.running {
			p.mu.Unlock()
			return nil
		}
		p.openStream = true
		p.openSegment = true
		p.reconfigure = true
		p.segment = pipeline.NewSegment(pipeline.FormatTime)
		p.failures = 0
		p.halted = false
		p.running = true
		p.mu.Unlock()

		p.window.Reset()
		p.task.Start()
		p.log.Info().Msg("pad activated")
		return nil
	}

	p.mu.Lock()
	p.running = false
	p.halted = false
	p.cond.Signal()
	p.mu.Unlock()

	p.task.Stop()
	if err := p.task.Join(p.joinTimeout); err != nil {
		p.log.Error().Err(err).Msg("failed to stop task")
		return fmt.Errorf("%w %s: %w", ErrTaskStop, p.name, err)
	}

	p.mu.Lock()
	n := p.flushLocked()
	p.mu.Unlock()

	p.log.Info().Int("released", n).Msg("pad deactivated")
	return nil
}

// Destroy deactivates the pad if needed and drops everything it holds
func (p *Port) Destroy() {
	if err := p.Activate(false); err != nil {
		p.log.Warn().Err(err).Msg("deactivate on destroy failed")
	}

	p.mu.Lock()
	p.flushLocked()
	p.peer = nil
	p.negotiate = nil
	p.mu.Unlock()
}

func (p *Port) flushLocked() int {
	n := p.releaseQueueLocked()
	p.caps = pipeline.Caps{}
	p.haveCaps = false
	p.capsPending = false
	return n
}

// Stats returns a snapshot of the port counters
func (p *Port) Stats() Stats {
	p.mu.Lock()
	active, halted, queued := p.running, p.halted, len(p.queue)
	p.mu.Unlock()

	return Stats{
		Name:         p.name,
		Active:       active,
		Halted:       halted,
		Queued:       queued,
		Enqueued:     p.enqueued.Load(),
		Delivered:    p.delivered.Load(),
		Dropped:      p.dropped.Load(),
		Failures:     p.failed.Load(),
		Negotiations: p.negotiations.Load(),
		FPS:          p.window.Snapshot(),
	}
}

func (p *Port) releaseQueueLocked() int {
	n := len(p.queue)
	for i, buf := range p.queue {
		buf.Release()
		p.queue[i] = nil
	}
	p.queue = nil
	return n
}

// haltLocked pauses the task after a streaming error and gives every queued
// buffer back to its owner. Caller holds p.mu.
func (p *Port) haltLocked() {
	p.halted = true
	if n := p.releaseQueueLocked(); n > 0 {
		p.dropped.Add(uint64(n))
		p.metrics.Dropped.Add(float64(n))
		p.log.Debug().Int("released", n).Msg("queue flushed on halt")
	}
	p.task.Pause()
}

func (p *Port) pop() *pipeline.Buffer {
	if len(p.queue) == 0 {
		return nil
	}
	buf := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return buf
}

// loop is the task body, invoked until the task is stopped or paused
func (p *Port) loop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}

	if p.reconfigure {
		p.reconfigure = false
		if neg := p.negotiate; neg != nil {
			p.mu.Unlock()
			ok := neg(p)
			p.mu.Lock()

			if !p.running {
				p.mu.Unlock()
				return
			}
			if !ok {
				p.log.Error().Msg("negotiation failed")
				p.haltLocked()
				p.postError("format", fmt.Sprintf("failed to negotiate %s.", p.name), nil)
				p.mu.Unlock()
				return
			}
		}
	}

	buf := p.pop()
	if buf == nil {
		p.cond.Wait()
		if !p.running || p.reconfigure {
			p.mu.Unlock()
			return
		}
		if buf = p.pop(); buf == nil {
			p.mu.Unlock()
			return
		}
	}

	peer := p.peer
	if peer == nil {
		// bootstrap events stay pending for whoever links next
		p.mu.Unlock()
		p.handleFlow(pipeline.FlowNotLinked, buf)
		buf.Release()
		return
	}

	openStream, openSegment, capsPending := p.openStream, p.openSegment, p.capsPending
	caps, segment := p.caps, p.segment
	p.openStream, p.openSegment, p.capsPending = false, false, false
	p.mu.Unlock()

	if openStream {
		ev := pipeline.NewStreamStartEvent(fmt.Sprintf("%s/%s/%s", p.element, p.name, uuid.NewString()))
		ev.SetGroupID(pipeline.NextGroupID())
		p.log.Debug().Str("stream_id", ev.StreamID).Uint32("group_id", ev.GroupID).Msg("pushing stream start")
		if !peer.PushEvent(ev) {
			p.log.Warn().Msg("stream start not handled downstream")
		}
	}
	if capsPending {
		p.log.Debug().Str("caps", caps.String()).Msg("pushing caps")
		if !peer.PushEvent(pipeline.NewCapsEvent(caps)) {
			p.log.Warn().Str("caps", caps.String()).Msg("caps not accepted downstream")
		}
	}
	if openSegment {
		p.log.Debug().Msg("pushing segment")
		if !peer.PushEvent(pipeline.NewSegmentEvent(segment)) {
			p.log.Warn().Msg("segment not handled downstream")
		}
	}

	p.log.Trace().Str("trace_id", buf.TraceID).Dur("pts", buf.PTS).Int("size", buf.Size()).Msg("pushing buffer")
	p.handleFlow(peer.Push(buf), buf)
}

// handleFlow accounts for the result of a push. It runs on the pad task
// without the lock held.
func (p *Port) handleFlow(ret pipeline.FlowReturn, buf *pipeline.Buffer) {
	switch ret {
	case pipeline.FlowOK:
		p.failures = 0
		p.delivered.Add(1)
		p.metrics.Delivered.Inc()
		p.window.Add(time.Now())
		return
	case pipeline.FlowFlushing:
		p.log.Debug().Msg("downstream is flushing")
		return
	}

	p.failures++
	p.failed.Add(1)
	p.metrics.Failures.Inc()
	failures := p.failures
	p.failLog.Do(func() {
		p.log.Warn().
			Str("flow", ret.String()).
			Str("trace_id", buf.TraceID).
			Int("consecutive", failures).
			Msg("error pushing buffer")
	})

	if p.maxFailures <= 0 || failures < p.maxFailures {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.log.Error().Str("flow", ret.String()).Int("consecutive", failures).Msg("too many delivery failures, pausing")
	p.haltLocked()
	p.postError("failed", fmt.Sprintf("internal data stream error on %s.", p.name),
		fmt.Errorf("streaming stopped, reason %s", ret))
}

// postError publishes a stream error for this pad. Caller holds p.mu.
func (p *Port) postError(code, text string, err error) {
	if p.bus == nil {
		return
	}
	msg := msgbus.Message{
		Type:   msgbus.TypeError,
		Source: p.name,
		Domain: "stream",
		Code:   code,
		Text:   text,
		Err:    err,
	}
	if err != nil {
		msg.Debug = err.Error()
	}
	p.bus.Post(msg)
}
