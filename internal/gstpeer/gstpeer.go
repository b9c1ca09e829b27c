// Package gstpeer feeds the buffers of a camera pad into a real GStreamer
// pipeline through appsrc.
//
// Caps offered to negotiation are configured up front: appsrc cannot
// answer a caps query for downstream before the pipeline is running, so
// the launch line is expected to constrain the format itself.
package gstpeer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/moralrecordings/gst-droid/pipeline"
)

var initOnce sync.Once

// Pipeline is a launched GStreamer pipeline containing one or more appsrc
// elements.
type Pipeline struct {
	pipeline *gst.Pipeline
	log      zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Launch parses a gst-launch description, e.g.
//
//	appsrc name=vfsrc ! videoconvert ! fakesink
func Launch(description string, log zerolog.Logger) (*Pipeline, error) {
	initOnce.Do(func() { gst.Init(nil) })

	p, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, fmt.Errorf("gstpeer: failed to create pipeline: %w", err)
	}
	return &Pipeline{pipeline: p, log: log}, nil
}

// Peer returns a peer for the appsrc element called name. accept restricts
// the caps offered to negotiation; ANY offers everything.
func (p *Pipeline) Peer(name string, accept pipeline.Caps) (*Peer, error) {
	elem, err := p.pipeline.GetElementByName(name)
	if err != nil {
		return nil, fmt.Errorf("gstpeer: no element %q: %w", name, err)
	}
	src := app.SrcFromElement(elem)
	if err := src.SetProperty("format", gst.FormatTime); err != nil {
		return nil, fmt.Errorf("gstpeer: set format on %s: %w", name, err)
	}
	if err := src.SetProperty("is-live", true); err != nil {
		return nil, fmt.Errorf("gstpeer: set is-live on %s: %w", name, err)
	}
	return &Peer{
		name:   name,
		src:    src,
		accept: accept,
		log:    p.log.With().Str("appsrc", name).Logger(),
	}, nil
}

// Start sets the pipeline to PLAYING and watches its bus until Stop
func (p *Pipeline) Start() error {
	if err := p.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstpeer: failed to start pipeline: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.watchBus(ctx)
	return nil
}

// Stop shuts the pipeline down
func (p *Pipeline) Stop() error {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
		p.cancel = nil
	}
	if err := p.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("gstpeer: failed to stop pipeline: %w", err)
	}
	return nil
}

func (p *Pipeline) watchBus(ctx context.Context) {
	defer p.wg.Done()

	bus := p.pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			p.log.Info().Msg("pipeline reached end of stream")
		case gst.MessageError:
			gerr := msg.ParseError()
			p.log.Error().Str("error", gerr.Error()).Str("debug", gerr.DebugString()).Msg("pipeline error")
		case gst.MessageStateChanged:
			if msg.Source() == p.pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				p.log.Debug().Str("from", old.String()).Str("to", new.String()).Msg("pipeline state changed")
			}
		}
	}
}

// Peer implements pipeline.Peer on top of an appsrc
type Peer struct {
	name   string
	src    *app.Source
	accept pipeline.Caps
	log    zerolog.Logger
}

// Push copies the buffer into GStreamer memory and releases it
func (p *Peer) Push(buf *pipeline.Buffer) pipeline.FlowReturn {
	defer buf.Release()

	gbuf := gst.NewBufferFromBytes(buf.Data)
	if buf.PTS >= 0 {
		gbuf.SetPresentationTimestamp(buf.PTS)
	}
	if buf.Duration >= 0 {
		gbuf.SetDuration(buf.Duration)
	}
	return fromGst(p.src.PushBuffer(gbuf))
}

// PushEvent forwards caps to appsrc and ends the stream on EOS. appsrc
// produces stream-start and segment on its own.
func (p *Peer) PushEvent(ev *pipeline.Event) bool {
	switch ev.Type {
	case pipeline.EventCaps:
		p.log.Debug().Str("caps", ev.Caps.String()).Msg("setting appsrc caps")
		p.src.SetCaps(gst.NewCapsFromString(ev.Caps.String()))
	case pipeline.EventEOS:
		return p.src.EndStream() == gst.FlowOK
	}
	return true
}

// QueryCaps returns the configured accept caps restricted to filter
func (p *Peer) QueryCaps(filter pipeline.Caps) pipeline.Caps {
	return p.accept.Intersect(filter)
}

func fromGst(ret gst.FlowReturn) pipeline.FlowReturn {
	switch ret {
	case gst.FlowOK:
		return pipeline.FlowOK
	case gst.FlowNotLinked:
		return pipeline.FlowNotLinked
	case gst.FlowFlushing:
		return pipeline.FlowFlushing
	case gst.FlowEOS:
		return pipeline.FlowEOS
	case gst.FlowNotNegotiated:
		return pipeline.FlowNotNegotiated
	case gst.FlowNotSupported:
		return pipeline.FlowNotSupported
	default:
		return pipeline.FlowError
	}
}
