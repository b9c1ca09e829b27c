// Package pipeline holds the vocabulary shared between a source element and
// the hosting media framework: buffers, caps, segments, events, queries and
// the downstream peer a pad pushes into.
//
// The types mirror the GStreamer 1.x object model closely enough that an
// adapter (see internal/gstpeer) can translate them one to one, while staying
// plain Go values so elements can be exercised without libgstreamer.
package pipeline

import (
	"fmt"
	"time"
)

// Format is the unit a segment or a position is expressed in.
type Format int

const (
	FormatUndefined Format = iota
	FormatDefault
	FormatBytes
	FormatTime
	FormatBuffers
	FormatPercent
)

// String returns a human-readable string representation of the format
func (f Format) String() string {
	switch f {
	case FormatDefault:
		return "default"
	case FormatBytes:
		return "bytes"
	case FormatTime:
		return "time"
	case FormatBuffers:
		return "buffers"
	case FormatPercent:
		return "percent"
	default:
		return "undefined"
	}
}

// PadMode is the scheduling mode a pad is activated in.
type PadMode int

const (
	PadModeNone PadMode = iota
	PadModePush
	PadModePull
)

// String returns a human-readable string representation of the pad mode
func (m PadMode) String() string {
	switch m {
	case PadModePush:
		return "push"
	case PadModePull:
		return "pull"
	default:
		return "none"
	}
}

// FlowReturn is the result of pushing a buffer downstream.
type FlowReturn int

const (
	FlowOK FlowReturn = iota
	FlowNotLinked
	FlowFlushing
	FlowEOS
	FlowNotNegotiated
	FlowError
	FlowNotSupported
)

// String returns the GStreamer name of the flow return
func (r FlowReturn) String() string {
	switch r {
	case FlowOK:
		return "ok"
	case FlowNotLinked:
		return "not-linked"
	case FlowFlushing:
		return "flushing"
	case FlowEOS:
		return "eos"
	case FlowNotNegotiated:
		return "not-negotiated"
	case FlowError:
		return "error"
	case FlowNotSupported:
		return "not-supported"
	default:
		return fmt.Sprintf("flow(%d)", int(r))
	}
}

// Segment describes the playback region that following buffers belong to.
//
// Stop and Duration of -1 mean "unbounded".
type Segment struct {
	Format   Format
	Rate     float64
	Start    time.Duration
	Stop     time.Duration
	Time     time.Duration
	Position time.Duration
	Duration time.Duration
}

// NewSegment returns a segment initialised the way gst_segment_init does:
// rate 1.0, everything starting at zero and open ended.
func NewSegment(format Format) Segment {
	return Segment{
		Format:   format,
		Rate:     1.0,
		Stop:     -1,
		Duration: -1,
	}
}

// Peer is the downstream side of a source pad.
//
// Implementations must be safe for use from the pad's task goroutine while
// QueryCaps may be called concurrently from negotiation.
type Peer interface {
	// Push delivers a buffer downstream. Ownership of the buffer moves to
	// the peer.
	Push(buf *Buffer) FlowReturn

	// PushEvent delivers a serialized event downstream and reports whether
	// the peer handled it.
	PushEvent(ev *Event) bool

	// QueryCaps returns the caps the peer can accept, restricted to filter
	// when filter is not ANY. Preference order of the peer is preserved.
	QueryCaps(filter Caps) Caps
}
