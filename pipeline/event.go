package pipeline

import (
	"sync/atomic"
	"time"
)

// EventType identifies an event travelling through a pad
type EventType int

const (
	EventUnknown EventType = iota
	EventFlushStart
	EventFlushStop
	EventStreamStart
	EventCaps
	EventSegment
	EventTag
	EventBufferSize
	EventSinkMessage
	EventEOS
	EventTOC
	EventSegmentDone
	EventGap
	EventQOS
	EventSeek
	EventNavigation
	EventLatency
	EventStep
	EventReconfigure
	EventTOCSelect
	EventCustomUpstream
	EventCustomDownstream
	EventCustomDownstreamOOB
	EventCustomDownstreamSticky
	EventCustomBoth
	EventCustomBothOOB
)

var eventNames = map[EventType]string{
	EventUnknown:                "unknown",
	EventFlushStart:             "flush-start",
	EventFlushStop:              "flush-stop",
	EventStreamStart:            "stream-start",
	EventCaps:                   "caps",
	EventSegment:                "segment",
	EventTag:                    "tag",
	EventBufferSize:             "buffersize",
	EventSinkMessage:            "sink-message",
	EventEOS:                    "eos",
	EventTOC:                    "toc",
	EventSegmentDone:            "segment-done",
	EventGap:                    "gap",
	EventQOS:                    "qos",
	EventSeek:                   "seek",
	EventNavigation:             "navigation",
	EventLatency:                "latency",
	EventStep:                   "step",
	EventReconfigure:            "reconfigure",
	EventTOCSelect:              "toc-select",
	EventCustomUpstream:         "custom-upstream",
	EventCustomDownstream:       "custom-downstream",
	EventCustomDownstreamOOB:    "custom-downstream-oob",
	EventCustomDownstreamSticky: "custom-downstream-sticky",
	EventCustomBoth:             "custom-both",
	EventCustomBothOOB:          "custom-both-oob",
}

// String returns the GStreamer nick of the event type
func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// Event carries out-of-band information alongside buffers. Only the
// fields relevant to Type are meaningful.
type Event struct {
	Type EventType

	StreamID string
	GroupID  uint32

	Caps    Caps
	Segment Segment
	Latency time.Duration
}

// NewEvent creates an event with no payload
func NewEvent(t EventType) *Event {
	return &Event{Type: t}
}

// NewStreamStartEvent announces the start of a new stream
func NewStreamStartEvent(streamID string) *Event {
	return &Event{Type: EventStreamStart, StreamID: streamID}
}

// SetGroupID tags a stream-start event with the group it belongs to
func (e *Event) SetGroupID(id uint32) {
	e.GroupID = id
}

// NewSegmentEvent announces the segment of following buffers
func NewSegmentEvent(seg Segment) *Event {
	return &Event{Type: EventSegment, Segment: seg}
}

// NewCapsEvent announces the format of following buffers
func NewCapsEvent(caps Caps) *Event {
	return &Event{Type: EventCaps, Caps: caps}
}

// NewReconfigureEvent asks upstream to renegotiate
func NewReconfigureEvent() *Event {
	return &Event{Type: EventReconfigure}
}

// NewLatencyEvent notifies upstream of the configured pipeline latency
func NewLatencyEvent(latency time.Duration) *Event {
	return &Event{Type: EventLatency, Latency: latency}
}

var groupIDCounter atomic.Uint32

// NextGroupID returns a fresh, process-unique, non-zero group id
func NextGroupID() uint32 {
	for {
		if id := groupIDCounter.Add(1); id != 0 {
			return id
		}
	}
}
