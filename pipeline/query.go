package pipeline

import "time"

// QueryType identifies a question asked of a pad
type QueryType int

const (
	QueryUnknown QueryType = iota
	QueryPosition
	QueryDuration
	QueryLatency
	QueryJitter
	QueryRate
	QuerySeeking
	QuerySegment
	QueryConvert
	QueryFormats
	QueryBuffering
	QueryCustom
	QueryURI
	QueryAllocation
	QueryScheduling
	QueryAcceptCaps
	QueryCaps
	QueryDrain
	QueryContext
)

var queryNames = map[QueryType]string{
	QueryUnknown:    "unknown",
	QueryPosition:   "position",
	QueryDuration:   "duration",
	QueryLatency:    "latency",
	QueryJitter:     "jitter",
	QueryRate:       "rate",
	QuerySeeking:    "seeking",
	QuerySegment:    "segment",
	QueryConvert:    "convert",
	QueryFormats:    "formats",
	QueryBuffering:  "buffering",
	QueryCustom:     "custom",
	QueryURI:        "uri",
	QueryAllocation: "allocation",
	QueryScheduling: "scheduling",
	QueryAcceptCaps: "accept-caps",
	QueryCaps:       "caps",
	QueryDrain:      "drain",
	QueryContext:    "context",
}

// String returns the GStreamer nick of the query type
func (t QueryType) String() string {
	if n, ok := queryNames[t]; ok {
		return n
	}
	return "unknown"
}

// Query is a question a pad answers in place. Input fields are set by the
// asker, result fields by the answering pad.
type Query struct {
	Type QueryType

	// accept-caps: Caps in, AcceptResult out
	// caps: Filter in, Result out
	Caps         Caps
	AcceptResult bool
	Filter       Caps
	Result       Caps

	// latency
	Live       bool
	MinLatency time.Duration
	MaxLatency time.Duration

	// scheduling
	SchedulingModes []PadMode

	// formats
	Formats []Format
}

// NewQuery creates a query with no input
func NewQuery(t QueryType) *Query {
	return &Query{Type: t}
}

// NewAcceptCapsQuery asks whether caps would be accepted as-is
func NewAcceptCapsQuery(caps Caps) *Query {
	return &Query{Type: QueryAcceptCaps, Caps: caps}
}

// NewCapsQuery asks for the caps a pad can produce, restricted to filter
func NewCapsQuery(filter Caps) *Query {
	return &Query{Type: QueryCaps, Filter: filter}
}

// SetLatency fills in the latency answer
func (q *Query) SetLatency(live bool, min, max time.Duration) {
	q.Live = live
	q.MinLatency = min
	q.MaxLatency = max
}

// AddSchedulingMode appends a supported scheduling mode
func (q *Query) AddSchedulingMode(mode PadMode) {
	q.SchedulingModes = append(q.SchedulingModes, mode)
}

// HasSchedulingMode reports whether mode was announced
func (q *Query) HasSchedulingMode(mode PadMode) bool {
	for _, m := range q.SchedulingModes {
		if m == mode {
			return true
		}
	}
	return false
}

// SetFormats replaces the list of supported formats
func (q *Query) SetFormats(formats ...Format) {
	q.Formats = append([]Format(nil), formats...)
}
