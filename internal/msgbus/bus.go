// Package msgbus distributes element messages (errors, warnings, property
// notifications, state changes) to any number of subscribers.
//
// Posting never blocks: a subscriber whose channel is full misses the
// message and the drop is counted.
package msgbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrBusClosed          = errors.New("msgbus: bus is closed")
	ErrSubscriberExists   = errors.New("msgbus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("msgbus: subscriber not found")
	ErrNilChannel         = errors.New("msgbus: nil channel provided")
)

// Type of a message
type Type int

const (
	TypeError Type = iota
	TypeWarning
	TypeInfo
	TypeStateChanged
	TypePropertyNotify
)

// String returns a human-readable string representation of the message type
func (t Type) String() string {
	switch t {
	case TypeError:
		return "error"
	case TypeWarning:
		return "warning"
	case TypeInfo:
		return "info"
	case TypeStateChanged:
		return "state-changed"
	case TypePropertyNotify:
		return "property-notify"
	default:
		return "unknown"
	}
}

// Message is posted by an element (or one of its pads) for the application.
type Message struct {
	Type   Type
	Source string // element or pad name
	Seq    uint64
	Time   time.Time

	// error / warning / info
	Domain string // e.g. "stream", "resource", "core"
	Code   string // e.g. "format", "failed"
	Text   string
	Debug  string
	Err    error

	// property-notify
	Property string
	Value    any

	// state-changed
	OldState string
	NewState string
}

// SubscriberStats tracks message distribution per subscriber
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Bus distributes messages to subscribers
type Bus interface {
	Subscribe(id string, ch chan<- Message) error
	Unsubscribe(id string) error
	Post(msg Message)
	Stats(id string) (*SubscriberStats, error)
	Close()
}

type subscriber struct {
	ch    chan<- Message
	stats SubscriberStats
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	seq         uint64
	closed      bool
}

// New creates an empty bus
func New() Bus {
	return &bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers a channel under id
func (b *bus) Subscribe(id string, ch chan<- Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if ch == nil {
		return ErrNilChannel
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber{ch: ch}
	return nil
}

// Unsubscribe removes a subscriber. The channel is not closed.
func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Post stamps msg with a sequence number and time and offers it to every
// subscriber without blocking.
func (b *bus) Post(msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	msg.Seq = atomic.AddUint64(&b.seq, 1)
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- msg:
			atomic.AddUint64(&sub.stats.Sent, 1)
		default:
			atomic.AddUint64(&sub.stats.Dropped, 1)
		}
	}
}

// Stats returns statistics for a subscriber
func (b *bus) Stats(id string) (*SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sub, exists := b.subscribers[id]
	if !exists {
		return nil, ErrSubscriberNotFound
	}
	return &SubscriberStats{
		Sent:    atomic.LoadUint64(&sub.stats.Sent),
		Dropped: atomic.LoadUint64(&sub.stats.Dropped),
	}, nil
}

// Close drops all subscribers; further posts are ignored
func (b *bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.subscribers = nil
}
