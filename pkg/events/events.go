// Package events fans processing-complete notifications out to any number of
// subscribers, such as a feed view that must refresh.
//
// Publish never blocks: a subscriber whose channel is full misses the event
// and the drop is counted.
package events

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/factline/cli/pkg/api"
)

var (
	ErrSubscriberExists   = errors.New("subscriber id already exists")
	ErrSubscriberNotFound = errors.New("subscriber id not found")
	ErrBusClosed          = errors.New("bus is closed")
)

// ProcessingComplete announces that a content item reached a terminal
// processing status.
type ProcessingComplete struct {
	ContentID          string          `json:"contentId"`
	ContentType        api.ContentKind `json:"contentType"`
	Status             string          `json:"status"`
	VerificationStatus string          `json:"verificationStatus,omitempty"`
}

// Stats is a snapshot of delivery counters.
type Stats struct {
	Published   uint64
	Sent        uint64
	Dropped     uint64
	Subscribers int
}

type subscriber struct {
	ch      chan<- ProcessingComplete
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes ProcessingComplete events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	published atomic.Uint64
	// Counters of subscribers that already left.
	sentGone    atomic.Uint64
	droppedGone atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers ch under id.
func (b *Bus) Subscribe(id string, ch chan<- ProcessingComplete) error {
	if ch == nil {
		return errors.New("subscriber channel cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[id] = &subscriber{ch: ch}
	return nil
}

// Unsubscribe removes a subscriber. Its channel is not closed.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	sub, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	b.sentGone.Add(sub.sent.Load())
	b.droppedGone.Add(sub.dropped.Load())
	delete(b.subscribers, id)
	return nil
}

// Publish delivers ev to every subscriber with room in its channel.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ev ProcessingComplete) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

// Stats returns the current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := Stats{
		Published:   b.published.Load(),
		Sent:        b.sentGone.Load(),
		Dropped:     b.droppedGone.Load(),
		Subscribers: len(b.subscribers),
	}
	for _, sub := range b.subscribers {
		st.Sent += sub.sent.Load()
		st.Dropped += sub.dropped.Load()
	}
	return st
}

// Close detaches every subscriber. Further Subscribe calls fail.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	b.subscribers = make(map[string]*subscriber)
	return nil
}
