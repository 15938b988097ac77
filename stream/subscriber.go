package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives events from topics it is subscribed to.
// Delivery is non-blocking: when the subscriber's buffer is full the
// event is dropped and counted rather than stalling the dispatcher.
type Subscriber struct {
	// id uniquely identifies this subscriber.
	id string

	// ch is the buffered channel events are sent on.
	ch chan *Event

	// dropped counts events lost to a full buffer.
	dropped atomic.Int64

	// topics tracks which topics this subscriber is on.
	topics map[string]struct{}

	// mu guards topics and filter, and orders delivery against Close
	// so a send can never race the channel closing.
	mu sync.RWMutex

	// filter is an optional predicate. If set, only events
	// matching the filter are delivered.
	filter func(*Event) bool

	// closed marks the subscriber terminated; checked under mu in send.
	closed atomic.Bool
}

// NewSubscriber creates a subscriber with the given buffer size.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns the number of events lost to a full buffer.
func (s *Subscriber) Dropped() int64 {
	return s.dropped.Load()
}

// SetFilter sets an optional event filter predicate.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
}

// addTopic records that this subscriber is on the given topic.
func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

// removeTopic removes a topic from the subscriber's tracked set.
func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send attempts to deliver an event to the subscriber.
// Returns false if the event was not delivered (closed, filter
// mismatch, or full buffer). Only full-buffer losses count as drops.
// The read lock holds Close off until the delivery attempt finishes,
// so the send below never hits a freshly closed channel.
func (s *Subscriber) send(evt *Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		return false
	}

	// Check filter.
	if s.filter != nil && !s.filter(evt) {
		return false
	}

	// Non-blocking send.
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times and
// concurrently with delivery: the write lock waits out in-flight sends
// before the channel closes.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
