package events

import (
	"sync"
	"time"
)

// Record is a dispatched event as seen by a Broker subscriber.
type Record struct {
	Name      string
	Payload   any
	Timestamp time.Time
}

// Subscriber is a channel that receives records
type Subscriber chan *Record

// Broker fans every published record out to subscribers whose pattern
// matches. Publishing never blocks: a subscriber with a full buffer misses
// the record.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]string
	closed      bool
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]string),
	}
}

// Subscribe creates a subscription for events matching pattern. An empty
// pattern receives everything.
func (b *Broker) Subscribe(pattern string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	if b.closed {
		close(sub)
		return sub
	}
	b.subscribers[sub] = pattern
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish delivers a record to every matching subscriber
func (b *Broker) Publish(rec *Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, pattern := range b.subscribers {
		if pattern != "" && !Match(pattern, rec.Name) {
			continue
		}
		select {
		case sub <- rec:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later subscriptions are closed
// immediately.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		close(sub)
		delete(b.subscribers, sub)
	}
	b.closed = true
}
