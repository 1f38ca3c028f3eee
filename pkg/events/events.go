package events

import (
	"sync"
	"time"

	"github.com/cuemby/stackup/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventRunStarted      EventType = "run.started"
	EventRunFinished     EventType = "run.finished"
	EventNodeTransition  EventType = "node.transition"
	EventNodeReady       EventType = "node.ready"
	EventNodeFailed      EventType = "node.failed"
	EventTrustWarning    EventType = "trust.warning"
	EventPostBootstrap   EventType = "postboot.step"
	EventTeardownRemoved EventType = "teardown.removed"
)

// Event represents a provisioning event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	ServiceID string
	From      types.NodeState
	To        types.NodeState
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Publisher is implemented by Broker; nil-safe helpers accept it
type Publisher interface {
	Publish(event *Event)
}

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	relays      map[Subscriber]*relay
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	doneCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		relays:      make(map[Subscriber]*relay),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop delivers the events already queued, ends the loop and waits for it
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// SubscribeAll creates a subscription that never drops events. Events wait
// in an unbounded queue until the consumer reads them, so the consumer must
// keep reading until the channel is closed.
func (b *Broker) SubscribeAll() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := newRelay()
	b.relays[r.out] = r
	return r.out
}

// Unsubscribe removes a subscription and closes its channel. A SubscribeAll
// channel is closed once its queued events have been read.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.relays[sub]; ok {
		delete(b.relays, sub)
		r.close()
		return
	}
	if !b.subscribers[sub] {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.broadcast(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
	for _, r := range b.relays {
		r.push(event)
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers) + len(b.relays)
}

// relay feeds one lossless subscriber from an unbounded queue
type relay struct {
	mu     sync.Mutex
	queue  []*Event
	closed bool
	wake   chan struct{}
	out    Subscriber
}

func newRelay() *relay {
	r := &relay{
		wake: make(chan struct{}, 1),
		out:  make(Subscriber, 50),
	}
	go r.run()
	return r
}

func (r *relay) push(event *Event) {
	r.mu.Lock()
	r.queue = append(r.queue, event)
	r.mu.Unlock()
	r.signal()
}

func (r *relay) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
}

func (r *relay) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *relay) run() {
	defer close(r.out)
	for {
		r.mu.Lock()
		queue, closed := r.queue, r.closed
		r.queue = nil
		r.mu.Unlock()

		for _, event := range queue {
			r.out <- event
		}
		if len(queue) > 0 {
			continue
		}
		if closed {
			return
		}
		<-r.wake
	}
}
