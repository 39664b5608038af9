package events

import (
	"sync"
)

// Publisher is the producer side of the bus
type Publisher interface {
	Publish(e Event)
}

// Bus fans every published event out to all subscribers. Publish never
// waits on a consumer: each subscriber owns an unbounded queue.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish appends the event to every subscriber queue. Events published
// after Close are dropped.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		sub.push(e)
	}
}

// Subscribe registers a consumer that receives every event published from
// now on, in publish order
func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		bus:    b,
		wake:   make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.out)
		close(sub.closed)
		return sub
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.pump()
	return sub
}

// Close stops accepting events. Subscribers still receive everything that
// was queued before Close, then their channel closes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.finish()
	}
}

// Wait blocks until every subscriber has drained its queue after Close
func (b *Bus) Wait() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		<-sub.closed
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscription is one consumer's view of the bus
type Subscription struct {
	bus *Bus

	mu       sync.Mutex
	queue    []Event
	finished bool

	wake     chan struct{}
	out      chan Event
	done     chan struct{} // Unsubscribe requested
	closed   chan struct{} // pump exited
	stopOnce sync.Once
}

// Events delivers queued events in publish order. The channel closes after
// the bus is closed and the backlog is drained, or after Unsubscribe.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Unsubscribe detaches the consumer and discards its backlog
func (s *Subscription) Unsubscribe() {
	s.stopOnce.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
	<-s.closed
}

// Pending returns the number of queued, undelivered events
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves events from the unbounded queue to the delivery channel
func (s *Subscription) pump() {
	defer close(s.closed)
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}
