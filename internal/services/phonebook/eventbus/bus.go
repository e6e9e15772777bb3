// Package eventbus fans events out to in-process topic subscribers.
//
// Each subscriber owns an unbounded queue drained by its own goroutine, so
// publishers never wait on slow consumers. Events published to a topic reach
// every subscriber in the same order.
package eventbus

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// ErrClosed indicates the bus or subscription has been closed.
var ErrClosed = errors.New("event bus is closed")

// Bus is a topic registry. The zero value is not usable; call New.
type Bus[T any] struct {
	mu     sync.Mutex
	topics map[string][]*Subscription[T]
	closed bool
}

// New returns an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{topics: make(map[string][]*Subscription[T])}
}

// Publish enqueues event for every current subscriber of topic and returns
// how many subscribers it reached.
func (b *Bus[T]) Publish(topic string, event T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, sub := range b.topics[topic] {
		if sub.enqueue(event) {
			delivered++
		}
	}
	return delivered
}

// Subscribe registers a subscriber for topic. Only events published after
// Subscribe returns are delivered.
func (b *Bus[T]) Subscribe(topic string) (*Subscription[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	sub := &Subscription[T]{
		bus:    b,
		topic:  topic,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		events: make(chan T),
	}
	b.topics[topic] = append(b.topics[topic], sub)
	go sub.pump()
	return sub, nil
}

// Unsubscribe removes sub from its topic and discards its pending events.
// Calling it more than once is a no-op.
func (b *Bus[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	subs := b.topics[sub.topic]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	} else {
		b.topics[sub.topic] = subs
	}
	b.mu.Unlock()

	sub.shutdown()
}

// SubscriberCount returns the number of live subscribers on topic.
func (b *Bus[T]) SubscriberCount(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics[topic])
}

// Close shuts down every subscription. Later Subscribe calls fail with
// ErrClosed and Publish reaches nobody.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string][]*Subscription[T])
	b.mu.Unlock()

	for _, subs := range topics {
		for _, sub := range subs {
			sub.shutdown()
		}
	}
}

// Subscription is one consumer of a topic.
type Subscription[T any] struct {
	bus   *Bus[T]
	topic string

	mu     sync.Mutex
	queue  []T
	closed bool

	notify    chan struct{}
	done      chan struct{}
	events    chan T
	closeOnce sync.Once
}

// Events returns the delivery channel. It is closed once the subscription
// is closed.
func (s *Subscription[T]) Events() <-chan T {
	return s.events
}

// Next blocks until an event arrives, ctx ends, or the subscription closes.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case event, ok := <-s.events:
		if !ok {
			return zero, ErrClosed
		}
		return event, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// All yields events until ctx ends, the subscription closes, or the caller
// stops iterating. The subscription is closed when iteration ends.
func (s *Subscription[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		defer s.Close()
		for {
			event, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(event) {
				return
			}
		}
	}
}

// Close unsubscribes and discards pending events. It is safe to call more
// than once.
func (s *Subscription[T]) Close() {
	s.bus.Unsubscribe(s)
}

func (s *Subscription[T]) enqueue(event T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription[T]) shutdown() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription[T]) pump() {
	defer close(s.events)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		event := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}
