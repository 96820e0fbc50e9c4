package events

import (
	"sync"
)

// subscriber is one listener on the bus. Lossy subscribers receive on a
// bounded channel and miss messages when behind. Reliable subscribers
// get a pump goroutine with an unbounded queue so nothing is lost.
type subscriber struct {
	in   chan any // nil for lossy subscribers
	out  chan any
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		if s.in != nil {
			close(s.in) // pump drains, then closes out
			return
		}
		close(s.out)
	})
}

// pump shuttles payloads from in to out through an in-memory queue, so
// a publisher is never blocked by a slow reliable subscriber.
func (s *subscriber) pump() {
	var queue []any
	in := s.in
	for {
		if len(queue) == 0 && in == nil {
			close(s.out)
			return
		}
		var out chan any
		var next any
		if len(queue) > 0 {
			out = s.out
			next = queue[0]
		}
		select {
		case v, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			queue = append(queue, v)
		case out <- next:
			queue = queue[1:]
		}
	}
}

// Bus is a small channel-based pub/sub broker. Publishing never blocks;
// slow lossy subscribers lose messages rather than stalling the tick
// path, while reliable subscribers buffer without bound.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Event][]*subscriber
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]*subscriber)}
}

// Subscribe registers a lossy listener for an event: when its buffer is
// full, new messages are dropped. The returned function unsubscribes
// and closes the channel.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	s := &subscriber{out: make(chan any, buffer)}
	return b.add(e, s)
}

// SubscribeReliable registers a lossless listener: every Publish after
// the subscription reaches the channel, in order, no matter how slowly
// it is drained. Meant for changefeed-style consumers where a dropped
// message means lost state.
func (b *Bus) SubscribeReliable(e Event) (<-chan any, func()) {
	s := &subscriber{
		in:  make(chan any, 16),
		out: make(chan any),
	}
	go s.pump()
	return b.add(e, s)
}

func (b *Bus) add(e Event, s *subscriber) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.close()
		return s.out, func() {}
	}
	b.subs[e] = append(b.subs[e], s)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == s {
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			s.close()
		})
	}

	return s.out, unsub
}

// Publish fans the payload out to all subscribers of the event.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs[e] {
		if s.in != nil {
			s.in <- payload
			continue
		}
		select {
		case s.out <- payload:
		default:
			// subscriber is behind; drop
		}
	}
}

// Close tears down all subscriptions. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for e, subs := range b.subs {
		for _, s := range subs {
			s.close()
		}
		delete(b.subs, e)
	}
}
