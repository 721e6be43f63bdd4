// Package eventbus provides the in-process fan-out bus that decouples the
// scheduler from the session manager, chat engine, and any diagnostics
// consumers.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Topic names an event stream. Publishing packages define their own topic
// constants (e.g. "broadcast.started", "chat.message").
type Topic string

// Event is a lightweight in-memory signal.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data carries a typed payload struct owned by the publishing package.
type Event struct {
	Topic Topic
	Time  time.Time
	Data  any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers every event. If topics are given, only events whose
	// topic matches one of them are delivered.
	Subscribe(buffer int, topics ...Topic) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch     chan Event
	topics map[Topic]struct{} // nil means all
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*subscriber
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if s.topics != nil {
			if _, ok := s.topics[e.Topic]; !ok {
				continue
			}
		}
		// Non-blocking delivery. If the subscriber is slow, we drop. If a
		// subscriber unsubscribes concurrently and the channel closes, recover
		// from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(sub.ch)
		})
	}
	return sub.ch, unsub
}
