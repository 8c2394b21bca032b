package bus

import (
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/opencode-ai/opal/internal/opalerr"
)

// Subscriber receives events delivered to it, one at a time, in the order
// they were broadcast.
type Subscriber func(Event)

// Unsubscribe removes a registration. Safe to call more than once.
type Unsubscribe func()

// Bus is the process-wide event registry. Delivery to Go-level Subscriber
// callbacks is the primary path the Agent Runtime and RPC server use;
// the underlying watermill GoChannel additionally exposes each broadcast
// event on a per-session topic for any consumer that prefers the
// message.Message/pubsub idiom.
type Bus struct {
	mu        sync.RWMutex
	pubsub    *gochannel.GoChannel
	bySession map[string][]*subscription
	wildcard  []*subscription
	nextID    uint64
	closed    bool
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{Persistent: false},
			watermill.NopLogger{},
		),
		bySession: make(map[string][]*subscription),
	}
}

// PubSub returns the underlying watermill GoChannel for advanced use.
func (b *Bus) PubSub() *gochannel.GoChannel { return b.pubsub }

// subscription is one registered Subscriber; it owns an unbounded FIFO
// queue drained by a dedicated goroutine, so Broadcast never blocks on a
// slow or stuck subscriber and never reorders events for it.
type subscription struct {
	id        uint64
	sessionID string // "" for wildcard
	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Event
	closed    bool
	fn        Subscriber
}

func newSubscription(id uint64, sessionID string, fn Subscriber) *subscription {
	s := &subscription{id: id, sessionID: sessionID, fn: fn}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *subscription) enqueue(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, e)
	s.cond.Signal()
}

func (s *subscription) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		e := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.fn(e)
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Subscribe registers fn to receive events for sessionID. The same caller
// may subscribe multiple times; each registration is cleaned up
// independently via the returned Unsubscribe.
func (b *Bus) Subscribe(sessionID string, fn Subscriber) Unsubscribe {
	b.mu.Lock()
	b.nextID++
	sub := newSubscription(b.nextID, sessionID, fn)
	b.bySession[sessionID] = append(b.bySession[sessionID], sub)
	b.mu.Unlock()

	return func() { b.remove(sub) }
}

// SubscribeAll registers fn to receive every event broadcast on the bus,
// regardless of session.
func (b *Bus) SubscribeAll(fn Subscriber) Unsubscribe {
	b.mu.Lock()
	b.nextID++
	sub := newSubscription(b.nextID, "", fn)
	b.wildcard = append(b.wildcard, sub)
	b.mu.Unlock()

	return func() { b.remove(sub) }
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub.close()

	if sub.sessionID == "" {
		b.wildcard = removeSub(b.wildcard, sub)
		return
	}
	list := removeSub(b.bySession[sub.sessionID], sub)
	if len(list) == 0 {
		delete(b.bySession, sub.sessionID)
	} else {
		b.bySession[sub.sessionID] = list
	}
}

func removeSub(list []*subscription, target *subscription) []*subscription {
	out := list[:0]
	for _, s := range list {
		if s.id != target.id {
			out = append(out, s)
		}
	}
	return out
}

// Broadcast fans an event out to every session-specific and wildcard
// subscriber. It returns BusUnavailable only if the registry itself has
// been closed; otherwise it never blocks and never drops a subscriber.
func (b *Bus) Broadcast(sessionID string, evt Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return &opalerr.BusUnavailable{}
	}
	targets := make([]*subscription, 0, len(b.bySession[sessionID])+len(b.wildcard))
	targets = append(targets, b.bySession[sessionID]...)
	targets = append(targets, b.wildcard...)
	b.mu.RUnlock()

	for _, sub := range targets {
		sub.enqueue(evt)
	}

	if data, err := json.Marshal(evt); err == nil {
		_ = b.pubsub.Publish("session."+sessionID, message.NewMessage(watermill.NewUUID(), data))
	}

	return nil
}

// Close tears down the registry; subsequent Broadcast calls fail with
// BusUnavailable.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	all := make([]*subscription, 0)
	for _, subs := range b.bySession {
		all = append(all, subs...)
	}
	all = append(all, b.wildcard...)
	b.bySession = make(map[string][]*subscription)
	b.wildcard = nil
	b.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	return b.pubsub.Close()
}
