package sqlite

import (
	"context"
	"errors"
	"sync"

	"github.com/quillnotes/quill/internal/remote"
)

// ErrHubClosed ends subscriptions when the store shuts down.
var ErrHubClosed = errors.New("change hub closed")

const (
	ownerBuffer = 16
	allBuffer   = 256
)

// Hub fans store writes out to in-process subscribers. It implements
// remote.Feed.
//
// Delivery is best-effort: an event is dropped for a subscriber whose buffer
// is full. Listeners only use events as invalidation triggers, so a full
// buffer already guarantees a pending refetch.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscription)}
}

// Subscribe implements remote.Feed.Subscribe. Events for ownerID, and
// owner-less events, are delivered.
func (h *Hub) Subscribe(ctx context.Context, ownerID string) (remote.Subscription, error) {
	if ownerID == "" {
		return nil, errors.New("owner id is required")
	}
	return h.subscribe(ctx, ownerID, ownerBuffer)
}

// SubscribeAll delivers every event regardless of owner. The push server uses
// it to relay events to its clients.
func (h *Hub) SubscribeAll(ctx context.Context) (remote.Subscription, error) {
	return h.subscribe(ctx, "", allBuffer)
}

func (h *Hub) subscribe(ctx context.Context, ownerID string, buffer int) (remote.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}

	h.nextID++
	sub := &subscription{
		hub:     h,
		id:      h.nextID,
		ownerID: ownerID,
		events:  make(chan remote.Event, buffer),
		done:    make(chan struct{}),
	}
	h.subs[sub.id] = sub

	go func() {
		select {
		case <-ctx.Done():
			sub.end(ctx.Err())
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Publish delivers ev to every matching subscriber without blocking.
func (h *Hub) Publish(ev remote.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs {
		if sub.ownerID != "" && ev.OwnerID != "" && sub.ownerID != ev.OwnerID {
			continue
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription with ErrHubClosed. Later Subscribe calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.end(ErrHubClosed)
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

type subscription struct {
	hub     *Hub
	id      uint64
	ownerID string
	events  chan remote.Event
	done    chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func (s *subscription) Events() <-chan remote.Event { return s.events }

func (s *subscription) Done() <-chan struct{} { return s.done }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.end(nil)
	return nil
}

func (s *subscription) end(err error) {
	s.once.Do(func() {
		s.hub.remove(s.id)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	})
}
