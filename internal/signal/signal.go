// Package signal implements the publish/subscribe primitives shared by the
// filesystem core and its observers.
//
// A subject keeps an ordered list of callbacks. Subscribing returns a
// Subscription whose Cancel takes effect immediately, also for a fan-out that
// is already in progress. Callbacks run on the publishing goroutine; marshaling
// onto a UI thread is the subscriber's business.
package signal

import (
	"sync"
	"sync/atomic"
)

// Subscription is a cancellable handle returned by Subscribe.
type Subscription struct {
	cancelled atomic.Bool
	remove    func()
}

// Cancel stops future deliveries. Calling it more than once is harmless.
func (s *Subscription) Cancel() {
	if s == nil || s.cancelled.Swap(true) {
		return
	}
	if s.remove != nil {
		s.remove()
	}
}

// Active reports whether the subscription still receives deliveries.
func (s *Subscription) Active() bool {
	return s != nil && !s.cancelled.Load()
}

type handler[T any] struct {
	sub *Subscription
	fn  func(T)
}

// Topic fans a value out to every current subscriber in registration order.
// The zero value is ready to use.
type Topic[T any] struct {
	mu       sync.Mutex
	handlers []*handler[T]
}

// Subscribe registers fn and returns its handle.
func (t *Topic[T]) Subscribe(fn func(T)) *Subscription {
	h := &handler[T]{fn: fn}
	h.sub = &Subscription{remove: func() { t.remove(h) }}

	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
	return h.sub
}

func (t *Topic[T]) remove(h *handler[T]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.handlers {
		if cur == h {
			t.handlers = append(t.handlers[:i:i], t.handlers[i+1:]...)
			return
		}
	}
}

// Publish delivers v synchronously and returns the number of callbacks invoked.
func (t *Topic[T]) Publish(v T) int {
	t.mu.Lock()
	snapshot := make([]*handler[T], len(t.handlers))
	copy(snapshot, t.handlers)
	t.mu.Unlock()

	n := 0
	for _, h := range snapshot {
		if !h.sub.Active() {
			continue
		}
		h.fn(v)
		n++
	}
	return n
}

// Len returns the number of active subscribers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handlers)
}

// Signal is a Topic carrying no value. The zero value is ready to use.
type Signal struct {
	topic Topic[struct{}]
}

// Subscribe registers a zero-argument listener.
func (s *Signal) Subscribe(fn func()) *Subscription {
	return s.topic.Subscribe(func(struct{}) { fn() })
}

// Fire notifies every active listener and returns how many ran.
func (s *Signal) Fire() int {
	return s.topic.Publish(struct{}{})
}

// Len returns the number of active listeners.
func (s *Signal) Len() int {
	return s.topic.Len()
}
