// Package hub fans telemetry frames out to passive metric subscribers.
package hub

import "sync"

// subscriberChanSize is the buffer size for each subscriber's channel. A
// subscriber that falls this far behind is dropped rather than allowed to
// stall the publishing session.
const subscriberChanSize = 64

// Subscriber is a passive session's handle onto the broadcast stream. Frames
// arrive on C in publish order (per-subscriber FIFO). Done is closed when the
// subscriber has been removed, either explicitly or because it could not
// keep up.
type Subscriber struct {
	ch   chan []byte
	done chan struct{}
}

// C returns the subscriber's frame channel.
func (s *Subscriber) C() <-chan []byte { return s.ch }

// Done returns a channel closed once the subscriber is removed.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Registry maintains the live set of metric subscribers.
type Registry struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[*Subscriber]struct{})}
}

// Add registers a new subscriber and returns its handle.
func (r *Registry) Add() *Subscriber {
	sub := &Subscriber{
		ch:   make(chan []byte, subscriberChanSize),
		done: make(chan struct{}),
	}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()
	return sub
}

// Remove detaches a subscriber. Removing twice is indistinguishable from
// removing once.
func (r *Registry) Remove(sub *Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(sub)
}

// removeLocked deletes sub from the set and signals it. Caller holds r.mu.
func (r *Registry) removeLocked(sub *Subscriber) {
	if _, ok := r.subs[sub]; !ok {
		return
	}
	delete(r.subs, sub)
	close(sub.done)
}

// Broadcast delivers frame to every live subscriber with a best-effort
// non-blocking send. A subscriber whose buffer is full is removed; the
// publisher never blocks on any individual subscriber. Returns the number of
// subscribers the frame was delivered to.
func (r *Registry) Broadcast(frame []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for sub := range r.subs {
		select {
		case sub.ch <- frame:
			delivered++
		default:
			// Slow consumer: drop it rather than stall telemetry.
			r.removeLocked(sub)
		}
	}
	return delivered
}

// Len returns the current number of subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
