package remote

import "sync"

// Subscription is a live query handle. Snapshots are delivered on a channel
// with room for one pending value; a newer snapshot replaces an undelivered
// older one, since each carries the full collection.
type Subscription struct {
	mu      sync.Mutex
	ch      chan Snapshot
	done    chan struct{}
	closed  bool
	onClose func()
}

// NewSubscription returns an open subscription. onClose, if set, runs once
// when the subscription is cancelled, after which Publish drops everything.
func NewSubscription(onClose func()) *Subscription {
	return &Subscription{
		ch:      make(chan Snapshot, 1),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Snapshots returns the delivery channel. It is closed on Cancel.
func (s *Subscription) Snapshots() <-chan Snapshot {
	return s.ch
}

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Publish delivers snap without blocking. It returns false when the
// subscription is already cancelled.
func (s *Subscription) Publish(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- snap:
		return true
	default:
	}
	// Replace the stale pending snapshot.
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
	return true
}

// Cancel stops delivery. Safe to call multiple times.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}
