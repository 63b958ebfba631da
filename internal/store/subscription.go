package store

import "sync"

// mailbox is a bounded per-subscriber queue. When full, the oldest pending
// value is dropped so the reader always ends on the most recent value.
type mailbox[T any] struct {
	ch chan T
}

func newMailbox[T any](size int) *mailbox[T] {
	if size < 1 {
		size = 1
	}
	return &mailbox[T]{ch: make(chan T, size)}
}

// offer must be called with the lock that owns the mailbox registration held,
// which makes it the only sender.
func (m *mailbox[T]) offer(v T) {
	select {
	case m.ch <- v:
		return
	default:
	}
	select {
	case <-m.ch:
	default:
	}
	m.ch <- v
}

// shut discards pending values and closes the channel. Same locking rule as
// offer.
func (m *mailbox[T]) shut() {
	for len(m.ch) > 0 {
		<-m.ch
	}
	close(m.ch)
}

// Subscription delivers the current value of a room channel followed by
// every later value. C is closed once the subscription is cancelled.
type Subscription[T any] struct {
	C <-chan T

	once   sync.Once
	cancel func()
}

func newSubscription[T any](mb *mailbox[T], cancel func()) *Subscription[T] {
	return &Subscription[T]{C: mb.ch, cancel: cancel}
}

// Cancel unregisters the subscription. No value is delivered after Cancel
// returns; it is safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(s.cancel)
}
