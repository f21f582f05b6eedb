package transcript

import (
	"sync"
)

// Dispatcher fans values out to subscribers without ever blocking the
// publisher. Each subscriber has its own unbounded mailbox drained by a
// goroutine, so a slow reader delays only itself.
type Dispatcher[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

// NewDispatcher returns an open dispatcher.
func NewDispatcher[T any]() *Dispatcher[T] {
	return &Dispatcher[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscription receives published values in order on C. C is closed after
// Close, or after the dispatcher closes and the mailbox is drained.
type Subscription[T any] struct {
	C <-chan T

	d       *Dispatcher[T]
	out     chan T
	mu      sync.Mutex
	pending []T
	wake    chan struct{}
	done    chan struct{}
	ended   bool
	once    sync.Once
}

// Subscribe registers a new subscriber. Subscribing to a closed dispatcher
// returns a subscription whose channel is already closed.
func (d *Dispatcher[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		d:    d,
		out:  make(chan T),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.C = s.out

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		close(s.out)
		return s
	}
	d.subs[s] = struct{}{}
	d.mu.Unlock()

	go s.pump()
	return s
}

// Publish queues v for every subscriber.
func (d *Dispatcher[T]) Publish(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for s := range d.subs {
		s.push(v)
	}
}

// Subscribers returns the number of live subscriptions.
func (d *Dispatcher[T]) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Close stops accepting values. Subscribers still receive what was queued
// before their channels close.
func (d *Dispatcher[T]) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for s := range d.subs {
		s.end()
	}
	d.subs = nil
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	s.pending = append(s.pending, v)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		v := s.pending[0]
		var zero T
		s.pending[0] = zero
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}

// Close unsubscribes and drops anything still queued.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.d.mu.Lock()
		if s.d.subs != nil {
			delete(s.d.subs, s)
		}
		s.d.mu.Unlock()
		close(s.done)
	})
}
