// Package stream carries long lived results (scan sightings, notifications,
// connection events, channel data) from the core to a caller.
//
// A Stream preserves send order, never blocks the sender and terminates
// exactly once, with a nil reason for an explicit stop or an error for a
// disconnect or channel close. Events sent before End are delivered before
// the channel is closed.
package stream

import (
	"sync"
)

type Stream[T any] struct {
	mu        sync.Mutex
	pending   []T
	wake      chan struct{}
	out       chan T
	done      chan struct{}
	ended     bool
	cancelled bool
	err       error
}

// New creates a stream and starts its delivery goroutine.
func New[T any]() *Stream[T] {
	s := &Stream[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
		done: make(chan struct{}),
	}
	go s.pump()
	return s
}

// Events returns the receive side. It is closed after End once every
// pending event has been received.
func (s *Stream[T]) Events() <-chan T {
	return s.out
}

// Send queues v. It returns false if the stream already ended.
func (s *Stream[T]) Send(v T) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, v)
	s.mu.Unlock()

	s.signal()
	return true
}

// End terminates the stream with reason err. Only the first call has an effect.
func (s *Stream[T]) End(err error) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	s.ended = true
	s.err = err
	s.mu.Unlock()

	s.signal()
	return true
}

// Ended reports whether End was called.
func (s *Stream[T]) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Done is closed once the stream has ended and drained. Pending events are
// only drained by a receiver, so a caller that stops reading must Cancel
// instead of waiting on Done.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Err returns the termination reason, nil for an explicit stop.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel ends the stream and discards anything not yet received. Callers
// use it when they stop listening.
func (s *Stream[T]) Cancel() {
	s.mu.Lock()
	s.pending = nil
	s.cancelled = true
	if !s.ended {
		s.ended = true
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Stream[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream[T]) pump() {
	defer close(s.done)
	defer close(s.out)

	for {
		s.mu.Lock()
		if s.cancelled {
			s.mu.Unlock()
			return
		}
		if len(s.pending) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			<-s.wake
			continue
		}
		v := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		if !s.deliver(v) {
			return
		}
	}
}

// deliver blocks until v is received or the stream is cancelled.
func (s *Stream[T]) deliver(v T) bool {
	for {
		select {
		case s.out <- v:
			return true
		case <-s.wake:
			s.mu.Lock()
			cancelled := s.cancelled
			s.mu.Unlock()
			if cancelled {
				return false
			}
		}
	}
}
