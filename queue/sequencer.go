// Package queue serializes the GATT commands of one peripheral so the
// native stack never sees two operations in flight.
package queue

import (
	"sync"

	"github.com/golang-collections/go-datastructures/queue"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/gatt"
)

// Executor sends c to the native layer. It returns wait=true when a
// completion callback will follow, in which case the command stays in
// flight until Finish. An error resolves c with that error.
type Executor func(c gatt.Command) (wait bool, err error)

// Sequencer is a FIFO with at most one command in flight.
type Sequencer struct {
	mu       sync.Mutex
	q        *queue.Queue
	inflight gatt.Command
	exec     Executor
	blecentral.Logger
}

func New(exec Executor, l blecentral.Logger) *Sequencer {
	if l == nil {
		l = blecentral.GetLogger()
	}
	return &Sequencer{
		q:      queue.New(8),
		exec:   exec,
		Logger: l,
	}
}

// Enqueue appends c and returns without waiting for it to run.
func (s *Sequencer) Enqueue(c gatt.Command) error {
	s.mu.Lock()
	err := s.q.Put(c)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.drain()
	return nil
}

// InFlight returns the command awaiting a native callback, nil if idle.
func (s *Sequencer) InFlight() gatt.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight
}

// Finish releases c if it is still in flight and starts the next command.
// It reports false for a stale or unknown command.
func (s *Sequencer) Finish(c gatt.Command) bool {
	s.mu.Lock()
	if s.inflight == nil || s.inflight != c {
		s.mu.Unlock()
		return false
	}
	s.inflight = nil
	s.mu.Unlock()

	s.drain()
	return true
}

// Clear resolves every queued command and the in-flight one with err and
// leaves the sequencer idle.
func (s *Sequencer) Clear(err error) int {
	s.mu.Lock()
	var cmds []gatt.Command
	if s.inflight != nil {
		cmds = append(cmds, s.inflight)
		s.inflight = nil
	}
	if n := s.q.Len(); n > 0 {
		items, qerr := s.q.Get(n)
		if qerr != nil {
			s.Errorf("queue: clear: %v", qerr)
		}
		for _, it := range items {
			cmds = append(cmds, it.(gatt.Command))
		}
	}
	s.mu.Unlock()

	for _, c := range cmds {
		c.Fail(err)
	}
	return len(cmds)
}

// Len returns the number of queued commands, not counting the in-flight one.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.q.Len())
}

// Idle reports whether nothing is queued or in flight.
func (s *Sequencer) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight == nil && s.q.Empty()
}

// next pops the head of the queue and marks it in flight. Get never blocks
// here: the queue is only touched under mu and is known to be non-empty.
func (s *Sequencer) next() gatt.Command {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inflight != nil || s.q.Empty() {
		return nil
	}
	items, err := s.q.Get(1)
	if err != nil || len(items) == 0 {
		return nil
	}
	c := items[0].(gatt.Command)
	s.inflight = c
	return c
}

// release clears c from flight after it resolved without a callback.
func (s *Sequencer) release(c gatt.Command) {
	s.mu.Lock()
	if s.inflight == c {
		s.inflight = nil
	}
	s.mu.Unlock()
}

func (s *Sequencer) drain() {
	for {
		c := s.next()
		if c == nil {
			return
		}

		if c.Resolved() {
			// failed by Clear or a caller before it reached the front
			s.release(c)
			continue
		}

		wait, err := s.exec(c)
		switch {
		case err != nil:
			s.Debugf("queue: %v not sent: %v", c.Kind(), err)
			s.release(c)
			c.Fail(err)
		case !wait:
			s.release(c)
		default:
			// in flight until Finish; a callback that already fired has
			// drained the queue itself
			return
		}
	}
}
