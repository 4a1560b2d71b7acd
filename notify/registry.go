// Package notify tracks live characteristic subscriptions and sequences
// the values delivered to each subscriber.
package notify

import (
	"fmt"
	"sync"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/stream"
)

// Key identifies one characteristic. Instance tells apart characteristics
// sharing a UUID within a service.
type Key struct {
	Service        blecentral.UUID
	Characteristic blecentral.UUID
	Instance       int
}

// KeyOf returns the key of a discovered characteristic.
func KeyOf(c *blecentral.Characteristic) Key {
	return Key{Service: c.Service, Characteristic: c.UUID, Instance: c.InstanceID}
}

func (k Key) String() string {
	return fmt.Sprintf("%v|%v|%d", k.Service, k.Characteristic, k.Instance)
}

type EventKind int

const (
	// Subscribed is the one time registration ack.
	Subscribed EventKind = iota
	// Value carries a changed characteristic value.
	Value
)

// Event is delivered on a subscription stream.
type Event struct {
	Kind  EventKind
	Seq   int
	Value []byte
}

type entry struct {
	events  *stream.Stream[Event]
	emitAck bool
	acked   bool
	seq     int
}

// Registry holds the subscriptions of one peripheral.
type Registry struct {
	sync.Mutex
	m map[Key]*entry
	blecentral.Logger
}

func NewRegistry(l blecentral.Logger) *Registry {
	if l == nil {
		l = blecentral.GetLogger()
	}
	return &Registry{
		m:      make(map[Key]*entry),
		Logger: l,
	}
}

// Add registers events for k. A previous subscriber for the same key is
// ended cleanly; the newest caller wins.
func (r *Registry) Add(k Key, events *stream.Stream[Event], emitAck bool) {
	r.Lock()
	old := r.m[k]
	r.m[k] = &entry{events: events, emitAck: emitAck}
	r.Unlock()

	if old != nil && old.events != events {
		r.Debugf("notify %v: replacing subscriber", k)
		old.events.End(nil)
	}
}

// Acknowledge marks k registered. The ack is surfaced once, and only when
// the subscriber asked for it.
func (r *Registry) Acknowledge(k Key) bool {
	r.Lock()
	defer r.Unlock()

	e, ok := r.m[k]
	if !ok {
		return false
	}
	r.ackLocked(e)
	return true
}

func (r *Registry) ackLocked(e *entry) {
	if e.acked {
		return
	}
	e.acked = true
	if e.emitAck {
		e.events.Send(Event{Kind: Subscribed})
	}
}

// Deliver sends value to the subscriber of k tagged with the next sequence
// number. It reports false when nobody is subscribed.
func (r *Registry) Deliver(k Key, value []byte) bool {
	r.Lock()
	defer r.Unlock()

	e, ok := r.m[k]
	if !ok {
		r.Debugf("notify %v: no subscriber, dropping %d bytes", k, len(value))
		return false
	}

	// a value can beat the descriptor write callback
	r.ackLocked(e)

	v := make([]byte, len(value))
	copy(v, value)
	e.events.Send(Event{Kind: Value, Seq: e.seq, Value: v})
	e.seq++
	return true
}

// Has reports whether k has a subscriber.
func (r *Registry) Has(k Key) bool {
	r.Lock()
	defer r.Unlock()
	_, ok := r.m[k]
	return ok
}

// Remove drops the subscription for k and ends its stream cleanly.
func (r *Registry) Remove(k Key) bool {
	return r.end(k, nil)
}

// Fail drops the subscription for k and ends its stream with err.
func (r *Registry) Fail(k Key, err error) bool {
	return r.end(k, err)
}

func (r *Registry) end(k Key, err error) bool {
	r.Lock()
	e, ok := r.m[k]
	delete(r.m, k)
	r.Unlock()

	if !ok {
		return false
	}
	e.events.End(err)
	return true
}

// Clear ends every subscription with err.
func (r *Registry) Clear(err error) int {
	r.Lock()
	old := r.m
	r.m = make(map[Key]*entry)
	r.Unlock()

	for _, e := range old {
		e.events.End(err)
	}
	return len(old)
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.m)
}
