// Package gatt describes the operations queued against one GATT session.
//
// A Command is one of a closed set of kinds. Executors implement Visitor,
// so adding a kind is a compile time change for every executor.
package gatt

import (
	"sync"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/notify"
	"github.com/rigado/blecentral/stream"
)

type Kind int

const (
	KindRead Kind = iota
	KindWrite
	KindWriteNoResponse
	KindReadRSSI
	KindRegisterNotify
	KindDeregisterNotify
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindWriteNoResponse:
		return "writeWithoutResponse"
	case KindReadRSSI:
		return "readRSSI"
	case KindRegisterNotify:
		return "registerNotify"
	case KindDeregisterNotify:
		return "deregisterNotify"
	}
	return "unknown"
}

// Visitor executes commands. Each method reports whether the command is
// now in flight awaiting a native callback (wait) or was resolved already.
// A non nil error means nothing was sent.
type Visitor interface {
	Read(*Read) (wait bool, err error)
	Write(*Write) (wait bool, err error)
	WriteNoResponse(*WriteNoResponse) (wait bool, err error)
	ReadRSSI(*ReadRSSI) (wait bool, err error)
	RegisterNotify(*RegisterNotify) (wait bool, err error)
	DeregisterNotify(*DeregisterNotify) (wait bool, err error)
}

// Command is one queued operation. Fail resolves it with err; resolving a
// command more than once has no effect.
type Command interface {
	Kind() Kind
	Accept(Visitor) (wait bool, err error)
	Fail(err error)
	Resolved() bool
}

type once struct {
	mu   sync.Mutex
	done bool
}

func (o *once) claim() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done {
		return false
	}
	o.done = true
	return true
}

func (o *once) Resolved() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Target names a characteristic by service and characteristic UUID.
type Target struct {
	Service        blecentral.UUID
	Characteristic blecentral.UUID
}

// Read reads a characteristic value.
type Read struct {
	Target
	Done func(value []byte, err error)
	once
}

func (*Read) Kind() Kind                       { return KindRead }
func (c *Read) Accept(v Visitor) (bool, error) { return v.Read(c) }
func (c *Read) Fail(err error)                 { c.Resolve(nil, err) }
func (c *Read) Resolve(value []byte, err error) {
	if c.claim() && c.Done != nil {
		c.Done(value, err)
	}
}

// Write writes a characteristic value and waits for the acknowledgement.
type Write struct {
	Target
	Data []byte
	Done func(err error)
	once
}

func (*Write) Kind() Kind                       { return KindWrite }
func (c *Write) Accept(v Visitor) (bool, error) { return v.Write(c) }
func (c *Write) Fail(err error)                 { c.Resolve(err) }
func (c *Write) Resolve(err error) {
	if c.claim() && c.Done != nil {
		c.Done(err)
	}
}

// WriteNoResponse writes a characteristic value without acknowledgement.
type WriteNoResponse struct {
	Target
	Data []byte
	Done func(err error)
	once
}

func (*WriteNoResponse) Kind() Kind                       { return KindWriteNoResponse }
func (c *WriteNoResponse) Accept(v Visitor) (bool, error) { return v.WriteNoResponse(c) }
func (c *WriteNoResponse) Fail(err error)                 { c.Resolve(err) }
func (c *WriteNoResponse) Resolve(err error) {
	if c.claim() && c.Done != nil {
		c.Done(err)
	}
}

// ReadRSSI reads the link signal strength.
type ReadRSSI struct {
	Done func(rssi int, err error)
	once
}

func (*ReadRSSI) Kind() Kind                       { return KindReadRSSI }
func (c *ReadRSSI) Accept(v Visitor) (bool, error) { return v.ReadRSSI(c) }
func (c *ReadRSSI) Fail(err error)                 { c.Resolve(0, err) }
func (c *ReadRSSI) Resolve(rssi int, err error) {
	if c.claim() && c.Done != nil {
		c.Done(rssi, err)
	}
}

// RegisterNotify enables notifications on a characteristic. Events carries
// the subscription ack followed by sequenced values; a failed registration
// ends it with the failure.
type RegisterNotify struct {
	Target
	EmitAck bool
	Events  *stream.Stream[notify.Event]
	once
}

func (*RegisterNotify) Kind() Kind                       { return KindRegisterNotify }
func (c *RegisterNotify) Accept(v Visitor) (bool, error) { return v.RegisterNotify(c) }

// Fail ends the event stream with err.
func (c *RegisterNotify) Fail(err error) {
	if c.claim() && c.Events != nil {
		c.Events.End(err)
	}
}

// Resolve marks setup complete. The stream stays open for values.
func (c *RegisterNotify) Resolve() bool {
	return c.claim()
}

// DeregisterNotify disables notifications on a characteristic.
type DeregisterNotify struct {
	Target
	Done func(err error)
	once
}

func (*DeregisterNotify) Kind() Kind                       { return KindDeregisterNotify }
func (c *DeregisterNotify) Accept(v Visitor) (bool, error) { return v.DeregisterNotify(c) }
func (c *DeregisterNotify) Fail(err error)                 { c.Resolve(err) }
func (c *DeregisterNotify) Resolve(err error) {
	if c.claim() && c.Done != nil {
		c.Done(err)
	}
}
