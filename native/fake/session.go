package fake

import (
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
)

// Call is one native operation observed by a Session.
type Call struct {
	Op    string
	Char  blecentral.UUID
	Data  []byte
	Write blecentral.WriteType
}

// Session is a scripted GATT session. Completions are delivered from a
// goroutine, or held until Step when Manual is set.
type Session struct {
	mu       sync.Mutex
	p        *Peripheral
	h        blecentral.SessionHandler
	pending  int
	overlaps int
	calls    []Call
	held     []func()
	closed   bool
	manual   bool
	l2cap    map[uint16]net.Conn
}

func newSession(p *Peripheral, h blecentral.SessionHandler) *Session {
	return &Session{
		p:      p,
		h:      h,
		manual: p.Manual,
		l2cap:  make(map[uint16]net.Conn),
	}
}

// Calls returns the operations sent so far.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Ops returns the operation names sent so far.
func (s *Session) Ops() []string {
	var out []string
	for _, c := range s.Calls() {
		out = append(out, c.Op)
	}
	return out
}

// Overlaps counts operations sent while another awaited its callback.
func (s *Session) Overlaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlaps
}

// Pending returns the number of operations awaiting a callback.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Held returns the number of completions waiting for Step.
func (s *Session) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// Step delivers the oldest held completion. It reports false if none is held.
func (s *Session) Step() bool {
	s.mu.Lock()
	if len(s.held) == 0 {
		s.mu.Unlock()
		return false
	}
	f := s.held[0]
	s.held = s.held[1:]
	s.mu.Unlock()

	f()
	return true
}

// Drop simulates a link loss with status.
func (s *Session) Drop(status int) {
	s.h.OnConnectionStateChange(false, status)
}

// Notify simulates a value change on c.
func (s *Session) Notify(c *blecentral.Characteristic, value []byte) {
	s.h.OnCharacteristicChanged(c, value)
}

// Remote returns the peer end of the channel opened on psm.
func (s *Session) Remote(psm uint16) net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l2cap[psm]
}

func (s *Session) record(c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("gatt closed")
	}
	s.calls = append(s.calls, c)
	if err := s.p.sendErr(c.Op); err != nil {
		return err
	}
	return nil
}

// begin records an operation that will complete through a callback.
func (s *Session) begin(c Call, complete func()) error {
	if err := s.record(c); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending++
	if s.pending > 1 {
		s.overlaps++
	}
	f := func() {
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
		complete()
	}
	if s.manual {
		s.held = append(s.held, f)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	go f()
	return nil
}

func (s *Session) DiscoverServices() error {
	return s.begin(Call{Op: "discover"}, func() {
		status := s.p.status("discover")
		s.h.OnServicesDiscovered(s.p.profile(), status)
	})
}

func (s *Session) ReadCharacteristic(c *blecentral.Characteristic) error {
	return s.begin(Call{Op: "read", Char: c.UUID}, func() {
		s.h.OnCharacteristicRead(c, s.p.Value(c.UUID), s.p.status("read"))
	})
}

// WriteCharacteristic completes through OnCharacteristicWrite only for
// acknowledged writes.
func (s *Session) WriteCharacteristic(c *blecentral.Characteristic, data []byte, wt blecentral.WriteType) error {
	call := Call{Op: "write", Char: c.UUID, Data: append([]byte(nil), data...), Write: wt}
	if wt == blecentral.WriteWithoutResponse {
		call.Op = "writeNoResponse"
		if err := s.record(call); err != nil {
			return err
		}
		s.p.SetValue(c.UUID, data)
		return nil
	}
	return s.begin(call, func() {
		status := s.p.status("write")
		if status == blecentral.GattSuccess {
			s.p.SetValue(c.UUID, data)
		}
		s.h.OnCharacteristicWrite(c, status)
	})
}

func (s *Session) SetNotify(c *blecentral.Characteristic, enable bool) error {
	op := "setNotify"
	if !enable {
		op = "clearNotify"
	}
	return s.record(Call{Op: op, Char: c.UUID})
}

func (s *Session) WriteDescriptor(c *blecentral.Characteristic, d blecentral.UUID, value []byte) error {
	return s.begin(Call{Op: "writeDescriptor", Char: c.UUID, Data: append([]byte(nil), value...)}, func() {
		s.h.OnDescriptorWrite(c, d, s.p.status("writeDescriptor"))
	})
}

func (s *Session) ReadRSSI() error {
	return s.begin(Call{Op: "rssi"}, func() {
		s.h.OnReadRemoteRSSI(s.p.RSSI, s.p.status("rssi"))
	})
}

func (s *Session) RequestMTU(mtu int) error {
	return s.begin(Call{Op: "mtu"}, func() {
		got := mtu
		if s.p.MaxMTU > 0 && got > s.p.MaxMTU {
			got = s.p.MaxMTU
		}
		s.h.OnMtuChanged(got, s.p.status("mtu"))
	})
}

func (s *Session) RequestConnectionPriority(p blecentral.ConnectionPriority) error {
	if !s.Capabilities().Has(blecentral.CapConnectionPriority) {
		return blecentral.ErrUnsupported
	}
	return s.record(Call{Op: "priority", Data: []byte{byte(p)}})
}

func (s *Session) Refresh() error {
	if !s.Capabilities().Has(blecentral.CapRefresh) {
		return blecentral.ErrUnsupported
	}
	return s.record(Call{Op: "refresh"})
}

// OpenL2CAP returns one end of an in-memory pipe; the other is Remote(psm).
func (s *Session) OpenL2CAP(psm uint16, secure bool) (io.ReadWriteCloser, error) {
	if !s.Capabilities().Has(blecentral.CapL2CAP) {
		return nil, blecentral.ErrUnsupported
	}
	if err := s.record(Call{Op: "l2cap"}); err != nil {
		return nil, err
	}
	local, remote := net.Pipe()
	s.mu.Lock()
	s.l2cap[psm] = remote
	s.mu.Unlock()
	return local, nil
}

func (s *Session) Capabilities() blecentral.Capability {
	return s.p.Caps
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.held = nil
	for _, c := range s.l2cap {
		c.Close()
	}
	return nil
}
