package tinygo

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/stream"
)

var _ blecentral.Session = (*session)(nil)

// maxAttributeLen bounds one characteristic read.
const maxAttributeLen = 512

type session struct {
	a    *Adapter
	addr blecentral.Addr
	h    blecentral.SessionHandler

	started chan struct{}

	// ops feeds the worker that makes every stack call, in submit order
	ops *stream.Stream[func()]

	mu        sync.Mutex
	dev       *bluetooth.Device
	chars     map[charKey]bluetooth.DeviceCharacteristic
	notifying map[charKey]bool
	connected bool
	closed    bool
}

func newSession(a *Adapter, addr blecentral.Addr, h blecentral.SessionHandler) *session {
	s := &session{
		a:         a,
		addr:      addr,
		h:         h,
		started:   make(chan struct{}),
		ops:       stream.New[func()](),
		chars:     make(map[charKey]bluetooth.DeviceCharacteristic),
		notifying: make(map[charKey]bool),
	}
	go s.work()
	return s
}

func (s *session) work() {
	for f := range s.ops.Events() {
		f()
	}
}

func (s *session) connect(ba bluetooth.Address) {
	<-s.started

	dev, err := s.a.bt.Connect(ba, bluetooth.ConnectionParams{})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err == nil {
			dev.Disconnect()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.a.Infof("connect %s: %v", s.addr, err)
		s.h.OnConnectionStateChange(false, blecentral.GattError)
		return
	}
	s.dev = &dev
	s.connected = true
	s.mu.Unlock()

	s.h.OnConnectionStateChange(true, blecentral.GattSuccess)
}

// linkLost reports a disconnect the session did not ask for.
func (s *session) linkLost() {
	s.mu.Lock()
	report := s.connected && !s.closed
	s.connected = false
	s.mu.Unlock()
	if report {
		go s.h.OnConnectionStateChange(false, statusLinkLoss)
	}
}

// detach silences a session replaced by a newer one for the same address.
func (s *session) detach() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ops.Cancel()
}

func (s *session) device() (*bluetooth.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil || !s.connected || s.closed {
		return nil, blecentral.NotConnectedf("session %s", s.addr)
	}
	return s.dev, nil
}

func (s *session) characteristic(c *blecentral.Characteristic) (bluetooth.DeviceCharacteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.chars[keyOf(c)]
	if !ok {
		return dc, blecentral.NotFoundf("characteristic %v", c.UUID)
	}
	return dc, nil
}

// run queues f behind every stack call submitted before it. Calls queued
// after Close are dropped.
func (s *session) run(f func()) {
	if !s.ops.Send(f) {
		s.a.Debugf("session %s closed, dropping stack call", s.addr)
	}
}

func status(err error, failure int) int {
	if err != nil {
		return failure
	}
	return blecentral.GattSuccess
}

func (s *session) DiscoverServices() error {
	dev, err := s.device()
	if err != nil {
		return err
	}
	s.run(func() {
		prof, chars, err := discover(dev)
		if err != nil {
			s.a.Warnf("discover %s: %v", s.addr, err)
			s.h.OnServicesDiscovered(blecentral.Profile{}, blecentral.GattFailure)
			return
		}
		s.mu.Lock()
		s.chars = chars
		s.mu.Unlock()
		s.h.OnServicesDiscovered(prof, blecentral.GattSuccess)
	})
	return nil
}

func discover(dev *bluetooth.Device) (blecentral.Profile, map[charKey]bluetooth.DeviceCharacteristic, error) {
	svcs, err := dev.DiscoverServices(nil)
	if err != nil {
		return blecentral.Profile{}, nil, errors.Wrap(err, "discover services")
	}

	var found []discovered
	var handles [][]bluetooth.DeviceCharacteristic
	for _, svc := range svcs {
		cs, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return blecentral.Profile{}, nil, errors.Wrapf(err, "discover characteristics of %s", svc.UUID())
		}
		d := discovered{uuid: svc.UUID()}
		for _, c := range cs {
			d.chars = append(d.chars, c.UUID())
		}
		found = append(found, d)
		handles = append(handles, cs)
	}

	prof, err := buildProfile(found)
	if err != nil {
		return prof, nil, err
	}
	chars := make(map[charKey]bluetooth.DeviceCharacteristic)
	for i, svc := range prof.Services {
		for j, c := range svc.Characteristics {
			chars[keyOf(c)] = handles[i][j]
		}
	}
	return prof, chars, nil
}

func (s *session) ReadCharacteristic(c *blecentral.Characteristic) error {
	dc, err := s.characteristic(c)
	if err != nil {
		return err
	}
	s.run(func() {
		buf := make([]byte, maxAttributeLen)
		n, err := dc.Read(buf)
		if err != nil {
			s.a.Debugf("read %v: %v", c.UUID, err)
			n = 0
		}
		s.h.OnCharacteristicRead(c, buf[:n], status(err, blecentral.GattReadNotPerm))
	})
	return nil
}

// WriteCharacteristic without response has no completion callback.
func (s *session) WriteCharacteristic(c *blecentral.Characteristic, data []byte, wt blecentral.WriteType) error {
	dc, err := s.characteristic(c)
	if err != nil {
		return err
	}
	b := append([]byte(nil), data...)
	if wt == blecentral.WriteWithoutResponse {
		s.run(func() {
			if _, err := dc.WriteWithoutResponse(b); err != nil {
				s.a.Warnf("write without response %v: %v", c.UUID, err)
			}
		})
		return nil
	}
	s.run(func() {
		_, err := dc.Write(b)
		if err != nil {
			s.a.Debugf("write %v: %v", c.UUID, err)
		}
		s.h.OnCharacteristicWrite(c, status(err, blecentral.GattWriteNotPerm))
	})
	return nil
}

func (s *session) SetNotify(c *blecentral.Characteristic, enable bool) error {
	if _, err := s.characteristic(c); err != nil {
		return err
	}
	s.mu.Lock()
	s.notifying[keyOf(c)] = enable
	s.mu.Unlock()
	return nil
}

// WriteDescriptor only knows the client configuration descriptor, which the
// stack writes itself when notifications are toggled.
func (s *session) WriteDescriptor(c *blecentral.Characteristic, d blecentral.UUID, value []byte) error {
	if d != blecentral.ClientCharacteristicConfigUUID {
		return blecentral.Unsupportedf("descriptor %v", d)
	}
	dc, err := s.characteristic(c)
	if err != nil {
		return err
	}
	enable := len(value) > 0 && value[0] != 0
	k := keyOf(c)

	s.run(func() {
		var err error
		if enable {
			err = dc.EnableNotifications(func(buf []byte) {
				s.mu.Lock()
				on := s.notifying[k] && !s.closed
				s.mu.Unlock()
				if on {
					s.h.OnCharacteristicChanged(c, append([]byte(nil), buf...))
				}
			})
		} else {
			err = dc.EnableNotifications(nil)
		}
		if err != nil {
			s.a.Debugf("notifications %v: %v", c.UUID, err)
		}
		s.h.OnDescriptorWrite(c, d, status(err, blecentral.GattWriteNotPerm))
	})
	return nil
}

func (s *session) ReadRSSI() error {
	return blecentral.Unsupportedf("read RSSI")
}

// RequestMTU reports the MTU the stack negotiated; the portable API cannot
// ask for a different one.
func (s *session) RequestMTU(mtu int) error {
	if _, err := s.device(); err != nil {
		return err
	}
	s.mu.Lock()
	var dc *bluetooth.DeviceCharacteristic
	for _, c := range s.chars {
		c := c
		dc = &c
		break
	}
	s.mu.Unlock()
	if dc == nil {
		return errors.New("services not discovered")
	}

	s.run(func() {
		got, err := dc.GetMTU()
		s.h.OnMtuChanged(int(got), status(err, blecentral.GattFailure))
	})
	return nil
}

func (s *session) RequestConnectionPriority(p blecentral.ConnectionPriority) error {
	return blecentral.Unsupportedf("connection priority")
}

func (s *session) Refresh() error {
	return blecentral.Unsupportedf("refresh")
}

func (s *session) OpenL2CAP(psm uint16, secure bool) (io.ReadWriteCloser, error) {
	if s.a.open == nil {
		return nil, blecentral.Unsupportedf("l2cap")
	}
	if _, err := s.device(); err != nil {
		return nil, err
	}
	return s.a.open(s.addr, psm, secure)
}

func (s *session) Capabilities() blecentral.Capability {
	c := blecentral.CapMTU
	if s.a.open != nil {
		c |= blecentral.CapL2CAP
	}
	return c
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	dev := s.dev
	s.mu.Unlock()

	s.ops.Cancel()
	s.a.forget(s)
	if dev == nil {
		return nil
	}
	return errors.Wrap(dev.Disconnect(), "disconnect")
}
