package peripheral

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/gatt"
	"github.com/rigado/blecentral/l2cap"
	"github.com/rigado/blecentral/notify"
	"github.com/rigado/blecentral/stream"
)

// enqueue accepts c only while connected.
func (p *Peripheral) enqueue(c gatt.Command) error {
	if s := p.State(); s != Connected {
		return blecentral.NotConnectedf("peripheral %v is %v", p.addr, s)
	}
	return p.seq.Enqueue(c)
}

// Read queues a characteristic read. done is called exactly once.
func (p *Peripheral) Read(t gatt.Target, done func([]byte, error)) error {
	return p.enqueue(&gatt.Read{Target: t, Done: done})
}

// Write queues an acknowledged write.
func (p *Peripheral) Write(t gatt.Target, data []byte, done func(error)) error {
	return p.enqueue(&gatt.Write{Target: t, Data: append([]byte(nil), data...), Done: done})
}

// WriteNoResponse queues an unacknowledged write.
func (p *Peripheral) WriteNoResponse(t gatt.Target, data []byte, done func(error)) error {
	return p.enqueue(&gatt.WriteNoResponse{Target: t, Data: append([]byte(nil), data...), Done: done})
}

// ReadRSSI queues a signal strength read.
func (p *Peripheral) ReadRSSI(done func(int, error)) error {
	return p.enqueue(&gatt.ReadRSSI{Done: done})
}

// StartNotification queues a subscription and returns its event stream.
// A failed subscription ends the stream with the failure.
func (p *Peripheral) StartNotification(t gatt.Target, emitAck bool) (*stream.Stream[notify.Event], error) {
	events := stream.New[notify.Event]()
	if err := p.enqueue(&gatt.RegisterNotify{Target: t, EmitAck: emitAck, Events: events}); err != nil {
		events.Cancel()
		return nil, err
	}
	return events, nil
}

// StopNotification queues an unsubscribe. A native failure is reported as
// a *blecentral.WarningError; the subscription is gone either way.
func (p *Peripheral) StopNotification(t gatt.Target, done func(error)) error {
	return p.enqueue(&gatt.DeregisterNotify{Target: t, Done: done})
}

// RequestMTU asks for a new MTU. done receives the negotiated value.
func (p *Peripheral) RequestMTU(mtu int, done func(int, error)) error {
	p.mu.Lock()
	s := p.session
	switch {
	case s == nil:
		p.mu.Unlock()
		return blecentral.NotConnectedf("No GATT")
	case !s.Capabilities().Has(blecentral.CapMTU):
		p.mu.Unlock()
		return blecentral.Unsupportedf("requestMtu")
	case p.mtu != nil:
		p.mu.Unlock()
		return errors.New("MTU request already pending")
	}
	req := &mtuRequest{done: done}
	p.mtu = req
	p.mu.Unlock()

	p.Infof("requestMtu mtu=%d", mtu)
	if err := s.RequestMTU(mtu); err != nil {
		p.mu.Lock()
		if p.mtu == req {
			p.mtu = nil
		}
		p.mu.Unlock()
		return errors.Wrap(err, "Could not initiate MTU request")
	}
	return nil
}

// RequestConnectionPriority hands pr to the platform.
func (p *Peripheral) RequestConnectionPriority(pr blecentral.ConnectionPriority) error {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()

	if s == nil {
		return blecentral.NotConnectedf("No GATT")
	}
	if !s.Capabilities().Has(blecentral.CapConnectionPriority) {
		return blecentral.Unsupportedf("requestConnectionPriority")
	}
	p.Infof("requestConnectionPriority priority=%v", pr)
	return s.RequestConnectionPriority(pr)
}

// RefreshDeviceCache drops the platform attribute cache and rediscovers
// after delay. done receives the new profile; a connect while the refresh
// is pending aborts it.
func (p *Peripheral) RefreshDeviceCache(delay time.Duration, done func(*blecentral.Profile, error)) error {
	p.mu.Lock()
	s := p.session
	gen := p.gen
	switch {
	case s == nil || p.state != Connected:
		p.mu.Unlock()
		return blecentral.NotConnectedf("No GATT")
	case !s.Capabilities().Has(blecentral.CapRefresh):
		p.mu.Unlock()
		return blecentral.Unsupportedf("refreshDeviceCache")
	case p.refresh != nil:
		p.mu.Unlock()
		return errors.New("refreshDeviceCache already pending")
	}
	req := &refreshRequest{done: done}
	p.refresh = req
	p.profile = nil
	p.mu.Unlock()

	if err := s.Refresh(); err != nil {
		p.mu.Lock()
		if p.refresh == req {
			p.refresh = nil
		}
		p.mu.Unlock()
		p.Errorf("refreshDeviceCache: %v", err)
		return errors.Wrap(err, "Service refresh failed")
	}
	if p.cfg.Cache != nil {
		if err := p.cfg.Cache.Remove(p.addr); err != nil {
			p.Debugf("gatt cache: %v", err)
		}
	}

	p.Infof("waiting %v before discovering services", delay)
	t := time.AfterFunc(delay, func() {
		s, ok := p.current(gen)
		if !ok {
			return
		}
		if err := s.DiscoverServices(); err != nil {
			p.Errorf("refreshDeviceCache failed after delay: %v", err)
			p.mu.Lock()
			var r *refreshRequest
			if p.refresh == req {
				r = p.takeRefreshLocked()
			}
			p.mu.Unlock()
			if r != nil {
				r.done(nil, errors.Wrap(err, "Service refresh failed"))
			}
		}
	})

	p.mu.Lock()
	if p.refresh == req {
		req.timer = t
	} else {
		t.Stop()
	}
	p.mu.Unlock()
	return nil
}

// OpenL2CAP opens a channel on psm. The stream reports l2cap.Connected and
// ends when the channel closes.
func (p *Peripheral) OpenL2CAP(psm uint16, secure bool) (*stream.Stream[l2cap.Status], error) {
	p.mu.Lock()
	s := p.session
	p.mu.Unlock()

	if s == nil {
		return nil, blecentral.NotConnectedf("No GATT")
	}
	if !s.Capabilities().Has(blecentral.CapL2CAP) {
		return nil, blecentral.Unsupportedf("L2CAP not supported by platform")
	}
	return p.l2.Open(psm, secure)
}

// CloseL2CAP closes the channel on psm; closing a closed channel succeeds.
func (p *Peripheral) CloseL2CAP(psm uint16) error {
	return p.l2.Close(psm)
}

// WriteL2CAP writes data on the open channel psm.
func (p *Peripheral) WriteL2CAP(ctx context.Context, psm uint16, data []byte) error {
	return p.l2.Write(ctx, psm, data)
}

// SendL2CAP queues data on psm without waiting for the socket.
func (p *Peripheral) SendL2CAP(psm uint16, data []byte, done func(error)) error {
	return p.l2.Send(psm, data, done)
}

// ReceiveL2CAP registers the inbound data sink for psm.
func (p *Peripheral) ReceiveL2CAP(psm uint16) *stream.Stream[[]byte] {
	return p.l2.Receive(psm)
}

// IsL2CAPConnected reports whether psm has an open channel.
func (p *Peripheral) IsL2CAPConnected(psm uint16) bool {
	return p.l2.IsConnected(psm)
}
