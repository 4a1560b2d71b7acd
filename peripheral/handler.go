package peripheral

import (
	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/gatt"
	"github.com/rigado/blecentral/notify"
)

// handler receives the callbacks of one session. Callbacks from a session
// that has since been replaced carry a stale gen and are dropped.
type handler struct {
	p     *Peripheral
	gen   uint64
	ready chan struct{}
}

func (h *handler) session() (blecentral.Session, bool) {
	<-h.ready
	s, ok := h.p.current(h.gen)
	if !ok {
		h.p.Debugf("dropping callback from stale session")
	}
	return s, ok
}

func (h *handler) OnConnectionStateChange(connected bool, status int) {
	s, ok := h.session()
	if !ok {
		return
	}
	p := h.p

	if connected {
		p.mu.Lock()
		if h.gen != p.gen {
			p.mu.Unlock()
			return
		}
		p.linked = true
		p.retries = 0
		p.mu.Unlock()
		p.Infof("link up, discovering services")

		if err := s.DiscoverServices(); err != nil {
			p.Errorf("discover services: %v", err)
			p.sessionLost(h.gen, MsgDiscoveryFailed, blecentral.GattError)
		}
		return
	}

	p.mu.Lock()
	if h.gen != p.gen {
		p.mu.Unlock()
		p.Debugf("dropping disconnect from stale session")
		return
	}
	attempt := p.retries
	retry := p.state == Connecting && !p.linked && p.cfg.Quirks.RetryConnect(p.name, status, attempt)
	if !retry {
		p.linkLost(MsgDisconnected, status)
		return
	}
	p.retries++
	p.mu.Unlock()

	p.Infof("connect failed with status %d, retry %d", status, attempt+1)
	p.gattConnect()
}

func (h *handler) OnServicesDiscovered(profile blecentral.Profile, status int) {
	if _, ok := h.session(); !ok {
		return
	}
	p := h.p

	if status != blecentral.GattSuccess {
		p.Errorf("service discovery failed, status=%d", status)
		p.mu.Lock()
		refresh := p.takeRefreshLocked()
		p.mu.Unlock()
		if refresh != nil {
			refresh.done(nil, blecentral.NewNativeError(MsgDiscoveryFailed, status))
		}
		p.sessionLost(h.gen, MsgDiscoveryFailed, status)
		return
	}

	pr := profile
	p.mu.Lock()
	if h.gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.state = Connected
	p.profile = &pr
	refresh := p.takeRefreshLocked()
	events := p.events
	info := p.infoLocked()
	p.mu.Unlock()

	if p.cfg.Cache != nil {
		if err := p.cfg.Cache.Store(p.addr, pr, true); err != nil {
			p.Warnf("gatt cache: %v", err)
		}
	}

	p.Infof("discovered %d services", len(pr.Services))
	if refresh != nil {
		refresh.done(&pr, nil)
		return
	}
	if events != nil {
		events.Send(ConnEvent{Kind: EventConnected, Info: info})
	}
}

func (h *handler) OnCharacteristicRead(c *blecentral.Characteristic, value []byte, status int) {
	if _, ok := h.session(); !ok {
		return
	}
	p := h.p

	cmd, ok := p.seq.InFlight().(*gatt.Read)
	if !ok {
		p.Warnf("read callback for %v with no read in flight", c.UUID)
		return
	}
	if status == blecentral.GattSuccess {
		cmd.Resolve(append([]byte(nil), value...), nil)
	} else {
		cmd.Resolve(nil, blecentral.NewNativeError("read "+c.UUID.String(), status))
	}
	p.seq.Finish(cmd)
}

func (h *handler) OnCharacteristicWrite(c *blecentral.Characteristic, status int) {
	if _, ok := h.session(); !ok {
		return
	}
	p := h.p

	cmd, ok := p.seq.InFlight().(*gatt.Write)
	if !ok {
		p.Warnf("write callback for %v with no write in flight", c.UUID)
		return
	}
	if status == blecentral.GattSuccess {
		cmd.Resolve(nil)
	} else {
		cmd.Resolve(blecentral.NewNativeError("write "+c.UUID.String(), status))
	}
	p.seq.Finish(cmd)
}

func (h *handler) OnDescriptorWrite(c *blecentral.Characteristic, d blecentral.UUID, status int) {
	if _, ok := h.session(); !ok {
		return
	}
	p := h.p

	if d != blecentral.ClientCharacteristicConfigUUID {
		p.Debugf("ignoring write of descriptor %v", d)
		return
	}

	key := notify.KeyOf(c)
	switch cmd := p.seq.InFlight().(type) {
	case *gatt.RegisterNotify:
		if status == blecentral.GattSuccess {
			p.notifs.Acknowledge(key)
			cmd.Resolve()
		} else {
			err := blecentral.NewNativeError("Write descriptor", status)
			p.notifs.Fail(key, err)
			cmd.Fail(err)
		}
		p.seq.Finish(cmd)
	case *gatt.DeregisterNotify:
		if status == blecentral.GattSuccess {
			cmd.Resolve(nil)
		} else {
			err := &blecentral.WarningError{Err: blecentral.NewNativeError("Write descriptor", status)}
			p.Warnf("stop notification %v: %v", c.UUID, err)
			cmd.Resolve(err)
		}
		p.seq.Finish(cmd)
	default:
		p.Warnf("descriptor callback for %v with no subscription change in flight", c.UUID)
	}
}

func (h *handler) OnReadRemoteRSSI(rssi int, status int) {
	if _, ok := h.session(); !ok {
		return
	}
	p := h.p

	cmd, ok := p.seq.InFlight().(*gatt.ReadRSSI)
	if !ok {
		p.Warnf("rssi callback with no rssi read in flight")
		return
	}
	if status == blecentral.GattSuccess {
		p.mu.Lock()
		p.rssi = rssi
		p.mu.Unlock()
		cmd.Resolve(rssi, nil)
	} else {
		cmd.Resolve(0, blecentral.NewNativeError("read RSSI", status))
	}
	p.seq.Finish(cmd)
}

func (h *handler) OnCharacteristicChanged(c *blecentral.Characteristic, value []byte) {
	if _, ok := h.session(); !ok {
		return
	}
	h.p.notifs.Deliver(notify.KeyOf(c), value)
}

func (h *handler) OnMtuChanged(mtu int, status int) {
	if _, ok := h.session(); !ok {
		return
	}
	p := h.p

	p.mu.Lock()
	req := p.takeMTULocked()
	p.mu.Unlock()

	p.Infof("mtu=%d, status=%d", mtu, status)
	if req == nil {
		return
	}
	if status == blecentral.GattSuccess {
		req.done(mtu, nil)
		return
	}
	req.done(0, blecentral.NewNativeError("MTU request", status))
}
