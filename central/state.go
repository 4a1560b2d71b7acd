package central

import (
	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/peripheral"
	"github.com/rigado/blecentral/stream"
)

// Location state labels.
const (
	LocationOn  = "on"
	LocationOff = "off"
)

func locationLabel(on bool) string {
	if on {
		return LocationOn
	}
	return LocationOff
}

func disabled(s blecentral.AdapterState) bool {
	return s == blecentral.AdapterOff || s == blecentral.AdapterTurningOff
}

// IsEnabled reports whether the adapter is powered on.
func (c *Central) IsEnabled() bool {
	return c.adapter.State() == blecentral.AdapterOn
}

// Enable asks the platform to power the adapter on.
func (c *Central) Enable() error {
	return c.adapter.Enable()
}

// ShowSettings opens the platform Bluetooth settings.
func (c *Central) ShowSettings() error {
	return c.adapter.ShowSettings()
}

// IsLocationEnabled reports whether location services are on, for
// platforms that gate scanning on them.
func (c *Central) IsLocationEnabled() (bool, error) {
	return c.adapter.LocationEnabled()
}

// SetPin registers the PIN used to answer pairing requests.
func (c *Central) SetPin(pin string) error {
	if pin == "" {
		return errors.New("empty pin")
	}
	return c.adapter.SetPin(pin)
}

// BondedDevices lists bonded devices from the platform, or from the bond
// store when the platform cannot list them.
func (c *Central) BondedDevices() ([]blecentral.Device, error) {
	ds, err := c.adapter.BondedDevices()
	if err == nil {
		return ds, nil
	}
	if blecentral.IsUnsupported(err) && c.bonds != nil {
		return c.bonds.List()
	}
	return nil, err
}

// StateNotifications streams adapter state labels, the current state first.
// A second call replaces the first stream.
func (c *Central) StateNotifications() *stream.Stream[string] {
	s := stream.New[string]()
	s.Send(c.adapter.State().String())

	c.Lock()
	old := c.states
	c.states = s
	c.Unlock()

	if old != nil {
		old.End(nil)
	}
	return s
}

// StopStateNotifications ends the adapter state stream.
func (c *Central) StopStateNotifications() {
	c.Lock()
	s := c.states
	c.states = nil
	c.Unlock()
	if s != nil {
		s.End(nil)
	}
}

// LocationStateNotifications streams location labels, the current state
// first.
func (c *Central) LocationStateNotifications() (*stream.Stream[string], error) {
	on, err := c.adapter.LocationEnabled()
	if err != nil {
		return nil, err
	}
	s := stream.New[string]()
	s.Send(locationLabel(on))

	c.Lock()
	old := c.locations
	c.locations = s
	c.Unlock()

	if old != nil {
		old.End(nil)
	}
	return s, nil
}

// StopLocationStateNotifications ends the location stream.
func (c *Central) StopLocationStateNotifications() {
	c.Lock()
	s := c.locations
	c.locations = nil
	c.Unlock()
	if s != nil {
		s.End(nil)
	}
}

func (c *Central) onAdapterState(st blecentral.AdapterState) {
	c.Lock()
	prev := c.lastState
	c.lastState = st
	s := c.states
	sc := c.scan
	c.Unlock()

	c.Infof("adapter state %v -> %v", prev, st)
	if s != nil {
		s.Send(st.String())
	}

	if !disabled(st) || disabled(prev) {
		return
	}
	if sc != nil {
		c.endScan(sc, errors.New(peripheral.MsgBluetoothDisabled))
	}
	for _, p := range c.reg.List(false) {
		switch p.State() {
		case peripheral.Connected, peripheral.Connecting:
			p.PeripheralDisconnected(peripheral.MsgBluetoothDisabled)
		}
	}
}

func (c *Central) onLocation(on bool) {
	c.Lock()
	s := c.locations
	c.Unlock()
	if s != nil {
		s.Send(locationLabel(on))
	}
}

// onBond mirrors platform bond changes into the bond store.
func (c *Central) onBond(a blecentral.Addr, st blecentral.BondState) {
	switch st {
	case blecentral.BondBonded:
		name := c.adapter.Name(a)
		if p, ok := c.reg.Get(a); ok && p.Name() != "" {
			name = p.Name()
		}
		if err := c.bonds.Save(a, name); err != nil {
			c.dispatchError(errors.Wrapf(err, "save bond %v", a))
		}
	case blecentral.BondNone:
		if err := c.bonds.Delete(a); err != nil && !blecentral.IsNotFound(err) {
			c.dispatchError(errors.Wrapf(err, "delete bond %v", a))
		}
	}
}
