// Package bluez reaches the BlueZ daemon over the system D-Bus for the parts
// of adapter management a GATT library does not cover: power state, the
// paired device list, pairing and bond removal.
package bluez

import (
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
)

const (
	service = "org.bluez"

	adapterIface      = "org.bluez.Adapter1"
	deviceIface       = "org.bluez.Device1"
	agentIface        = "org.bluez.Agent1"
	agentManagerIface = "org.bluez.AgentManager1"

	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"

	agentPath dbus.ObjectPath = "/org/rigado/blecentral/agent"

	// DefaultAdapter is the controller used when none is named.
	DefaultAdapter = "hci0"
)

type objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Client talks to one BlueZ adapter.
type Client struct {
	sync.Mutex
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	signals chan *dbus.Signal

	nextID        int
	stateWatchers map[int]func(blecentral.AdapterState)
	bondWatchers  map[int]func(blecentral.Addr, blecentral.BondState)

	agent *agent

	blecentral.Logger
}

// Dial opens a private system bus connection for adapter hci, e.g. "hci0".
func Dial(hci string) (*Client, error) {
	if hci == "" {
		hci = DefaultAdapter
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect system bus")
	}

	c := &Client{
		conn:          conn,
		adapter:       dbus.ObjectPath("/org/bluez/" + hci),
		signals:       make(chan *dbus.Signal, 16),
		stateWatchers: make(map[int]func(blecentral.AdapterState)),
		bondWatchers:  make(map[int]func(blecentral.Addr, blecentral.BondState)),
		Logger:        blecentral.GetLogger().ChildLogger(map[string]interface{}{"bluez": hci}),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(c.adapter),
	); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "add match")
	}
	conn.Signal(c.signals)
	go c.loop()

	return c, nil
}

// Close drops the bus connection and every watcher.
func (c *Client) Close() error {
	c.conn.RemoveSignal(c.signals)
	return c.conn.Close()
}

func (c *Client) object(p dbus.ObjectPath) dbus.BusObject {
	return c.conn.Object(service, p)
}

func (c *Client) devicePath(a blecentral.Addr) dbus.ObjectPath {
	return devicePath(c.adapter, a)
}

func devicePath(adapter dbus.ObjectPath, a blecentral.Addr) dbus.ObjectPath {
	return adapter + dbus.ObjectPath("/dev_"+strings.Replace(a.String(), ":", "_", -1))
}

// addrFromPath is the reverse of devicePath; ok is false for paths that are
// not device objects of adapter.
func addrFromPath(adapter, p dbus.ObjectPath) (blecentral.Addr, bool) {
	prefix := string(adapter) + "/dev_"
	s := string(p)
	if !strings.HasPrefix(s, prefix) {
		return nil, false
	}
	rest := s[len(prefix):]
	if strings.Contains(rest, "/") {
		return nil, false
	}
	return blecentral.NewAddr(strings.Replace(rest, "_", ":", -1)), true
}

func (c *Client) managed() (objects, error) {
	var out objects
	err := c.object("/").Call(objectManagerIface+".GetManagedObjects", 0).Store(&out)
	if err != nil {
		return nil, errors.Wrap(err, "GetManagedObjects")
	}
	return out, nil
}

func (c *Client) property(p dbus.ObjectPath, iface, name string) (dbus.Variant, error) {
	v, err := c.object(p).GetProperty(iface + "." + name)
	if err != nil {
		return v, errors.Wrapf(err, "get %s", name)
	}
	return v, nil
}

// State reads the adapter's Powered property.
func (c *Client) State() blecentral.AdapterState {
	v, err := c.property(c.adapter, adapterIface, "Powered")
	if err != nil {
		c.Debugf("%v", err)
		return blecentral.AdapterUnknown
	}
	return poweredState(v)
}

func poweredState(v dbus.Variant) blecentral.AdapterState {
	on, ok := v.Value().(bool)
	switch {
	case !ok:
		return blecentral.AdapterUnknown
	case on:
		return blecentral.AdapterOn
	}
	return blecentral.AdapterOff
}

// PowerOn sets Powered; the change is reported through WatchState.
func (c *Client) PowerOn() error {
	call := c.object(c.adapter).Call(propertiesIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true))
	return errors.Wrap(call.Err, "power on")
}

// Name returns the device's Name, or its Alias when it has none.
func (c *Client) Name(a blecentral.Addr) string {
	for _, prop := range []string{"Name", "Alias"} {
		if v, err := c.property(c.devicePath(a), deviceIface, prop); err == nil {
			if s, ok := v.Value().(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// BondedDevices lists the adapter's paired devices ordered by address.
func (c *Client) BondedDevices() ([]blecentral.Device, error) {
	objs, err := c.managed()
	if err != nil {
		return nil, err
	}
	return paired(objs, c.adapter), nil
}

func paired(objs objects, adapter dbus.ObjectPath) []blecentral.Device {
	out := []blecentral.Device{}
	for p, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		if _, ok := addrFromPath(adapter, p); !ok {
			continue
		}
		if b, _ := props["Paired"].Value().(bool); !b {
			continue
		}
		addr, _ := props["Address"].Value().(string)
		name, _ := props["Name"].Value().(string)
		if name == "" {
			name, _ = props["Alias"].Value().(string)
		}
		out = append(out, blecentral.Device{Addr: blecentral.NewAddr(addr), Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr.String() < out[j].Addr.String() })
	return out
}

func (c *Client) BondState(a blecentral.Addr) blecentral.BondState {
	v, err := c.property(c.devicePath(a), deviceIface, "Paired")
	if err != nil {
		return blecentral.BondNone
	}
	if b, _ := v.Value().(bool); b {
		return blecentral.BondBonded
	}
	return blecentral.BondNone
}

// CreateBond starts pairing. BlueZ only knows devices it has seen, so the
// peripheral must have been scanned first. The outcome arrives through
// WatchBonds.
func (c *Client) CreateBond(a blecentral.Addr) error {
	p := c.devicePath(a)
	if _, err := c.property(p, deviceIface, "Address"); err != nil {
		return blecentral.NotFoundf("device %s", a)
	}
	go func() {
		if err := c.object(p).Call(deviceIface+".Pair", 0).Err; err != nil {
			c.Warnf("pair %s: %v", a, err)
		}
	}()
	return nil
}

// RemoveBond removes the device object, which forgets its keys.
func (c *Client) RemoveBond(a blecentral.Addr) error {
	p := c.devicePath(a)
	if _, err := c.property(p, deviceIface, "Address"); err != nil {
		return blecentral.NotFoundf("device %s", a)
	}
	call := c.object(c.adapter).Call(adapterIface+".RemoveDevice", 0, p)
	return errors.Wrapf(call.Err, "remove %s", a)
}

func (c *Client) WatchState(f func(blecentral.AdapterState)) (func(), error) {
	c.Lock()
	defer c.Unlock()
	id := c.nextID
	c.nextID++
	c.stateWatchers[id] = f
	return func() {
		c.Lock()
		delete(c.stateWatchers, id)
		c.Unlock()
	}, nil
}

func (c *Client) WatchBonds(f func(blecentral.Addr, blecentral.BondState)) (func(), error) {
	c.Lock()
	defer c.Unlock()
	id := c.nextID
	c.nextID++
	c.bondWatchers[id] = f
	return func() {
		c.Lock()
		delete(c.bondWatchers, id)
		c.Unlock()
	}, nil
}

// change is one decoded PropertiesChanged signal.
type change struct {
	state *blecentral.AdapterState
	addr  blecentral.Addr
	bond  *blecentral.BondState
}

func decode(adapter dbus.ObjectPath, sig *dbus.Signal) (change, bool) {
	var ch change
	if sig.Name != propertiesIface+".PropertiesChanged" || len(sig.Body) < 2 {
		return ch, false
	}
	iface, _ := sig.Body[0].(string)
	props, _ := sig.Body[1].(map[string]dbus.Variant)

	switch {
	case iface == adapterIface && sig.Path == adapter:
		v, ok := props["Powered"]
		if !ok {
			return ch, false
		}
		st := poweredState(v)
		ch.state = &st
		return ch, true

	case iface == deviceIface:
		a, ok := addrFromPath(adapter, sig.Path)
		if !ok {
			return ch, false
		}
		v, ok := props["Paired"]
		if !ok {
			return ch, false
		}
		st := blecentral.BondNone
		if b, _ := v.Value().(bool); b {
			st = blecentral.BondBonded
		}
		ch.addr, ch.bond = a, &st
		return ch, true
	}
	return ch, false
}

func (c *Client) loop() {
	for sig := range c.signals {
		ch, ok := decode(c.adapter, sig)
		if !ok {
			continue
		}

		c.Lock()
		var states []func(blecentral.AdapterState)
		var bonds []func(blecentral.Addr, blecentral.BondState)
		for _, w := range c.stateWatchers {
			states = append(states, w)
		}
		for _, w := range c.bondWatchers {
			bonds = append(bonds, w)
		}
		c.Unlock()

		if ch.state != nil {
			c.Debugf("adapter %v", *ch.state)
			for _, w := range states {
				w(*ch.state)
			}
		}
		if ch.bond != nil {
			c.Debugf("%s bond %v", ch.addr, *ch.bond)
			for _, w := range bonds {
				w(ch.addr, *ch.bond)
			}
		}
	}
}
