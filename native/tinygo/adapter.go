// Package tinygo implements the native adapter over tinygo.org/x/bluetooth,
// which reaches BlueZ on Linux, CoreBluetooth on macOS and WinRT on Windows.
//
// The portable API covers scanning, connecting and basic GATT access. Power
// state, bonding and the paired device list come from an optional Platform
// such as *bluez.Client.
package tinygo

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/rigado/blecentral"
)

// Platform supplies the adapter management the GATT API lacks.
type Platform interface {
	State() blecentral.AdapterState
	PowerOn() error
	Name(blecentral.Addr) string
	BondedDevices() ([]blecentral.Device, error)
	BondState(blecentral.Addr) blecentral.BondState
	CreateBond(blecentral.Addr) error
	RemoveBond(blecentral.Addr) error
	SetPin(string) error
	WatchState(func(blecentral.AdapterState)) (func(), error)
	WatchBonds(func(blecentral.Addr, blecentral.BondState)) (func(), error)
}

// ChannelOpener dials an L2CAP channel to a; see linux/l2cap.Dialer.
type ChannelOpener func(a blecentral.Addr, psm uint16, secure bool) (io.ReadWriteCloser, error)

type Option func(*Adapter)

// WithPlatform routes power, bond and pairing calls to p.
func WithPlatform(p Platform) Option {
	return func(a *Adapter) { a.platform = p }
}

// WithL2CAP enables Session.OpenL2CAP.
func WithL2CAP(open ChannelOpener) Option {
	return func(a *Adapter) { a.open = open }
}

// WithBluetooth replaces bluetooth.DefaultAdapter.
func WithBluetooth(bt *bluetooth.Adapter) Option {
	return func(a *Adapter) { a.bt = bt }
}

type Adapter struct {
	sync.Mutex
	bt       *bluetooth.Adapter
	platform Platform
	open     ChannelOpener

	enabled  bool
	scanning bool
	sessions map[string]*session
	names    map[string]string

	blecentral.Logger
}

var _ blecentral.Adapter = (*Adapter)(nil)

func New(opts ...Option) *Adapter {
	a := &Adapter{
		bt:       bluetooth.DefaultAdapter,
		sessions: make(map[string]*session),
		names:    make(map[string]string),
		Logger:   blecentral.GetLogger().ChildLogger(map[string]interface{}{"native": "tinygo"}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enable powers the radio through the platform, when there is one, and
// initializes the stack.
func (a *Adapter) Enable() error {
	if a.platform != nil {
		if err := a.platform.PowerOn(); err != nil {
			return err
		}
	}

	a.Lock()
	defer a.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.bt.Enable(); err != nil {
		return errors.Wrap(err, "enable adapter")
	}
	a.bt.SetConnectHandler(a.onConnect)
	a.enabled = true
	return nil
}

func (a *Adapter) State() blecentral.AdapterState {
	if a.platform != nil {
		return a.platform.State()
	}
	a.Lock()
	defer a.Unlock()
	if a.enabled {
		return blecentral.AdapterOn
	}
	return blecentral.AdapterOff
}

func (a *Adapter) LocationEnabled() (bool, error) {
	return false, blecentral.Unsupportedf("location services")
}

func (a *Adapter) ShowSettings() error {
	return blecentral.Unsupportedf("bluetooth settings")
}

func (a *Adapter) StartScan(f blecentral.ScanFilter, o blecentral.ScanOptions, cb func(blecentral.ScanRecord)) error {
	filter, err := toBTList(f.Services)
	if err != nil {
		return err
	}

	a.Lock()
	if a.scanning {
		a.Unlock()
		return errors.New("scan already running")
	}
	a.scanning = true
	a.Unlock()

	go func() {
		err := a.bt.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
			rec := blecentral.ScanRecord{
				Addr:        blecentral.NewAddr(r.Address.String()),
				Name:        r.LocalName(),
				RSSI:        int(r.RSSI),
				Advertising: r.Bytes(),
				Services:    servicesIn(r, filter),
			}
			if rec.Advertising == nil {
				// not every stack exposes the raw payload
				rec.Advertising = []byte{}
			}
			if rec.Name != "" {
				a.Lock()
				a.names[rec.Addr.String()] = rec.Name
				a.Unlock()
			}
			cb(rec)
		})

		a.Lock()
		a.scanning = false
		a.Unlock()
		if err != nil {
			a.Errorf("scan: %v", err)
		}
	}()
	return nil
}

func (a *Adapter) StopScan() error {
	a.Lock()
	scanning := a.scanning
	a.Unlock()
	if !scanning {
		return nil
	}
	return errors.Wrap(a.bt.StopScan(), "stop scan")
}

// Connect returns at once; the outcome arrives on h. The stack has no
// background connect, so auto is handled by the caller reconnecting.
func (a *Adapter) Connect(addr blecentral.Addr, auto bool, h blecentral.SessionHandler) (blecentral.Session, error) {
	var ba bluetooth.Address
	ba.Set(addr.String())

	s := newSession(a, addr, h)
	a.Lock()
	if old, ok := a.sessions[addr.String()]; ok {
		old.detach()
	}
	a.sessions[addr.String()] = s
	a.Unlock()

	defer close(s.started)
	go s.connect(ba)
	return s, nil
}

func (a *Adapter) forget(s *session) {
	a.Lock()
	defer a.Unlock()
	if a.sessions[s.addr.String()] == s {
		delete(a.sessions, s.addr.String())
	}
}

func (a *Adapter) onConnect(d bluetooth.Device, connected bool) {
	if connected {
		return
	}
	a.Lock()
	s, ok := a.sessions[blecentral.NewAddr(d.Address.String()).String()]
	a.Unlock()
	if ok {
		s.linkLost()
	}
}

func (a *Adapter) Name(addr blecentral.Addr) string {
	a.Lock()
	n := a.names[addr.String()]
	a.Unlock()
	if n == "" && a.platform != nil {
		n = a.platform.Name(addr)
	}
	return n
}

func (a *Adapter) BondedDevices() ([]blecentral.Device, error) {
	if a.platform == nil {
		return nil, blecentral.Unsupportedf("bonded devices")
	}
	return a.platform.BondedDevices()
}

func (a *Adapter) BondState(addr blecentral.Addr) blecentral.BondState {
	if a.platform == nil {
		return blecentral.BondNone
	}
	return a.platform.BondState(addr)
}

func (a *Adapter) CreateBond(addr blecentral.Addr) error {
	if a.platform == nil {
		return blecentral.Unsupportedf("bonding")
	}
	return a.platform.CreateBond(addr)
}

func (a *Adapter) RemoveBond(addr blecentral.Addr) error {
	if a.platform == nil {
		return blecentral.Unsupportedf("bonding")
	}
	return a.platform.RemoveBond(addr)
}

func (a *Adapter) SetPin(pin string) error {
	if a.platform == nil {
		return blecentral.Unsupportedf("pairing agent")
	}
	return a.platform.SetPin(pin)
}

func (a *Adapter) WatchState(f func(blecentral.AdapterState)) (func(), error) {
	if a.platform == nil {
		return nil, blecentral.Unsupportedf("adapter state")
	}
	return a.platform.WatchState(f)
}

func (a *Adapter) WatchLocation(func(bool)) (func(), error) {
	return nil, blecentral.Unsupportedf("location services")
}

func (a *Adapter) WatchBonds(f func(blecentral.Addr, blecentral.BondState)) (func(), error) {
	if a.platform == nil {
		return nil, blecentral.Unsupportedf("bond state")
	}
	return a.platform.WatchBonds(f)
}
