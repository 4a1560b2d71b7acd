// Package fake is an in-memory radio stack for tests. It delivers native
// callbacks asynchronously, the way real stacks do, and counts operations
// sent while another one was still outstanding.
package fake

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
)

// Peripheral is a scripted remote device.
type Peripheral struct {
	mu sync.Mutex

	Addr        blecentral.Addr
	Name        string
	RSSI        int
	Advertising []byte
	Services    []blecentral.UUID
	Profile     blecentral.Profile
	Caps        blecentral.Capability
	MaxMTU      int

	// Manual holds completions until Session.Step.
	Manual bool

	// ConnectStatus is consumed one entry per connect attempt; an empty
	// list connects with GattSuccess.
	ConnectStatus []int

	values   map[blecentral.UUID][]byte
	statuses map[string]int
	sendErrs map[string]error
}

// NewPeripheral returns a remote device with every capability.
func NewPeripheral(addr, name string) *Peripheral {
	return &Peripheral{
		Addr:     blecentral.NewAddr(addr),
		Name:     name,
		RSSI:     -60,
		Caps:     blecentral.CapReadRSSI | blecentral.CapMTU | blecentral.CapConnectionPriority | blecentral.CapRefresh | blecentral.CapL2CAP,
		MaxMTU:   247,
		values:   make(map[blecentral.UUID][]byte),
		statuses: make(map[string]int),
		sendErrs: make(map[string]error),
	}
}

// SetValue sets the value returned for reads of characteristic u.
func (p *Peripheral) SetValue(u blecentral.UUID, v []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[u] = append([]byte(nil), v...)
}

// Value returns the current value of characteristic u.
func (p *Peripheral) Value(u blecentral.UUID) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.values[u]...)
}

// SetStatus makes every callback of op report status.
func (p *Peripheral) SetStatus(op string, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[op] = status
}

// SetSendError makes op fail before anything is sent.
func (p *Peripheral) SetSendError(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.sendErrs, op)
		return
	}
	p.sendErrs[op] = err
}

func (p *Peripheral) status(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statuses[op]
}

func (p *Peripheral) sendErr(op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendErrs[op]
}

func (p *Peripheral) profile() blecentral.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Profile
}

func (p *Peripheral) nextConnectStatus() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ConnectStatus) == 0 {
		return blecentral.GattSuccess
	}
	s := p.ConnectStatus[0]
	p.ConnectStatus = p.ConnectStatus[1:]
	return s
}

// Adapter is a scripted local radio.
type Adapter struct {
	mu sync.Mutex

	state       blecentral.AdapterState
	location    bool
	peripherals map[string]*Peripheral
	bonds       map[string]blecentral.BondState
	sessions    map[string][]*Session

	scanning   bool
	scanFilter blecentral.ScanFilter
	scanOpts   blecentral.ScanOptions
	scanCb     func(blecentral.ScanRecord)

	stateWatchers    map[int]func(blecentral.AdapterState)
	locationWatchers map[int]func(bool)
	bondWatchers     map[int]func(blecentral.Addr, blecentral.BondState)
	nextWatcher      int

	pin      string
	settings int

	// NoBondList makes BondedDevices unsupported.
	NoBondList bool
	// NoLocation makes the location queries unsupported.
	NoLocation bool
	// HoldBonds leaves CreateBond in the bonding state until CompleteBond.
	HoldBonds  bool
}

func NewAdapter() *Adapter {
	return &Adapter{
		state:            blecentral.AdapterOn,
		location:         true,
		peripherals:      make(map[string]*Peripheral),
		bonds:            make(map[string]blecentral.BondState),
		sessions:         make(map[string][]*Session),
		stateWatchers:    make(map[int]func(blecentral.AdapterState)),
		locationWatchers: make(map[int]func(bool)),
		bondWatchers:     make(map[int]func(blecentral.Addr, blecentral.BondState)),
	}
}

// Add makes p reachable through Connect.
func (a *Adapter) Add(p *Peripheral) *Peripheral {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peripherals[p.Addr.String()] = p
	return p
}

// Session returns the latest session opened to addr.
func (a *Adapter) Session(addr string) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	ss := a.sessions[blecentral.NewAddr(addr).String()]
	if len(ss) == 0 {
		return nil
	}
	return ss[len(ss)-1]
}

// Sessions returns the number of sessions opened to addr.
func (a *Adapter) Sessions(addr string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions[blecentral.NewAddr(addr).String()])
}

// Advertise reports p to a running scan with its current RSSI.
func (a *Adapter) Advertise(p *Peripheral) bool {
	a.mu.Lock()
	cb := a.scanCb
	scanning := a.scanning
	a.mu.Unlock()

	if !scanning || cb == nil {
		return false
	}
	cb(blecentral.ScanRecord{
		Addr:        p.Addr,
		Name:        p.Name,
		RSSI:        p.RSSI,
		Advertising: p.Advertising,
		Services:    p.Services,
	})
	return true
}

// Scanning reports whether a scan is running and the filter it uses.
func (a *Adapter) Scanning() (bool, blecentral.ScanFilter, blecentral.ScanOptions) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning, a.scanFilter, a.scanOpts
}

// SetState changes the power state and notifies watchers.
func (a *Adapter) SetState(s blecentral.AdapterState) {
	a.mu.Lock()
	a.state = s
	var ws []func(blecentral.AdapterState)
	for _, w := range a.stateWatchers {
		ws = append(ws, w)
	}
	a.mu.Unlock()

	for _, w := range ws {
		w(s)
	}
}

// SetLocation changes the location service state and notifies watchers.
func (a *Adapter) SetLocation(on bool) {
	a.mu.Lock()
	a.location = on
	var ws []func(bool)
	for _, w := range a.locationWatchers {
		ws = append(ws, w)
	}
	a.mu.Unlock()

	for _, w := range ws {
		w(on)
	}
}

// SetBond changes the bond state of addr and notifies watchers.
func (a *Adapter) SetBond(addr blecentral.Addr, s blecentral.BondState) {
	a.mu.Lock()
	if s == blecentral.BondNone {
		delete(a.bonds, addr.String())
	} else {
		a.bonds[addr.String()] = s
	}
	var ws []func(blecentral.Addr, blecentral.BondState)
	for _, w := range a.bondWatchers {
		ws = append(ws, w)
	}
	a.mu.Unlock()

	for _, w := range ws {
		w(addr, s)
	}
}

// Pin returns the last PIN set.
func (a *Adapter) Pin() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pin
}

// SettingsShown counts ShowSettings calls.
func (a *Adapter) SettingsShown() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

func (a *Adapter) Enable() error {
	a.SetState(blecentral.AdapterOn)
	return nil
}

func (a *Adapter) State() blecentral.AdapterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) LocationEnabled() (bool, error) {
	if a.NoLocation {
		return false, blecentral.ErrUnsupported
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.location, nil
}

func (a *Adapter) ShowSettings() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings++
	return nil
}

func (a *Adapter) StartScan(f blecentral.ScanFilter, o blecentral.ScanOptions, cb func(blecentral.ScanRecord)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scanning {
		return errors.New("scan already running")
	}
	a.scanning = true
	a.scanFilter = f
	a.scanOpts = o
	a.scanCb = cb
	return nil
}

func (a *Adapter) StopScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanning = false
	a.scanCb = nil
	return nil
}

// Connect opens a session and reports the link state asynchronously.
func (a *Adapter) Connect(addr blecentral.Addr, auto bool, h blecentral.SessionHandler) (blecentral.Session, error) {
	a.mu.Lock()
	p, ok := a.peripherals[addr.String()]
	if !ok {
		a.mu.Unlock()
		return nil, blecentral.NotFoundf("device %v", addr)
	}
	s := newSession(p, h)
	a.sessions[addr.String()] = append(a.sessions[addr.String()], s)
	a.mu.Unlock()

	status := p.nextConnectStatus()
	go h.OnConnectionStateChange(status == blecentral.GattSuccess, status)
	return s, nil
}

func (a *Adapter) Name(addr blecentral.Addr) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.peripherals[addr.String()]; ok {
		return p.Name
	}
	return ""
}

func (a *Adapter) BondedDevices() ([]blecentral.Device, error) {
	if a.NoBondList {
		return nil, blecentral.ErrUnsupported
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []blecentral.Device
	for k, s := range a.bonds {
		if s != blecentral.BondBonded {
			continue
		}
		d := blecentral.Device{Addr: blecentral.NewAddr(k)}
		if p, ok := a.peripherals[k]; ok {
			d.Name = p.Name
		}
		out = append(out, d)
	}
	return out, nil
}

func (a *Adapter) BondState(addr blecentral.Addr) blecentral.BondState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bonds[addr.String()]
}

// CreateBond moves addr to bonding, then to bonded from a goroutine unless
// HoldBonds is set.
func (a *Adapter) CreateBond(addr blecentral.Addr) error {
	a.SetBond(addr, blecentral.BondBonding)
	if !a.HoldBonds {
		go a.SetBond(addr, blecentral.BondBonded)
	}
	return nil
}

// CompleteBond finishes a held bond.
func (a *Adapter) CompleteBond(addr blecentral.Addr) {
	a.SetBond(addr, blecentral.BondBonded)
}

func (a *Adapter) RemoveBond(addr blecentral.Addr) error {
	a.mu.Lock()
	_, ok := a.bonds[addr.String()]
	a.mu.Unlock()
	if !ok {
		return blecentral.NotFoundf("bond %v", addr)
	}
	a.SetBond(addr, blecentral.BondNone)
	return nil
}

func (a *Adapter) SetPin(pin string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pin = pin
	return nil
}

func (a *Adapter) watch(register func(id int)) func() {
	a.mu.Lock()
	id := a.nextWatcher
	a.nextWatcher++
	register(id)
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.stateWatchers, id)
		delete(a.locationWatchers, id)
		delete(a.bondWatchers, id)
		a.mu.Unlock()
	}
}

func (a *Adapter) WatchState(f func(blecentral.AdapterState)) (func(), error) {
	return a.watch(func(id int) { a.stateWatchers[id] = f }), nil
}

func (a *Adapter) WatchLocation(f func(bool)) (func(), error) {
	if a.NoLocation {
		return nil, blecentral.ErrUnsupported
	}
	return a.watch(func(id int) { a.locationWatchers[id] = f }), nil
}

func (a *Adapter) WatchBonds(f func(blecentral.Addr, blecentral.BondState)) (func(), error) {
	return a.watch(func(id int) { a.bondWatchers[id] = f }), nil
}

var _ blecentral.Adapter = (*Adapter)(nil)
var _ blecentral.Session = (*Session)(nil)
