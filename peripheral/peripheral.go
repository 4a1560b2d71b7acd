// Package peripheral holds the state of one remote device: its connection
// state machine, its GATT command queue, its notification subscriptions
// and its L2CAP channels.
package peripheral

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/l2cap"
	"github.com/rigado/blecentral/notify"
	"github.com/rigado/blecentral/queue"
	"github.com/rigado/blecentral/stream"
)

// FakeRSSI marks a peripheral that was never seen in a scan.
const FakeRSSI = 0x7FFFFFFF

// Messages reported when a link goes away.
const (
	MsgDisconnected      = "Peripheral Disconnected"
	MsgDiscoveryFailed   = "Service discovery failed"
	MsgBluetoothDisabled = "Bluetooth Disabled"
	MsgRefreshAborted    = "refreshDeviceCache aborted due to new connect call"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return "disconnected"
}

type ConnEventKind int

const (
	// EventConnected follows a successful service discovery.
	EventConnected ConnEventKind = iota
	// EventDisconnected reports a link loss on an auto connect stream.
	EventDisconnected
)

// ConnEvent is delivered on the stream returned by Connect.
type ConnEvent struct {
	Kind    ConnEventKind
	Info    Info
	Message string
}

// Info is a point in time copy of the peripheral for reporting.
type Info struct {
	Addr        blecentral.Addr
	Name        string
	RSSI        int
	Advertising []byte
	State       State
	Profile     *blecentral.Profile
}

// Scanned reports whether the peripheral came from a scan.
func (i Info) Scanned() bool {
	return i.Advertising != nil
}

// Config carries the collaborators shared by every peripheral.
type Config struct {
	Adapter  blecentral.Adapter
	Quirks   blecentral.QuirkPolicy
	Cache    blecentral.GattCache
	ReadSize int
	Logger   blecentral.Logger

	// ErrorHandler receives failures with no caller waiting on them.
	ErrorHandler func(error)
}

type mtuRequest struct {
	done func(mtu int, err error)
}

type refreshRequest struct {
	done  func(*blecentral.Profile, error)
	timer *time.Timer
}

// Peripheral is one remote device. All fields are guarded by mu.
type Peripheral struct {
	mu sync.Mutex

	addr    blecentral.Addr
	name    string
	rssi    int
	adv     []byte
	state   State
	auto    bool
	retries int
	// linked is set once the link of the current attempt is up; the state
	// stays Connecting until discovery finishes
	linked bool

	gen     uint64
	session blecentral.Session
	profile *blecentral.Profile
	events  *stream.Stream[ConnEvent]
	mtu     *mtuRequest
	refresh *refreshRequest

	stopBondWatch func()

	cfg    Config
	seq    *queue.Sequencer
	notifs *notify.Registry
	l2     *l2cap.Manager
	blecentral.Logger
}

// New creates an unscanned peripheral.
func New(a blecentral.Addr, name string, cfg Config) *Peripheral {
	if cfg.Logger == nil {
		cfg.Logger = blecentral.GetLogger()
	}
	if cfg.Quirks == nil {
		cfg.Quirks = noQuirks{}
	}
	l := cfg.Logger.ChildLogger(map[string]interface{}{"peripheral": a.String()})
	p := &Peripheral{
		addr:   a,
		name:   name,
		rssi:   FakeRSSI,
		cfg:    cfg,
		notifs: notify.NewRegistry(l),
		Logger: l,
	}
	p.seq = queue.New(p.execute, l)
	p.l2 = l2cap.New(nil, cfg.ReadSize, l)
	p.l2.ErrorHandler = cfg.ErrorHandler
	return p
}

type noQuirks struct{}

func (noQuirks) RetryConnect(string, int, int) bool { return false }
func (noQuirks) BondBeforeConnect(string) bool      { return false }

func (p *Peripheral) Addr() blecentral.Addr { return p.addr }

func (p *Peripheral) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// SetName records a name learned from the platform.
func (p *Peripheral) SetName(n string) {
	if n == "" {
		return
	}
	p.mu.Lock()
	p.name = n
	p.mu.Unlock()
}

func (p *Peripheral) RSSI() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rssi
}

// Scanned reports whether an advertising payload was ever recorded.
func (p *Peripheral) Scanned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.adv != nil
}

// Update records a scan sighting.
func (p *Peripheral) Update(name string, rssi int, adv []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name != "" {
		p.name = name
	}
	p.rssi = rssi
	if adv == nil {
		adv = []byte{}
	}
	p.adv = append([]byte(nil), adv...)
}

func (p *Peripheral) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peripheral) IsConnected() bool  { return p.State() == Connected }
func (p *Peripheral) IsConnecting() bool { return p.State() == Connecting }

// Busy reports whether the peripheral is connected or connecting, which
// keeps it in the registry across scans.
func (p *Peripheral) Busy() bool {
	s := p.State()
	return s == Connected || s == Connecting
}

// Refreshing reports whether a cache refresh is pending.
func (p *Peripheral) Refreshing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refresh != nil
}

// Profile returns the discovered profile, nil before discovery.
func (p *Peripheral) Profile() *blecentral.Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profile
}

// Info returns a copy of the reportable state.
func (p *Peripheral) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.infoLocked()
}

func (p *Peripheral) infoLocked() Info {
	i := Info{
		Addr:  p.addr,
		Name:  p.name,
		RSSI:  p.rssi,
		State: p.state,
	}
	if p.adv != nil {
		i.Advertising = append([]byte(nil), p.adv...)
	}
	if p.state == Connected {
		i.Profile = p.profile
	}
	return i
}

// Pending returns the number of queued GATT commands, including the one
// in flight.
func (p *Peripheral) Pending() int {
	n := p.seq.Len()
	if p.seq.InFlight() != nil {
		n++
	}
	return n
}

// Subscriptions returns the number of live notification subscriptions.
func (p *Peripheral) Subscriptions() int {
	return p.notifs.Len()
}

// Connect starts a connection and returns its event stream. A previous
// connect stream is ended and a pending cache refresh is aborted.
func (p *Peripheral) Connect(auto bool) *stream.Stream[ConnEvent] {
	events := stream.New[ConnEvent]()

	p.mu.Lock()
	old := p.events
	p.events = events
	p.auto = auto
	p.retries = 0
	refresh := p.takeRefreshLocked()
	stopBond := p.stopBondWatch
	p.stopBondWatch = nil
	name := p.name
	p.mu.Unlock()

	if stopBond != nil {
		stopBond()
	}
	if refresh != nil {
		refresh.done(nil, errors.New(MsgRefreshAborted))
	}
	if old != nil {
		old.End(nil)
	}

	if auto && p.cfg.Quirks.BondBeforeConnect(name) && p.cfg.Adapter.BondState(p.addr) != blecentral.BondBonded {
		p.bondThenConnect()
		return events
	}

	p.gattConnect()
	return events
}

// bondThenConnect asks the platform to bond and connects once bonded.
func (p *Peripheral) bondThenConnect() {
	p.setState(Connecting)

	var once sync.Once
	stop, err := p.cfg.Adapter.WatchBonds(func(a blecentral.Addr, s blecentral.BondState) {
		if a.String() != p.addr.String() || s != blecentral.BondBonded {
			return
		}
		once.Do(func() {
			p.mu.Lock()
			stop := p.stopBondWatch
			p.stopBondWatch = nil
			p.mu.Unlock()
			if stop != nil {
				stop()
			}
			p.Infof("bonded, connecting")
			p.gattConnect()
		})
	})
	if err != nil {
		p.Errorf("watch bonds: %v", err)
		p.fail(err)
		return
	}

	p.mu.Lock()
	p.stopBondWatch = stop
	p.mu.Unlock()

	p.Infof("not bonded, creating bond")
	if err := p.cfg.Adapter.CreateBond(p.addr); err != nil {
		p.Errorf("create bond: %v", err)
		p.fail(err)
	}
}

// gattConnect tears down any session and opens a new one.
func (p *Peripheral) gattConnect() {
	reason := blecentral.Disconnectedf(MsgDisconnected)

	p.mu.Lock()
	old := p.detachLocked()
	p.state = Connecting
	p.linked = false
	p.profile = nil
	p.gen++
	h := &handler{p: p, gen: p.gen, ready: make(chan struct{})}
	auto := p.auto
	mtu := p.takeMTULocked()
	p.mu.Unlock()

	p.closeSession(old)
	p.cleanup(reason, mtu, nil)
	p.Debugf("state -> %v (auto=%v)", Connecting, auto)

	s, err := p.cfg.Adapter.Connect(p.addr, auto, h)

	p.mu.Lock()
	if err == nil && h.gen == p.gen {
		p.session = s
		p.l2.SetDialer(s.OpenL2CAP)
	}
	stale := h.gen != p.gen
	p.mu.Unlock()
	close(h.ready)

	switch {
	case err != nil:
		p.Errorf("connect: %v", err)
		p.fail(err)
	case stale:
		// superseded while the platform was connecting
		s.Close()
	}
}

// Disconnect is a caller requested disconnect. It disarms auto connect and
// ends the connect stream without an error.
func (p *Peripheral) Disconnect() {
	reason := blecentral.Disconnectedf(MsgDisconnected)

	p.mu.Lock()
	p.state = Disconnecting
	p.auto = false
	p.gen++
	old := p.detachLocked()
	events := p.events
	p.events = nil
	mtu := p.takeMTULocked()
	refresh := p.takeRefreshLocked()
	stopBond := p.stopBondWatch
	p.stopBondWatch = nil
	p.mu.Unlock()

	p.Debugf("state -> %v", Disconnecting)
	if stopBond != nil {
		stopBond()
	}
	p.closeSession(old)
	p.cleanup(reason, mtu, refresh)

	p.setState(Disconnected)
	if events != nil {
		events.End(nil)
	}
}

// PeripheralDisconnected reports a link loss with message to the caller,
// the way a native disconnect does.
func (p *Peripheral) PeripheralDisconnected(message string) {
	p.peripheralDisconnected(message, blecentral.GattSuccess)
}

// peripheralDisconnected handles a link that went away without being asked
// to. With auto connect armed the stream stays open and a fresh connect is
// issued.
func (p *Peripheral) peripheralDisconnected(message string, status int) {
	p.mu.Lock()
	p.linkLost(message, status)
}

// sessionLost is peripheralDisconnected for the session of gen. It does
// nothing once a newer session has replaced it.
func (p *Peripheral) sessionLost(gen uint64, message string, status int) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		p.Debugf("dropping disconnect from stale session")
		return
	}
	p.linkLost(message, status)
}

// linkLost is called with p.mu held and releases it.
func (p *Peripheral) linkLost(message string, status int) {
	reason := blecentral.Disconnectedf(message)

	p.state = Disconnected
	auto := p.auto
	p.gen++
	old := p.detachLocked()
	events := p.events
	if !auto {
		p.events = nil
	}
	mtu := p.takeMTULocked()
	refresh := p.takeRefreshLocked()
	info := p.infoLocked()
	p.mu.Unlock()

	p.Infof("disconnected: %s (status=%d, auto=%v)", message, status, auto)
	p.closeSession(old)
	p.cleanup(reason, mtu, refresh)

	if events == nil {
		return
	}
	if !auto {
		events.End(reason)
		return
	}
	events.Send(ConnEvent{Kind: EventDisconnected, Info: info, Message: message})
	p.gattConnect()
}

// fail reports a connect attempt that could not start. Auto connect is
// disarmed since retrying would fail the same way.
func (p *Peripheral) fail(err error) {
	p.mu.Lock()
	p.auto = false
	p.mu.Unlock()
	p.peripheralDisconnected(err.Error(), blecentral.GattError)
}

// QueueCleanup fails every queued command and closes every channel without
// touching the link.
func (p *Peripheral) QueueCleanup() {
	reason := blecentral.Disconnectedf(MsgDisconnected)
	n := p.seq.Clear(reason)
	c := p.l2.CloseAll(reason)
	p.Debugf("queue cleanup: %d commands, %d channels", n, c)
}

func (p *Peripheral) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.Debugf("state -> %v", s)
}

// detachLocked forgets the session without closing it.
func (p *Peripheral) detachLocked() blecentral.Session {
	s := p.session
	p.session = nil
	p.l2.SetDialer(nil)
	return s
}

func (p *Peripheral) closeSession(s blecentral.Session) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		p.Debugf("close session: %v", err)
	}
}

func (p *Peripheral) takeMTULocked() *mtuRequest {
	m := p.mtu
	p.mtu = nil
	return m
}

func (p *Peripheral) takeRefreshLocked() *refreshRequest {
	r := p.refresh
	p.refresh = nil
	if r != nil && r.timer != nil {
		r.timer.Stop()
	}
	return r
}

// cleanup fails everything tied to the old session.
func (p *Peripheral) cleanup(reason error, mtu *mtuRequest, refresh *refreshRequest) {
	cmds := p.seq.Clear(reason)
	subs := p.notifs.Clear(reason)
	chans := p.l2.CloseAll(reason)
	if cmds+subs+chans > 0 {
		p.Debugf("cleanup: %d commands, %d subscriptions, %d channels", cmds, subs, chans)
	}
	if mtu != nil {
		mtu.done(0, reason)
	}
	if refresh != nil {
		refresh.done(nil, reason)
	}
}

// current returns the live session if gen still names it.
func (p *Peripheral) current(gen uint64) (blecentral.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen || p.session == nil {
		return nil, false
	}
	return p.session, true
}
