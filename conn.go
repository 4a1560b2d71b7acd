package blecentral

import (
	"io"
)

// GATT status codes reported through SessionHandler callbacks.
const (
	GattSuccess      = 0x00
	GattReadNotPerm  = 0x02
	GattWriteNotPerm = 0x03
	GattError        = 0x85 // 133, the catch-all connection failure
	GattFailure      = 0x101
)

// AdapterState is the power state of the local radio.
type AdapterState int

const (
	AdapterUnknown AdapterState = iota
	AdapterOff
	AdapterTurningOn
	AdapterOn
	AdapterTurningOff
)

func (s AdapterState) String() string {
	switch s {
	case AdapterOff:
		return "off"
	case AdapterTurningOn:
		return "turningOn"
	case AdapterOn:
		return "on"
	case AdapterTurningOff:
		return "turningOff"
	}
	return "unknown"
}

// BondState is the pairing state of a remote device.
type BondState int

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

func (s BondState) String() string {
	switch s {
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	}
	return "none"
}

// WriteType selects acknowledged or unacknowledged characteristic writes.
type WriteType int

const (
	WriteWithResponse WriteType = iota
	WriteWithoutResponse
)

// ConnectionPriority mirrors the platform connection interval presets.
type ConnectionPriority int

const (
	PriorityBalanced ConnectionPriority = iota
	PriorityHigh
	PriorityLow
)

func (p ConnectionPriority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	}
	return "balanced"
}

// Capability flags the optional operations a Session can perform.
type Capability uint

const (
	CapReadRSSI Capability = 1 << iota
	CapMTU
	CapConnectionPriority
	CapRefresh
	CapL2CAP
)

func (c Capability) Has(f Capability) bool { return c&f == f }

// Device is a remote device known to the adapter without a scan sighting.
type Device struct {
	Addr Addr
	Name string
}

// ScanRecord is one advertising report.
type ScanRecord struct {
	Addr        Addr
	Name        string
	RSSI        int
	Advertising []byte
	// Services is filled by backends that decode the payload themselves.
	Services []UUID
}

// ScanFilter restricts a scan to peripherals advertising one of Services.
type ScanFilter struct {
	Services []UUID
}

// Adapter is the local radio as seen by the core. Implementations wrap a
// platform stack; see native/tinygo.
type Adapter interface {
	Enable() error
	State() AdapterState
	LocationEnabled() (bool, error)
	ShowSettings() error

	StartScan(ScanFilter, ScanOptions, func(ScanRecord)) error
	StopScan() error

	// Connect opens a GATT session. All session events for the lifetime of
	// the returned Session are delivered to h.
	Connect(a Addr, auto bool, h SessionHandler) (Session, error)

	// Name returns the platform's cached name for a, empty if unknown.
	Name(a Addr) string

	BondedDevices() ([]Device, error)
	BondState(a Addr) BondState
	CreateBond(a Addr) error
	RemoveBond(a Addr) error
	SetPin(pin string) error

	// WatchState reports adapter power changes until stop is called.
	WatchState(func(AdapterState)) (stop func(), err error)
	WatchLocation(func(bool)) (stop func(), err error)
	WatchBonds(func(Addr, BondState)) (stop func(), err error)
}

// Session is one GATT session to a peripheral. A nil error from an
// operation promises exactly one matching SessionHandler callback; a non
// nil error means nothing was sent.
type Session interface {
	DiscoverServices() error
	ReadCharacteristic(c *Characteristic) error
	WriteCharacteristic(c *Characteristic, data []byte, wt WriteType) error
	// SetNotify toggles local delivery only; it has no callback.
	SetNotify(c *Characteristic, enable bool) error
	WriteDescriptor(c *Characteristic, d UUID, value []byte) error
	ReadRSSI() error
	RequestMTU(mtu int) error
	RequestConnectionPriority(p ConnectionPriority) error
	// Refresh drops the platform's attribute cache for this peripheral.
	Refresh() error
	OpenL2CAP(psm uint16, secure bool) (io.ReadWriteCloser, error)

	Capabilities() Capability
	Close() error
}

// SessionHandler receives the asynchronous results of Session operations
// and unsolicited link events.
type SessionHandler interface {
	OnConnectionStateChange(connected bool, status int)
	OnServicesDiscovered(p Profile, status int)
	OnCharacteristicRead(c *Characteristic, value []byte, status int)
	OnCharacteristicWrite(c *Characteristic, status int)
	OnDescriptorWrite(c *Characteristic, d UUID, status int)
	OnReadRemoteRSSI(rssi int, status int)
	OnCharacteristicChanged(c *Characteristic, value []byte)
	OnMtuChanged(mtu int, status int)
}
