package blecentral

// GattCache keeps discovered profiles per peripheral.
type GattCache interface {
	Store(Addr, Profile, bool) error
	Load(Addr) (Profile, error)
	Remove(Addr) error
	Clear() error
}

// BondStore records bonded peripherals for stacks that cannot list them.
type BondStore interface {
	Exists(Addr) bool
	Save(Addr, string) error
	Delete(Addr) error
	List() ([]Device, error)
}

// QuirkPolicy holds model specific connection workarounds keyed by the
// advertised name.
type QuirkPolicy interface {
	// RetryConnect reports whether a link failure with status on the
	// attempt-th retry should be retried instead of reported.
	RetryConnect(name string, status int, attempt int) bool
	// BondBeforeConnect reports whether the peripheral must be bonded
	// before a GATT connection is attempted.
	BondBeforeConnect(name string) bool
}
