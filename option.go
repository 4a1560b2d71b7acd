package blecentral

import (
	"time"
)

// CentralOption is implemented by the central to accept configuration options.
type CentralOption interface {
	SetLogger(Logger) error
	SetErrorHandler(handler func(error)) error
	SetGattCache(GattCache) error
	SetBondStore(BondStore) error
	SetQuirks(QuirkPolicy) error
	SetL2CAPReadSize(n int) error
	SetEmitSubscriptionAck(bool) error
	SetRefreshDelay(time.Duration) error
}

// An Option is a configuration function, which configures the central.
type Option func(CentralOption) error

// OptLogger overrides the default logger.
func OptLogger(l Logger) Option {
	return func(opt CentralOption) error {
		return opt.SetLogger(l)
	}
}

// OptErrorHandler sets error handler for failures with no caller to report to.
func OptErrorHandler(handler func(error)) Option {
	return func(opt CentralOption) error {
		return opt.SetErrorHandler(handler)
	}
}

// OptGattCache persists discovered profiles.
func OptGattCache(c GattCache) Option {
	return func(opt CentralOption) error {
		return opt.SetGattCache(c)
	}
}

// OptBondStore records bonds when the adapter cannot list them.
func OptBondStore(s BondStore) Option {
	return func(opt CentralOption) error {
		return opt.SetBondStore(s)
	}
}

// OptQuirks installs a peripheral quirk policy.
func OptQuirks(q QuirkPolicy) Option {
	return func(opt CentralOption) error {
		return opt.SetQuirks(q)
	}
}

// OptL2CAPReadSize sets the L2CAP read buffer size.
func OptL2CAPReadSize(n int) Option {
	return func(opt CentralOption) error {
		return opt.SetL2CAPReadSize(n)
	}
}

// OptEmitSubscriptionAck sets the default for surfacing the subscription ack.
func OptEmitSubscriptionAck(emit bool) Option {
	return func(opt CentralOption) error {
		return opt.SetEmitSubscriptionAck(emit)
	}
}

// OptRefreshDelay sets the default delay before rediscovery after a cache refresh.
func OptRefreshDelay(d time.Duration) Option {
	return func(opt CentralOption) error {
		return opt.SetRefreshDelay(d)
	}
}
