// Package central is the BLE central service: it owns the peripheral
// registry and exposes scan, connect, GATT, L2CAP and adapter operations
// by peripheral address.
package central

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/peripheral"
	"github.com/rigado/blecentral/registry"
	"github.com/rigado/blecentral/stream"
)

// DefaultRefreshDelay is the wait between a cache refresh and rediscovery
// when the caller does not give one.
const DefaultRefreshDelay = 300 * time.Millisecond

// MsgBluetoothDisabled is the scan/connect refusal while the adapter is off.
const MsgBluetoothDisabled = "Bluetooth is disabled."

type Central struct {
	sync.Mutex

	adapter blecentral.Adapter
	reg     *registry.Registry

	cache        blecentral.GattCache
	bonds        blecentral.BondStore
	quirks       blecentral.QuirkPolicy
	readSize     int
	emitAck      bool
	refreshDelay time.Duration
	errorHandler func(error)

	scan *scan

	lastState blecentral.AdapterState
	states    *stream.Stream[string]
	locations *stream.Stream[string]
	stops     []func()

	restored []byte
	closed   bool

	blecentral.Logger
}

// New creates a central over adapter a and starts watching adapter, location
// and bond state.
func New(a blecentral.Adapter, opts ...blecentral.Option) (*Central, error) {
	if a == nil {
		return nil, errors.New("nil adapter")
	}
	c := &Central{
		adapter:      a,
		refreshDelay: DefaultRefreshDelay,
		Logger:       blecentral.GetLogger().ChildLogger(map[string]interface{}{"component": "central"}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.reg = registry.New(peripheral.Config{
		Adapter:      a,
		Quirks:       c.quirks,
		Cache:        c.cache,
		ReadSize:     c.readSize,
		Logger:       c.Logger,
		ErrorHandler: c.errorHandler,
	})
	c.lastState = a.State()

	if stop, err := a.WatchState(c.onAdapterState); err != nil {
		c.Warnf("watch adapter state: %v", err)
	} else {
		c.stops = append(c.stops, stop)
	}
	if stop, err := a.WatchLocation(c.onLocation); err != nil {
		c.Debugf("watch location: %v", err)
	} else {
		c.stops = append(c.stops, stop)
	}
	if c.bonds != nil {
		if stop, err := a.WatchBonds(c.onBond); err != nil {
			c.Warnf("watch bonds: %v", err)
		} else {
			c.stops = append(c.stops, stop)
		}
	}

	return c, nil
}

// Registry exposes the peripherals known to c.
func (c *Central) Registry() *registry.Registry { return c.reg }

// Adapter returns the native adapter c drives.
func (c *Central) Adapter() blecentral.Adapter { return c.adapter }

// EmitSubscriptionAck is the default for surfacing subscription acks.
func (c *Central) EmitSubscriptionAck() bool {
	c.Lock()
	defer c.Unlock()
	return c.emitAck
}

// RefreshDelay is the default delay before rediscovery after a refresh.
func (c *Central) RefreshDelay() time.Duration {
	c.Lock()
	defer c.Unlock()
	return c.refreshDelay
}

func (c *Central) dispatchError(err error) {
	if c.errorHandler != nil {
		c.errorHandler(err)
		return
	}
	c.Error(err)
}

// Restore accepts the snapshot a platform hands over after restarting the
// process. It must be a JSON object; its content is kept as is.
func (c *Central) Restore(snapshot []byte) error {
	var probe map[string]jsoniter.RawMessage
	if err := jsoniter.Unmarshal(snapshot, &probe); err != nil {
		return errors.Wrap(err, "invalid restoration snapshot")
	}

	c.Lock()
	c.restored = append([]byte(nil), snapshot...)
	c.Unlock()
	c.Infof("restored state with %d keys", len(probe))
	return nil
}

// RestoredState returns the snapshot given to Restore, nil if none.
func (c *Central) RestoredState() []byte {
	c.Lock()
	defer c.Unlock()
	if c.restored == nil {
		return nil
	}
	return append([]byte(nil), c.restored...)
}

// Close stops scanning, disconnects every peripheral and ends the state
// streams. The central must not be used afterwards.
func (c *Central) Close() error {
	c.Lock()
	if c.closed {
		c.Unlock()
		return nil
	}
	c.closed = true
	stops := c.stops
	c.stops = nil
	states, locations := c.states, c.locations
	c.states, c.locations = nil, nil
	c.Unlock()

	for _, stop := range stops {
		stop()
	}

	var g errgroup.Group
	g.Go(func() error {
		return c.StopScan()
	})
	for _, p := range c.reg.List(false) {
		p := p
		if p.State() == peripheral.Disconnected {
			continue
		}
		g.Go(func() error {
			p.Disconnect()
			return nil
		})
	}
	err := g.Wait()

	if states != nil {
		states.End(nil)
	}
	if locations != nil {
		locations.End(nil)
	}
	return err
}
