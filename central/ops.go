package central

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/gatt"
	"github.com/rigado/blecentral/l2cap"
	"github.com/rigado/blecentral/notify"
	"github.com/rigado/blecentral/peripheral"
	"github.com/rigado/blecentral/stream"
)

// lookup returns the known peripheral for a.
func (c *Central) lookup(a blecentral.Addr) (*peripheral.Peripheral, error) {
	p, ok := c.reg.Get(a)
	if !ok {
		return nil, blecentral.NotFoundf("Peripheral %s", a)
	}
	return p, nil
}

// Peripheral returns a snapshot of the peripheral for a.
func (c *Central) Peripheral(a blecentral.Addr) (peripheral.Info, error) {
	p, err := c.lookup(a)
	if err != nil {
		return peripheral.Info{}, err
	}
	return p.Info(), nil
}

// List returns the peripherals seen by a scan, ordered by address.
func (c *Central) List() []peripheral.Info {
	ps := c.reg.List(true)
	out := make([]peripheral.Info, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Info())
	}
	return out
}

// Connect connects to a once. The stream carries one EventConnected after
// discovery and ends on disconnect, with an error for a link loss.
func (c *Central) Connect(a blecentral.Addr) (*stream.Stream[peripheral.ConnEvent], error) {
	return c.connect(a, false)
}

// AutoConnect connects to a and reconnects after every link loss until
// Disconnect. Link losses are reported as EventDisconnected.
func (c *Central) AutoConnect(a blecentral.Addr) (*stream.Stream[peripheral.ConnEvent], error) {
	return c.connect(a, true)
}

func (c *Central) connect(a blecentral.Addr, auto bool) (*stream.Stream[peripheral.ConnEvent], error) {
	if a == nil || !blecentral.ValidAddr(a.String()) {
		return nil, blecentral.NotFoundf("Peripheral %v: invalid address", a)
	}
	if c.adapter.State() != blecentral.AdapterOn {
		return nil, errors.New(MsgBluetoothDisabled)
	}
	p := c.reg.GetOrCreate(a, c.adapter.Name(a))
	return p.Connect(auto), nil
}

// Disconnect tears down the connection to a, disarms auto connect and
// removes the bond. An address the registry does not know still has its
// bond removed.
func (c *Central) Disconnect(a blecentral.Addr) error {
	p, ok := c.reg.Get(a)
	if !ok && (a == nil || !blecentral.ValidAddr(a.String())) {
		return blecentral.NotFoundf("Peripheral %v", a)
	}
	if ok {
		p.Disconnect()
	}

	if err := c.adapter.RemoveBond(a); err != nil {
		c.Debugf("remove bond %v: %v", a, err)
	}
	if c.bonds != nil {
		if err := c.bonds.Delete(a); err != nil && !blecentral.IsNotFound(err) {
			c.Warnf("bond store delete %v: %v", a, err)
		}
	}
	return nil
}

// IsConnected reports whether a is connected.
func (c *Central) IsConnected(a blecentral.Addr) bool {
	p, ok := c.reg.Get(a)
	return ok && p.IsConnected()
}

// QueueCleanup fails every queued command of a and closes its channels
// without disconnecting.
func (c *Central) QueueCleanup(a blecentral.Addr) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	p.QueueCleanup()
	return nil
}

type readResult struct {
	value []byte
	err   error
}

// ReadAsync queues a characteristic read in call order. done is called
// once with the outcome; it must not block.
func (c *Central) ReadAsync(a blecentral.Addr, svc, char blecentral.UUID, done func([]byte, error)) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	return p.Read(gatt.Target{Service: svc, Characteristic: char}, done)
}

// Read reads a characteristic. Cancelling ctx stops the wait, not the
// queued read.
func (c *Central) Read(ctx context.Context, a blecentral.Addr, svc, char blecentral.UUID) ([]byte, error) {
	ch := make(chan readResult, 1)
	err := c.ReadAsync(a, svc, char, func(v []byte, err error) {
		ch <- readResult{v, err}
	})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WriteAsync queues an acknowledged write in call order.
func (c *Central) WriteAsync(a blecentral.Addr, svc, char blecentral.UUID, data []byte, done func(error)) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	return p.Write(gatt.Target{Service: svc, Characteristic: char}, data, done)
}

// Write performs an acknowledged write.
func (c *Central) Write(ctx context.Context, a blecentral.Addr, svc, char blecentral.UUID, data []byte) error {
	ch := make(chan error, 1)
	if err := c.WriteAsync(a, svc, char, data, func(err error) { ch <- err }); err != nil {
		return err
	}
	return wait(ctx, ch)
}

// WriteWithoutResponseAsync queues an unacknowledged write. done is called
// once the write is handed to the platform.
func (c *Central) WriteWithoutResponseAsync(a blecentral.Addr, svc, char blecentral.UUID, data []byte, done func(error)) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	return p.WriteNoResponse(gatt.Target{Service: svc, Characteristic: char}, data, done)
}

// WriteWithoutResponse performs an unacknowledged write. It fails only when
// the characteristic cannot be resolved or the peripheral is not connected.
func (c *Central) WriteWithoutResponse(ctx context.Context, a blecentral.Addr, svc, char blecentral.UUID, data []byte) error {
	ch := make(chan error, 1)
	if err := c.WriteWithoutResponseAsync(a, svc, char, data, func(err error) { ch <- err }); err != nil {
		return err
	}
	return wait(ctx, ch)
}

type rssiResult struct {
	rssi int
	err  error
}

// ReadRSSIAsync queues a signal strength read.
func (c *Central) ReadRSSIAsync(a blecentral.Addr, done func(int, error)) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	return p.ReadRSSI(done)
}

// ReadRSSI reads the signal strength of the live link.
func (c *Central) ReadRSSI(ctx context.Context, a blecentral.Addr) (int, error) {
	ch := make(chan rssiResult, 1)
	if err := c.ReadRSSIAsync(a, func(rssi int, err error) { ch <- rssiResult{rssi, err} }); err != nil {
		return 0, err
	}
	select {
	case r := <-ch:
		return r.rssi, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// StartNotification subscribes to a characteristic. With emitAck the
// stream starts with a Subscribed event once the platform confirms.
func (c *Central) StartNotification(a blecentral.Addr, svc, char blecentral.UUID, emitAck bool) (*stream.Stream[notify.Event], error) {
	p, err := c.lookup(a)
	if err != nil {
		return nil, err
	}
	return p.StartNotification(gatt.Target{Service: svc, Characteristic: char}, emitAck)
}

// StopNotificationAsync queues an unsubscribe behind earlier commands.
func (c *Central) StopNotificationAsync(a blecentral.Addr, svc, char blecentral.UUID, done func(error)) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	return p.StopNotification(gatt.Target{Service: svc, Characteristic: char}, done)
}

// StopNotification unsubscribes. A platform failure is returned as a
// *blecentral.WarningError after the subscription is already gone.
func (c *Central) StopNotification(ctx context.Context, a blecentral.Addr, svc, char blecentral.UUID) error {
	ch := make(chan error, 1)
	if err := c.StopNotificationAsync(a, svc, char, func(err error) { ch <- err }); err != nil {
		return err
	}
	return wait(ctx, ch)
}

type mtuResult struct {
	mtu int
	err error
}

// RequestMTUAsync starts an MTU negotiation; done receives the value granted.
func (c *Central) RequestMTUAsync(a blecentral.Addr, mtu int, done func(int, error)) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	return p.RequestMTU(mtu, done)
}

// RequestMTU negotiates a new MTU and returns the value granted.
func (c *Central) RequestMTU(ctx context.Context, a blecentral.Addr, mtu int) (int, error) {
	ch := make(chan mtuResult, 1)
	if err := c.RequestMTUAsync(a, mtu, func(mtu int, err error) { ch <- mtuResult{mtu, err} }); err != nil {
		return 0, err
	}
	select {
	case r := <-ch:
		return r.mtu, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// RequestConnectionPriority asks for a connection interval preset.
func (c *Central) RequestConnectionPriority(a blecentral.Addr, pr blecentral.ConnectionPriority) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	return p.RequestConnectionPriority(pr)
}

type profileResult struct {
	profile *blecentral.Profile
	err     error
}

// RefreshDeviceCacheAsync clears the platform attribute cache and
// rediscovers after delay, negative for the configured default.
func (c *Central) RefreshDeviceCacheAsync(a blecentral.Addr, delay time.Duration, done func(*blecentral.Profile, error)) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	if delay < 0 {
		delay = c.RefreshDelay()
	}
	return p.RefreshDeviceCache(delay, done)
}

// RefreshDeviceCache is RefreshDeviceCacheAsync waiting for the new profile.
func (c *Central) RefreshDeviceCache(ctx context.Context, a blecentral.Addr, delay time.Duration) (*blecentral.Profile, error) {
	ch := make(chan profileResult, 1)
	err := c.RefreshDeviceCacheAsync(a, delay, func(pr *blecentral.Profile, err error) { ch <- profileResult{pr, err} })
	if err != nil {
		return nil, err
	}
	select {
	case r := <-ch:
		return r.profile, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OpenL2CAP opens a channel. The stream reports l2cap.Connected and ends
// when the channel closes.
func (c *Central) OpenL2CAP(a blecentral.Addr, psm uint16, secure bool) (*stream.Stream[l2cap.Status], error) {
	p, err := c.lookup(a)
	if err != nil {
		return nil, err
	}
	return p.OpenL2CAP(psm, secure)
}

// CloseL2CAP closes a channel; closing a closed channel succeeds.
func (c *Central) CloseL2CAP(a blecentral.Addr, psm uint16) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	return p.CloseL2CAP(psm)
}

// WriteL2CAP writes data on an open channel.
func (c *Central) WriteL2CAP(ctx context.Context, a blecentral.Addr, psm uint16, data []byte) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	return p.WriteL2CAP(ctx, psm, data)
}

// WriteL2CAPAsync queues data on an open channel in call order.
func (c *Central) WriteL2CAPAsync(a blecentral.Addr, psm uint16, data []byte, done func(error)) error {
	p, err := c.lookup(a)
	if err != nil {
		return err
	}
	return p.SendL2CAP(psm, data, done)
}

// ReceiveL2CAP returns the inbound data stream of psm, replacing any
// earlier receiver.
func (c *Central) ReceiveL2CAP(a blecentral.Addr, psm uint16) (*stream.Stream[[]byte], error) {
	p, err := c.lookup(a)
	if err != nil {
		return nil, err
	}
	return p.ReceiveL2CAP(psm), nil
}

func wait(ctx context.Context, ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
