// Package bridge turns central results and streams into the messages a
// host application receives, keyed by the callback id the host supplied.
package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/central"
	"github.com/rigado/blecentral/notify"
	"github.com/rigado/blecentral/peripheral"
	"github.com/rigado/blecentral/stream"
)

type Status string

const (
	StatusOK       Status = "ok"
	StatusError    Status = "error"
	StatusNoResult Status = "noResult"
)

// Message is one result for a host callback. KeepCallback marks a result
// that will be followed by more on the same callback.
type Message struct {
	CallbackID   string              `json:"callbackId"`
	Status       Status              `json:"status"`
	KeepCallback bool                `json:"keepCallback"`
	Payload      jsoniter.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// Registered is the payload of a subscription ack.
const Registered = "registered"

// Adapter exposes a central to a host. Every call returns immediately; its
// outcome arrives as one or more Messages on the sink. Requests for one
// peripheral are queued in call order before the call returns, and the
// sink sees messages in the order they were produced, from one goroutine.
type Adapter struct {
	c       *central.Central
	sink    func(Message)
	out     *stream.Stream[Message]
	events  *EventManager
	timeout time.Duration

	blecentral.Logger
}

// DefaultTimeout bounds one request when the host gives no deadline.
const DefaultTimeout = 30 * time.Second

// NewAdapter returns an adapter sending messages to sink. events may be
// nil when the host does not use the event listener.
func NewAdapter(c *central.Central, sink func(Message), events *EventManager) *Adapter {
	if events == nil {
		events = NewEventManager()
	}
	b := &Adapter{
		c:       c,
		sink:    sink,
		out:     stream.New[Message](),
		events:  events,
		timeout: DefaultTimeout,
		Logger:  blecentral.GetLogger().ChildLogger(map[string]interface{}{"component": "bridge"}),
	}
	go b.deliver()
	return b
}

func (b *Adapter) deliver() {
	for m := range b.out.Events() {
		b.sink(m)
	}
}

// Close stops delivery to the sink once every produced message is sent.
func (b *Adapter) Close() {
	b.out.End(nil)
}

// Events returns the event manager fed by the adapter.
func (b *Adapter) Events() *EventManager { return b.events }

// SetTimeout bounds each request; zero disables the bound.
func (b *Adapter) SetTimeout(d time.Duration) { b.timeout = d }

// reply answers a queued request exactly once, from the request callback
// or from the timeout, whichever comes first.
type reply struct {
	mu    sync.Mutex
	sent  bool
	timer *time.Timer
}

func (b *Adapter) expect(cb string) *reply {
	r := &reply{}
	if b.timeout > 0 {
		r.mu.Lock()
		r.timer = time.AfterFunc(b.timeout, func() {
			if r.claim() {
				b.fail(cb, context.DeadlineExceeded)
			}
		})
		r.mu.Unlock()
	}
	return r
}

// claim reports whether the caller is the one to answer.
func (r *reply) claim() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent {
		return false
	}
	r.sent = true
	if r.timer != nil {
		r.timer.Stop()
	}
	return true
}

// queued answers cb with err when the request could not be queued.
func (b *Adapter) queued(cb string, r *reply, err error) {
	if err != nil && r.claim() {
		b.fail(cb, err)
	}
}

func (b *Adapter) send(cb string, st Status, keep bool, payload interface{}) {
	m := Message{CallbackID: cb, Status: st, KeepCallback: keep}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			b.Errorf("callback %s: %v", cb, errors.Wrap(err, "encode payload"))
			m.Status = StatusError
			raw, _ = json.Marshal(err.Error())
		}
		m.Payload = raw
	}
	if !b.out.Send(m) {
		b.Debugf("callback %s: adapter closed, dropping %s", cb, m.Status)
	}
}

func (b *Adapter) ok(cb string, payload interface{})   { b.send(cb, StatusOK, false, payload) }
func (b *Adapter) keep(cb string, payload interface{}) { b.send(cb, StatusOK, true, payload) }

func (b *Adapter) fail(cb string, err error) {
	b.send(cb, StatusError, false, err.Error())
}

// message strips the sentinel suffix so the host sees the reported reason.
func message(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{blecentral.ErrDisconnected, blecentral.ErrNotFound, blecentral.ErrNotConnected} {
		if errors.Is(err, sentinel) {
			return strings.TrimSuffix(msg, ": "+sentinel.Error())
		}
	}
	return msg
}

func (b *Adapter) done(cb string, err error) {
	if err != nil {
		b.fail(cb, err)
		return
	}
	b.ok(cb, nil)
}

// info returns the best known description of id for error payloads.
func (b *Adapter) info(id blecentral.Addr) peripheral.Info {
	i, err := b.c.Peripheral(id)
	if err != nil {
		return peripheral.Info{Addr: id}
	}
	return i
}

func parseTarget(svc, char string) (blecentral.UUID, blecentral.UUID, error) {
	s, err := blecentral.Parse(svc)
	if err != nil {
		return s, s, err
	}
	c, err := blecentral.Parse(char)
	return s, c, err
}

// ParsePriority maps the host priority names.
func ParsePriority(s string) (blecentral.ConnectionPriority, error) {
	switch s {
	case "low":
		return blecentral.PriorityLow, nil
	case "balanced":
		return blecentral.PriorityBalanced, nil
	case "high":
		return blecentral.PriorityHigh, nil
	}
	return 0, errors.Errorf("Invalid connection priority %q", s)
}

// Scan streams sightings; seconds <= 0 scans until StopScan.
func (b *Adapter) Scan(cb string, services []string, seconds int, opts blecentral.ScanOptions) {
	uuids, err := blecentral.ParseList(services)
	if err != nil {
		b.fail(cb, err)
		return
	}
	s, err := b.c.Scan(uuids, time.Duration(seconds)*time.Second, opts)
	if err != nil {
		b.fail(cb, err)
		return
	}
	go func() {
		for ev := range s.Events() {
			switch ev.Kind {
			case central.ScanDiscovered:
				b.keep(cb, describe(ev.Info, false))
			case central.ScanEnd:
				b.ok(cb, central.ScanEndSuccess)
			}
		}
		if err := s.Err(); err != nil {
			b.fail(cb, err)
		}
	}()
}

func (b *Adapter) StopScan(cb string) {
	b.done(cb, b.c.StopScan())
}

// List reports every scanned peripheral.
func (b *Adapter) List(cb string) {
	out := []peripheralJSON{}
	for _, i := range b.c.List() {
		out = append(out, describe(i, false))
	}
	b.ok(cb, out)
}

func (b *Adapter) BondedDevices(cb string) {
	ds, err := b.c.BondedDevices()
	if err != nil {
		b.fail(cb, err)
		return
	}
	b.ok(cb, describeDevices(ds))
}

// Connect reports the discovered peripheral, then a disconnect as an error.
func (b *Adapter) Connect(cb string, id string) {
	b.connect(cb, blecentral.NewAddr(id), false)
}

// AutoConnect keeps the callback across reconnects until Disconnect.
func (b *Adapter) AutoConnect(cb string, id string) {
	b.connect(cb, blecentral.NewAddr(id), true)
}

func (b *Adapter) connect(cb string, id blecentral.Addr, auto bool) {
	var s *stream.Stream[peripheral.ConnEvent]
	var err error
	if auto {
		s, err = b.c.AutoConnect(id)
	} else {
		s, err = b.c.Connect(id)
	}
	if err != nil {
		b.send(cb, StatusError, false, describeError(peripheral.Info{Addr: id}, err.Error()))
		return
	}
	b.send(cb, StatusNoResult, true, nil)

	go func() {
		for ev := range s.Events() {
			switch ev.Kind {
			case peripheral.EventConnected:
				b.events.Send(Event{Type: DeviceConnected, DeviceID: id.String()})
				b.keep(cb, describe(ev.Info, true))
			case peripheral.EventDisconnected:
				b.events.Send(Event{Type: DeviceDisconnected, DeviceID: id.String()})
				b.send(cb, StatusError, true, describeError(ev.Info, ev.Message))
			}
		}
		err := s.Err()
		if err == nil {
			// a requested disconnect does not answer the connect callback
			return
		}
		b.events.Send(Event{Type: DeviceDisconnected, DeviceID: id.String()})
		b.send(cb, StatusError, false, describeError(b.info(id), message(err)))
	}()
}

func (b *Adapter) Disconnect(cb string, id string) {
	err := b.c.Disconnect(blecentral.NewAddr(id))
	if err == nil {
		b.events.Send(Event{Type: DeviceDisconnected, DeviceID: id})
	}
	b.done(cb, err)
}

func (b *Adapter) QueueCleanup(cb string, id string) {
	b.done(cb, b.c.QueueCleanup(blecentral.NewAddr(id)))
}

func (b *Adapter) IsConnected(cb string, id string) {
	if !b.c.IsConnected(blecentral.NewAddr(id)) {
		b.fail(cb, errors.New("Not connected"))
		return
	}
	b.ok(cb, nil)
}

func (b *Adapter) Read(cb string, id, svc, char string) {
	s, c, err := parseTarget(svc, char)
	if err != nil {
		b.fail(cb, err)
		return
	}
	r := b.expect(cb)
	err = b.c.ReadAsync(blecentral.NewAddr(id), s, c, func(v []byte, err error) {
		if !r.claim() {
			return
		}
		if err != nil {
			b.fail(cb, err)
			return
		}
		b.events.Send(Event{Type: ReadResult, DeviceID: id, ServiceID: svc, CharacteristicID: char, Data: v})
		b.ok(cb, newArrayBuffer(v))
	})
	b.queued(cb, r, err)
}

func (b *Adapter) ReadRSSI(cb string, id string) {
	r := b.expect(cb)
	err := b.c.ReadRSSIAsync(blecentral.NewAddr(id), func(rssi int, err error) {
		if !r.claim() {
			return
		}
		if err != nil {
			b.fail(cb, err)
			return
		}
		b.ok(cb, rssi)
	})
	b.queued(cb, r, err)
}

func (b *Adapter) Write(cb string, id, svc, char string, data []byte) {
	b.write(cb, id, svc, char, data, blecentral.WriteWithResponse)
}

func (b *Adapter) WriteWithoutResponse(cb string, id, svc, char string, data []byte) {
	b.write(cb, id, svc, char, data, blecentral.WriteWithoutResponse)
}

func (b *Adapter) write(cb string, id, svc, char string, data []byte, wt blecentral.WriteType) {
	s, c, err := parseTarget(svc, char)
	if err != nil {
		b.fail(cb, err)
		return
	}
	r := b.expect(cb)
	done := func(err error) {
		if r.claim() {
			b.done(cb, err)
		}
	}
	a := blecentral.NewAddr(id)
	if wt == blecentral.WriteWithoutResponse {
		err = b.c.WriteWithoutResponseAsync(a, s, c, data, done)
	} else {
		err = b.c.WriteAsync(a, s, c, data, done)
	}
	b.queued(cb, r, err)
}

// StartNotification streams [data, sequence] pairs. emitAck nil uses the
// central default.
func (b *Adapter) StartNotification(cb string, id, svc, char string, emitAck *bool) {
	s, c, err := parseTarget(svc, char)
	if err != nil {
		b.fail(cb, err)
		return
	}
	ack := b.c.EmitSubscriptionAck()
	if emitAck != nil {
		ack = *emitAck
	}
	events, err := b.c.StartNotification(blecentral.NewAddr(id), s, c, ack)
	if err != nil {
		b.fail(cb, err)
		return
	}

	go func() {
		started := false
		for ev := range events.Events() {
			if !started {
				started = true
				b.events.Send(Event{Type: NotificationStarted, DeviceID: id, ServiceID: svc, CharacteristicID: char})
			}
			switch ev.Kind {
			case notify.Subscribed:
				b.keep(cb, Registered)
			case notify.Value:
				b.events.Send(Event{Type: NotificationResult, DeviceID: id, ServiceID: svc, CharacteristicID: char, Data: ev.Value})
				b.keep(cb, []interface{}{newArrayBuffer(ev.Value), ev.Seq})
			}
		}
		if err := events.Err(); err != nil {
			b.fail(cb, err)
		}
	}()
}

func (b *Adapter) StopNotification(cb string, id, svc, char string) {
	s, c, err := parseTarget(svc, char)
	if err != nil {
		b.fail(cb, err)
		return
	}
	r := b.expect(cb)
	err = b.c.StopNotificationAsync(blecentral.NewAddr(id), s, c, func(err error) {
		if !r.claim() {
			return
		}
		if err == nil || blecentral.IsWarning(err) {
			b.events.Send(Event{Type: NotificationStopped, DeviceID: id, ServiceID: svc, CharacteristicID: char})
		}
		b.done(cb, err)
	})
	b.queued(cb, r, err)
}

func (b *Adapter) RequestMtu(cb string, id string, mtu int) {
	r := b.expect(cb)
	err := b.c.RequestMTUAsync(blecentral.NewAddr(id), mtu, func(v int, err error) {
		if !r.claim() {
			return
		}
		if err != nil {
			b.fail(cb, err)
			return
		}
		b.ok(cb, v)
	})
	b.queued(cb, r, err)
}

func (b *Adapter) RequestConnectionPriority(cb string, id string, priority string) {
	p, err := ParsePriority(priority)
	if err != nil {
		b.fail(cb, err)
		return
	}
	b.done(cb, b.c.RequestConnectionPriority(blecentral.NewAddr(id), p))
}

// RefreshDeviceCache answers with the rediscovered peripheral. A negative
// timeout uses the central default.
func (b *Adapter) RefreshDeviceCache(cb string, id string, timeout time.Duration) {
	a := blecentral.NewAddr(id)
	r := b.expect(cb)
	err := b.c.RefreshDeviceCacheAsync(a, timeout, func(_ *blecentral.Profile, err error) {
		if !r.claim() {
			return
		}
		if err != nil {
			b.send(cb, StatusError, false, describeError(b.info(a), message(err)))
			return
		}
		b.ok(cb, describe(b.info(a), true))
	})
	if err != nil && r.claim() {
		b.send(cb, StatusError, false, describeError(b.info(a), message(err)))
	}
}

// OpenL2Cap answers "connected" and keeps the callback until the channel
// closes.
func (b *Adapter) OpenL2Cap(cb string, id string, psm uint16, secure bool) {
	s, err := b.c.OpenL2CAP(blecentral.NewAddr(id), psm, secure)
	if err != nil {
		b.fail(cb, err)
		return
	}
	go func() {
		for st := range s.Events() {
			b.keep(cb, st.String())
		}
		if err := s.Err(); err != nil {
			b.fail(cb, err)
		}
	}()
}

func (b *Adapter) CloseL2Cap(cb string, id string, psm uint16) {
	b.done(cb, b.c.CloseL2CAP(blecentral.NewAddr(id), psm))
}

func (b *Adapter) WriteL2Cap(cb string, id string, psm uint16, data []byte) {
	r := b.expect(cb)
	err := b.c.WriteL2CAPAsync(blecentral.NewAddr(id), psm, data, func(err error) {
		if r.claim() {
			b.done(cb, err)
		}
	})
	b.queued(cb, r, err)
}

// ReceiveDataL2Cap streams inbound chunks as array buffers.
func (b *Adapter) ReceiveDataL2Cap(cb string, id string, psm uint16) {
	s, err := b.c.ReceiveL2CAP(blecentral.NewAddr(id), psm)
	if err != nil {
		b.fail(cb, err)
		return
	}
	go func() {
		for chunk := range s.Events() {
			b.keep(cb, newArrayBuffer(chunk))
		}
		if err := s.Err(); err != nil {
			b.fail(cb, err)
		}
	}()
}

func (b *Adapter) IsEnabled(cb string) {
	if !b.c.IsEnabled() {
		b.fail(cb, errors.New(central.MsgBluetoothDisabled))
		return
	}
	b.ok(cb, nil)
}

func (b *Adapter) IsLocationEnabled(cb string) {
	on, err := b.c.IsLocationEnabled()
	switch {
	case err != nil:
		b.fail(cb, err)
	case !on:
		b.fail(cb, errors.New("Location services disabled."))
	default:
		b.ok(cb, nil)
	}
}

func (b *Adapter) Enable(cb string) {
	b.done(cb, b.c.Enable())
}

func (b *Adapter) ShowBluetoothSettings(cb string) {
	b.done(cb, b.c.ShowSettings())
}

func (b *Adapter) SetPin(cb string, pin string) {
	b.done(cb, b.c.SetPin(pin))
}

func (b *Adapter) StartStateNotifications(cb string) {
	b.forwardLabels(cb, b.c.StateNotifications())
}

func (b *Adapter) StopStateNotifications(cb string) {
	b.c.StopStateNotifications()
	b.ok(cb, nil)
}

func (b *Adapter) StartLocationStateNotifications(cb string) {
	s, err := b.c.LocationStateNotifications()
	if err != nil {
		b.fail(cb, err)
		return
	}
	b.forwardLabels(cb, s)
}

func (b *Adapter) StopLocationStateNotifications(cb string) {
	b.c.StopLocationStateNotifications()
	b.ok(cb, nil)
}

func (b *Adapter) forwardLabels(cb string, s *stream.Stream[string]) {
	go func() {
		for label := range s.Events() {
			b.keep(cb, label)
		}
	}()
}

// RestoredState answers with the snapshot the platform restored, or no
// result when there is none.
func (b *Adapter) RestoredState(cb string) {
	snap := b.c.RestoredState()
	if snap == nil {
		b.send(cb, StatusNoResult, false, nil)
		return
	}
	b.sink(Message{CallbackID: cb, Status: StatusOK, Payload: jsoniter.RawMessage(snap)})
}
