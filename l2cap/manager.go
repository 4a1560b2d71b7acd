// Package l2cap manages the connection oriented channels of one peripheral.
//
// Channel I/O runs beside the GATT command queue; only the link lifecycle
// is shared. Every open channel has a read loop and a writer goroutine.
package l2cap

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/stream"
)

const (
	DefaultReadSize = 512
	txChannelSize   = 4
)

// Dialer opens a channel socket on psm.
type Dialer func(psm uint16, secure bool) (io.ReadWriteCloser, error)

// Status is reported on the stream returned by Open.
type Status int

const (
	Connected Status = iota
)

func (s Status) String() string {
	if s == Connected {
		return "connected"
	}
	return "unknown"
}

type pkt struct {
	data []byte
	done chan error
}

// conn is one open socket and its goroutines.
type conn struct {
	rwc    io.ReadWriteCloser
	txCh   chan *pkt
	done   chan struct{}
	once   sync.Once
	status *stream.Stream[Status]
}

func (c *conn) shutdown() bool {
	closed := false
	c.once.Do(func() {
		close(c.done)
		closed = true
	})
	return closed
}

// channel is the per psm context, created on first reference.
type channel struct {
	psm      uint16
	secure   bool
	conn     *conn
	receiver *stream.Stream[[]byte]
}

// Manager holds the channels of one peripheral.
type Manager struct {
	sync.Mutex
	m        map[uint16]*channel
	dial     Dialer
	readSize int

	// ErrorHandler receives failures with no caller waiting on them.
	ErrorHandler func(error)
	blecentral.Logger
}

func New(dial Dialer, readSize int, l blecentral.Logger) *Manager {
	if l == nil {
		l = blecentral.GetLogger()
	}
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	return &Manager{
		m:        make(map[uint16]*channel),
		dial:     dial,
		readSize: readSize,
		Logger:   l,
	}
}

// SetDialer replaces the dialer, typically when a new session starts.
func (m *Manager) SetDialer(d Dialer) {
	m.Lock()
	m.dial = d
	m.Unlock()
}

func (m *Manager) channelLocked(psm uint16) *channel {
	ch, ok := m.m[psm]
	if !ok {
		ch = &channel{psm: psm}
		m.m[psm] = ch
	}
	return ch
}

// Open tears down any channel on psm and connects a new one. The returned
// stream reports Connected and stays open until the channel goes away.
func (m *Manager) Open(psm uint16, secure bool) (*stream.Stream[Status], error) {
	m.Lock()
	dial := m.dial
	ch := m.channelLocked(psm)
	old := ch.conn
	ch.conn = nil
	m.Unlock()

	if old != nil {
		m.teardown(old, errors.Wrap(blecentral.ErrDisconnected, "L2CAP disconnected"))
	}

	if dial == nil {
		return nil, blecentral.Unsupportedf("L2CAP not supported by platform")
	}

	rwc, err := dial(psm, secure)
	if err != nil {
		m.Errorf("l2cap %d: connect failed: %v", psm, err)
		return nil, errors.Wrap(err, "Failed to open L2Cap connection")
	}

	c := &conn{
		rwc:    rwc,
		txCh:   make(chan *pkt, txChannelSize),
		done:   make(chan struct{}),
		status: stream.New[Status](),
	}

	m.Lock()
	if m.m[psm] != ch {
		// CloseAll ran while dialing
		m.Unlock()
		rwc.Close()
		c.status.End(nil)
		return nil, blecentral.Disconnectedf("L2CAP disconnected")
	}
	if ch.conn != nil {
		// lost a race with a concurrent Open on the same psm
		m.Unlock()
		rwc.Close()
		c.status.End(nil)
		return nil, errors.Errorf("L2CAP PSM %d open in progress", psm)
	}
	ch.conn = c
	ch.secure = secure
	m.Unlock()

	go m.writeLoop(psm, c)
	go m.readLoop(psm, c)

	c.status.Send(Connected)
	m.Infof("l2cap %d: connected, secure=%v", psm, secure)
	return c.status, nil
}

// Receive registers the sink for inbound data on psm, replacing any
// previous one. Data read while no sink is set is dropped.
func (m *Manager) Receive(psm uint16) *stream.Stream[[]byte] {
	s := stream.New[[]byte]()

	m.Lock()
	ch := m.channelLocked(psm)
	old := ch.receiver
	ch.receiver = s
	m.Unlock()

	if old != nil {
		old.End(nil)
	}
	return s
}

// Write sends data on psm and waits for the socket write to finish.
func (m *Manager) Write(ctx context.Context, psm uint16, data []byte) error {
	c, p, err := m.queue(ctx, psm, data)
	if err != nil {
		return err
	}
	return m.await(ctx, c, p)
}

// Send queues data on psm in call order and returns once it is queued.
// done receives the outcome of the socket write.
func (m *Manager) Send(psm uint16, data []byte, done func(error)) error {
	ctx := context.Background()
	c, p, err := m.queue(ctx, psm, data)
	if err != nil {
		return err
	}
	go func() { done(m.await(ctx, c, p)) }()
	return nil
}

// queue hands data to the writer of psm, blocking while its queue is full.
func (m *Manager) queue(ctx context.Context, psm uint16, data []byte) (*conn, *pkt, error) {
	m.Lock()
	var c *conn
	if ch, ok := m.m[psm]; ok {
		c = ch.conn
	}
	m.Unlock()

	if c == nil {
		return nil, nil, blecentral.NotConnectedf("L2CAP PSM %d not connected.", psm)
	}

	p := &pkt{data: data, done: make(chan error, 1)}
	select {
	case c.txCh <- p:
		return c, p, nil
	case <-c.done:
		return nil, nil, blecentral.NotConnectedf("L2CAP PSM %d not connected.", psm)
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

func (m *Manager) await(ctx context.Context, c *conn, p *pkt) error {
	select {
	case err := <-p.done:
		return err
	case <-c.done:
		// the write may still have gone out; the channel is gone either way
		return errors.Wrap(blecentral.ErrDisconnected, "L2CAP write failed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports whether psm has an open channel.
func (m *Manager) IsConnected(psm uint16) bool {
	m.Lock()
	defer m.Unlock()
	ch, ok := m.m[psm]
	return ok && ch.conn != nil
}

// Close closes the channel on psm. Closing a closed channel is a no-op.
func (m *Manager) Close(psm uint16) error {
	reason := errors.Wrap(blecentral.ErrDisconnected, "L2CAP disconnected")

	m.Lock()
	ch, ok := m.m[psm]
	var c *conn
	var rcv *stream.Stream[[]byte]
	if ok {
		c = ch.conn
		rcv = ch.receiver
		ch.conn = nil
		ch.receiver = nil
	}
	m.Unlock()

	if c != nil {
		m.teardown(c, reason)
	}
	if rcv != nil {
		rcv.End(reason)
	}

	m.Lock()
	if ok && m.m[psm] == ch && ch.conn == nil && ch.receiver == nil {
		delete(m.m, psm)
	}
	m.Unlock()
	return nil
}

// Len returns the number of channels the manager tracks.
func (m *Manager) Len() int {
	m.Lock()
	defer m.Unlock()
	return len(m.m)
}

// CloseAll closes every channel and ends every receiver with reason.
func (m *Manager) CloseAll(reason error) int {
	m.Lock()
	old := m.m
	m.m = make(map[uint16]*channel)
	m.Unlock()

	n := 0
	for _, ch := range old {
		if ch.conn != nil {
			m.teardown(ch.conn, reason)
			n++
		}
		if ch.receiver != nil {
			ch.receiver.End(reason)
		}
	}
	return n
}

// drop tears down c if it is still the open channel on psm.
func (m *Manager) drop(psm uint16, c *conn, reason error) {
	m.Lock()
	if ch, ok := m.m[psm]; ok && ch.conn == c {
		ch.conn = nil
	}
	m.Unlock()

	if m.teardown(c, reason) && m.ErrorHandler != nil {
		m.ErrorHandler(errors.Wrapf(reason, "l2cap %d", psm))
	}
}

func (m *Manager) teardown(c *conn, reason error) bool {
	if !c.shutdown() {
		return false
	}
	if err := c.rwc.Close(); err != nil {
		m.Debugf("l2cap: close: %v", err)
	}
	c.status.End(reason)
	return true
}

func (m *Manager) receiver(psm uint16) *stream.Stream[[]byte] {
	m.Lock()
	defer m.Unlock()
	if ch, ok := m.m[psm]; ok {
		return ch.receiver
	}
	return nil
}

func (m *Manager) readLoop(psm uint16, c *conn) {
	buf := make([]byte, m.readSize)
	for {
		n, err := c.rwc.Read(buf)
		if n > 0 {
			if rcv := m.receiver(psm); rcv != nil {
				b := make([]byte, n)
				copy(b, buf[:n])
				rcv.Send(b)
			} else {
				m.Debugf("l2cap %d: no receiver, dropping %d bytes", psm, n)
			}
		}
		if err == nil {
			continue
		}

		select {
		case <-c.done:
			// closed locally
			return
		default:
		}

		if err == io.EOF {
			m.Infof("l2cap %d: remote closed", psm)
			m.drop(psm, c, errors.Wrap(blecentral.ErrDisconnected, "L2Cap channel disconnected"))
		} else {
			m.Errorf("l2cap %d: read: %v", psm, err)
			m.drop(psm, c, errors.Wrap(blecentral.ErrDisconnected, "L2Cap read pipe broken"))
		}
		return
	}
}

func (m *Manager) writeLoop(psm uint16, c *conn) {
	for {
		select {
		case <-c.done:
			return
		case p := <-c.txCh:
			_, err := c.rwc.Write(p.data)
			if err != nil {
				m.Errorf("l2cap %d: write: %v", psm, err)
				p.done <- errors.Wrap(err, "L2CAP write failed")
				m.drop(psm, c, errors.Wrap(blecentral.ErrDisconnected, "L2Cap write pipe broken"))
				return
			}
			m.Debugf("l2cap %d: wrote %d bytes", psm, len(p.data))
			p.done <- nil
		}
	}
}
