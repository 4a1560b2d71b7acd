//go:build linux

package l2cap

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/rigado/blecentral"
)

const (
	solBluetooth = 274
	btSecurity   = 4

	readTimeout    = 1000
	unixPollErrors = int16(unix.POLLHUP | unix.POLLNVAL | unix.POLLERR)
	unixPollDataIn = int16(unix.POLLIN)
)

// Socket is a connected SOCK_SEQPACKET L2CAP channel. Each Read returns one
// SDU; a Read that times out returns 0 bytes and no error.
type Socket struct {
	fd   int
	rmu  sync.Mutex
	wmu  sync.Mutex
	cmu  sync.Mutex
	done chan struct{}
}

// Dial connects to psm on the remote device a.
func Dial(a blecentral.Addr, typ AddrType, psm uint16, secure bool) (*Socket, error) {
	remote, err := bdaddr(a)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, errors.Wrap(err, "can't create l2cap socket")
	}

	if err := unix.Bind(fd, &unix.SockaddrL2{AddrType: uint8(AddrPublic)}); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't bind l2cap socket")
	}

	// struct bt_security { uint8 level; uint8 key_size; }
	sec := string([]byte{securityLevel(secure), 0})
	if err := unix.SetsockoptString(fd, solBluetooth, btSecurity, sec); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "can't set l2cap security")
	}

	sa := &unix.SockaddrL2{PSM: psm, Addr: remote, AddrType: uint8(typ)}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "can't connect l2cap psm %d", psm)
	}

	return &Socket{fd: fd, done: make(chan struct{})}, nil
}

func (s *Socket) Read(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}

	s.rmu.Lock()
	defer s.rmu.Unlock()
	pfds := []unix.PollFd{{Fd: int32(s.fd), Events: unixPollDataIn}}
	unix.Poll(pfds, readTimeout)
	evts := pfds[0].Revents

	var n int
	var err error
	switch {
	case evts&unixPollErrors != 0:
		return 0, io.EOF

	case evts&unixPollDataIn != 0:
		n, err = unix.Read(s.fd, p)

	default:
		// read timeout
		return 0, nil
	}

	if !s.isOpen() {
		return 0, io.EOF
	}
	if err == nil && n == 0 {
		return 0, io.EOF
	}
	return n, errors.Wrap(err, "can't read l2cap socket")
}

func (s *Socket) Write(p []byte) (int, error) {
	if !s.isOpen() {
		return 0, io.EOF
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := unix.Write(s.fd, p)
	return n, errors.Wrap(err, "can't write l2cap socket")
}

func (s *Socket) Close() error {
	s.cmu.Lock()
	defer s.cmu.Unlock()

	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
		s.rmu.Lock()
		err := unix.Close(s.fd)
		s.rmu.Unlock()
		return errors.Wrap(err, "can't close l2cap socket")
	}
}

func (s *Socket) isOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}
