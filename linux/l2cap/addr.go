// Package l2cap opens LE credit based L2CAP channels through the kernel's
// Bluetooth socket layer.
package l2cap

import (
	"io"

	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
)

// AddrType is the LE address type of the remote device.
type AddrType uint8

const (
	AddrPublic AddrType = 1 // BDADDR_LE_PUBLIC
	AddrRandom AddrType = 2 // BDADDR_LE_RANDOM
)

// Security levels for the BT_SECURITY socket option.
const (
	securityLow    = 1
	securityMedium = 2
)

func securityLevel(secure bool) uint8 {
	if secure {
		return securityMedium
	}
	return securityLow
}

func bdaddr(a blecentral.Addr) ([6]byte, error) {
	var out [6]byte
	b := a.Bytes()
	if len(b) != 6 {
		return out, errors.Errorf("l2cap needs a MAC address, got %q", a)
	}
	copy(out[:], b)
	return out, nil
}

// Dialer binds Dial to one remote address type.
type Dialer struct {
	Type AddrType
}

// Dial connects to psm on a. It matches the channel opener the tinygo
// backend accepts.
func (d Dialer) Dial(a blecentral.Addr, psm uint16, secure bool) (io.ReadWriteCloser, error) {
	s, err := Dial(a, d.Type, psm, secure)
	if err != nil {
		return nil, err
	}
	return s, nil
}
