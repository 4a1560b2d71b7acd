//go:build !linux

package l2cap

import (
	"github.com/rigado/blecentral"
)

// Socket is unavailable outside Linux.
type Socket struct{}

func Dial(a blecentral.Addr, typ AddrType, psm uint16, secure bool) (*Socket, error) {
	return nil, blecentral.Unsupportedf("l2cap sockets on this platform")
}

func (s *Socket) Read(p []byte) (int, error)  { return 0, blecentral.ErrUnsupported }
func (s *Socket) Write(p []byte) (int, error) { return 0, blecentral.ErrUnsupported }
func (s *Socket) Close() error                { return nil }
