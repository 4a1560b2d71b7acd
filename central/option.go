package central

import (
	"time"

	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
)

// SetLogger overrides the default logger.
func (c *Central) SetLogger(l blecentral.Logger) error {
	if l == nil {
		return errors.New("nil logger")
	}
	c.Logger = l
	return nil
}

// SetErrorHandler sets the handler for failures with no caller waiting.
func (c *Central) SetErrorHandler(handler func(error)) error {
	c.errorHandler = handler
	return nil
}

func (c *Central) SetGattCache(gc blecentral.GattCache) error {
	c.cache = gc
	return nil
}

func (c *Central) SetBondStore(s blecentral.BondStore) error {
	c.bonds = s
	return nil
}

func (c *Central) SetQuirks(q blecentral.QuirkPolicy) error {
	c.quirks = q
	return nil
}

func (c *Central) SetL2CAPReadSize(n int) error {
	if n <= 0 {
		return errors.Errorf("invalid l2cap read size %d", n)
	}
	c.readSize = n
	return nil
}

func (c *Central) SetEmitSubscriptionAck(emit bool) error {
	c.emitAck = emit
	return nil
}

func (c *Central) SetRefreshDelay(d time.Duration) error {
	if d < 0 {
		return errors.Errorf("invalid refresh delay %v", d)
	}
	c.refreshDelay = d
	return nil
}

var _ blecentral.CentralOption = (*Central)(nil)
