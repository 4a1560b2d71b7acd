package bluez

import (
	"strconv"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

// agent answers BlueZ pairing requests with a fixed PIN.
type agent struct {
	mu  sync.Mutex
	pin string
}

func (a *agent) get() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pin
}

func (a *agent) Release() *dbus.Error { return nil }

func (a *agent) RequestPinCode(device dbus.ObjectPath) (string, *dbus.Error) {
	return a.get(), nil
}

func (a *agent) RequestPasskey(device dbus.ObjectPath) (uint32, *dbus.Error) {
	n, err := strconv.ParseUint(a.get(), 10, 32)
	if err != nil {
		return 0, dbus.NewError("org.bluez.Error.Rejected", []interface{}{"pin is not numeric"})
	}
	return uint32(n), nil
}

func (a *agent) DisplayPasskey(device dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	return nil
}

func (a *agent) RequestConfirmation(device dbus.ObjectPath, passkey uint32) *dbus.Error {
	return nil
}

func (a *agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error { return nil }

func (a *agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error { return nil }

func (a *agent) Cancel() *dbus.Error { return nil }

// SetPin registers a default agent that supplies pin. Later calls only
// replace the PIN.
func (c *Client) SetPin(pin string) error {
	c.Lock()
	defer c.Unlock()

	if c.agent != nil {
		c.agent.mu.Lock()
		c.agent.pin = pin
		c.agent.mu.Unlock()
		return nil
	}

	ag := &agent{pin: pin}
	if err := c.conn.Export(ag, agentPath, agentIface); err != nil {
		return errors.Wrap(err, "export agent")
	}
	mgr := c.object("/org/bluez")
	if err := mgr.Call(agentManagerIface+".RegisterAgent", 0, agentPath, "KeyboardDisplay").Err; err != nil {
		c.conn.Export(nil, agentPath, agentIface)
		return errors.Wrap(err, "register agent")
	}
	if err := mgr.Call(agentManagerIface+".RequestDefaultAgent", 0, agentPath).Err; err != nil {
		c.Warnf("request default agent: %v", err)
	}
	c.agent = ag
	return nil
}
