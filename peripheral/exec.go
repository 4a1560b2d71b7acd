package peripheral

import (
	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/gatt"
	"github.com/rigado/blecentral/notify"
)

// execute sends one command to the live session.
func (p *Peripheral) execute(c gatt.Command) (bool, error) {
	return c.Accept(executor{p})
}

type executor struct {
	p *Peripheral
}

func (e executor) session() (blecentral.Session, *blecentral.Profile, error) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.session == nil || e.p.state != Connected {
		return nil, nil, blecentral.NotConnectedf("BluetoothGatt is null")
	}
	return e.p.session, e.p.profile, nil
}

func (e executor) Read(c *gatt.Read) (bool, error) {
	s, prof, err := e.session()
	if err != nil {
		return false, err
	}
	ch, err := gatt.Resolve(prof, c.Target, gatt.FindReadable)
	if err != nil {
		return false, err
	}
	e.p.Debugf("read %v", ch.UUID)
	if err := s.ReadCharacteristic(ch); err != nil {
		return false, errors.Wrap(err, "Read failed")
	}
	return true, nil
}

func (e executor) Write(c *gatt.Write) (bool, error) {
	s, prof, err := e.session()
	if err != nil {
		return false, err
	}
	ch, err := gatt.Resolve(prof, c.Target, func(svc *blecentral.Service, u blecentral.UUID) *blecentral.Characteristic {
		return gatt.FindWritable(svc, u, blecentral.WriteWithResponse)
	})
	if err != nil {
		return false, err
	}
	e.p.Debugf("write %v (%d bytes)", ch.UUID, len(c.Data))
	if err := s.WriteCharacteristic(ch, c.Data, blecentral.WriteWithResponse); err != nil {
		return false, errors.Wrap(err, "Write failed")
	}
	return true, nil
}

// WriteNoResponse never reports a native failure; the platform gives no
// acknowledgement to check against.
func (e executor) WriteNoResponse(c *gatt.WriteNoResponse) (bool, error) {
	s, prof, err := e.session()
	if err != nil {
		return false, err
	}
	ch, err := gatt.Resolve(prof, c.Target, func(svc *blecentral.Service, u blecentral.UUID) *blecentral.Characteristic {
		return gatt.FindWritable(svc, u, blecentral.WriteWithoutResponse)
	})
	if err != nil {
		return false, err
	}
	if err := s.WriteCharacteristic(ch, c.Data, blecentral.WriteWithoutResponse); err != nil {
		e.p.Warnf("write without response %v: %v", ch.UUID, err)
	}
	c.Resolve(nil)
	return false, nil
}

func (e executor) ReadRSSI(c *gatt.ReadRSSI) (bool, error) {
	s, _, err := e.session()
	if err != nil {
		return false, err
	}
	if !s.Capabilities().Has(blecentral.CapReadRSSI) {
		return false, blecentral.Unsupportedf("read RSSI")
	}
	if err := s.ReadRSSI(); err != nil {
		return false, errors.Wrap(err, "Read RSSI failed")
	}
	return true, nil
}

func (e executor) RegisterNotify(c *gatt.RegisterNotify) (bool, error) {
	s, prof, err := e.session()
	if err != nil {
		return false, err
	}
	ch, err := gatt.Resolve(prof, c.Target, gatt.FindNotify)
	if err != nil {
		return false, err
	}

	var value []byte
	switch {
	case ch.Properties.Has(blecentral.CharNotify):
		value = blecentral.EnableNotificationValue
	case ch.Properties.Has(blecentral.CharIndicate):
		value = blecentral.EnableIndicationValue
	default:
		return false, errors.Errorf("Characteristic %v does not have NOTIFY or INDICATE property set", c.Characteristic)
	}

	key := notify.KeyOf(ch)
	e.p.notifs.Add(key, c.Events, c.EmitAck)

	fail := func(err error) (bool, error) {
		e.p.notifs.Fail(key, err)
		return false, err
	}
	if err := s.SetNotify(ch, true); err != nil {
		return fail(errors.Wrapf(err, "Failed to register notification for %v", c.Characteristic))
	}
	if ch.Descriptor(blecentral.ClientCharacteristicConfigUUID) == nil {
		return fail(errors.Errorf("Set notification failed for %v", c.Characteristic))
	}
	if err := s.WriteDescriptor(ch, blecentral.ClientCharacteristicConfigUUID, value); err != nil {
		return fail(errors.Wrapf(err, "Failed to set client characteristic notification for %v", c.Characteristic))
	}
	e.p.Debugf("subscribing to %v", key)
	return true, nil
}

// DeregisterNotify drops the subscription before touching the radio, so a
// native failure only downgrades the result to a warning.
func (e executor) DeregisterNotify(c *gatt.DeregisterNotify) (bool, error) {
	s, prof, err := e.session()
	if err != nil {
		return false, err
	}
	ch, err := gatt.Resolve(prof, c.Target, gatt.FindNotify)
	if err != nil {
		return false, err
	}

	key := notify.KeyOf(ch)
	e.p.notifs.Remove(key)

	if err := s.SetNotify(ch, false); err != nil {
		w := &blecentral.WarningError{Err: errors.Wrapf(err, "Failed to stop notification for %v", c.Characteristic)}
		e.p.Warnf("%v", w)
		c.Resolve(w)
		return false, nil
	}
	if ch.Descriptor(blecentral.ClientCharacteristicConfigUUID) == nil {
		c.Resolve(nil)
		return false, nil
	}
	if err := s.WriteDescriptor(ch, blecentral.ClientCharacteristicConfigUUID, blecentral.DisableNotificationValue); err != nil {
		w := &blecentral.WarningError{Err: errors.Wrapf(err, "Failed to stop notification for %v", c.Characteristic)}
		e.p.Warnf("%v", w)
		c.Resolve(w)
		return false, nil
	}
	return true, nil
}
