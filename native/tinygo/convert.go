package tinygo

import (
	"tinygo.org/x/bluetooth"

	"github.com/rigado/blecentral"
)

// Every characteristic is reported with these properties: the portable
// tinygo API does not expose the declared ones, and the stack rejects
// operations the peripheral does not allow.
const assumedProperties = blecentral.CharRead | blecentral.CharWrite | blecentral.CharWriteNR | blecentral.CharNotify

// statusLinkLoss is reported when the stack drops a connected link.
const statusLinkLoss = 0x08

func toBT(u blecentral.UUID) (bluetooth.UUID, error) {
	return bluetooth.ParseUUID(u.Long())
}

func fromBT(u bluetooth.UUID) (blecentral.UUID, error) {
	return blecentral.Parse(u.String())
}

func toBTList(us []blecentral.UUID) ([]bluetooth.UUID, error) {
	var out []bluetooth.UUID
	for _, u := range us {
		b, err := toBT(u)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

type charKey struct {
	service  blecentral.UUID
	char     blecentral.UUID
	instance int
}

func keyOf(c *blecentral.Characteristic) charKey {
	return charKey{c.Service, c.UUID, c.InstanceID}
}

// discovered is one service as returned by the stack.
type discovered struct {
	uuid  bluetooth.UUID
	chars []bluetooth.UUID
}

// buildProfile converts discovery results. Each characteristic gets a
// client configuration descriptor since the stack writes it on our behalf.
func buildProfile(svcs []discovered) (blecentral.Profile, error) {
	var p blecentral.Profile
	for _, ds := range svcs {
		su, err := fromBT(ds.uuid)
		if err != nil {
			return p, err
		}
		s := blecentral.NewService(su)
		for _, dc := range ds.chars {
			cu, err := fromBT(dc)
			if err != nil {
				return p, err
			}
			c := s.NewCharacteristic(cu, assumedProperties)
			c.Descriptors = []*blecentral.Descriptor{{UUID: blecentral.ClientCharacteristicConfigUUID}}
		}
		p.Services = append(p.Services, s)
	}
	return p, nil
}

// servicesIn returns the filter services r advertises.
func servicesIn(r bluetooth.ScanResult, filter []bluetooth.UUID) []blecentral.UUID {
	var out []blecentral.UUID
	for _, f := range filter {
		if !r.HasServiceUUID(f) {
			continue
		}
		if u, err := fromBT(f); err == nil {
			out = append(out, u)
		}
	}
	return out
}
