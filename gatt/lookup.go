package gatt

import (
	"github.com/rigado/blecentral"
)

// find returns the first characteristic with uuid u whose properties
// satisfy one of prefs, tried in order, then any characteristic with u.
func find(s *blecentral.Service, u blecentral.UUID, prefs ...blecentral.Property) *blecentral.Characteristic {
	if s == nil {
		return nil
	}
	for _, p := range prefs {
		for _, c := range s.Characteristics {
			if c.UUID == u && c.Properties&p != 0 {
				return c
			}
		}
	}
	for _, c := range s.Characteristics {
		if c.UUID == u {
			return c
		}
	}
	return nil
}

// FindNotify picks the characteristic for a subscription: notify first,
// then indicate, then any match.
func FindNotify(s *blecentral.Service, u blecentral.UUID) *blecentral.Characteristic {
	return find(s, u, blecentral.CharNotify, blecentral.CharIndicate)
}

// FindReadable prefers a characteristic with the read property.
func FindReadable(s *blecentral.Service, u blecentral.UUID) *blecentral.Characteristic {
	return find(s, u, blecentral.CharRead)
}

// FindWritable prefers a characteristic supporting wt.
func FindWritable(s *blecentral.Service, u blecentral.UUID, wt blecentral.WriteType) *blecentral.Characteristic {
	if wt == blecentral.WriteWithoutResponse {
		return find(s, u, blecentral.CharWriteNR)
	}
	return find(s, u, blecentral.CharWrite)
}

// Resolve looks up the service and characteristic of t in p using pick.
func Resolve(p *blecentral.Profile, t Target, pick func(*blecentral.Service, blecentral.UUID) *blecentral.Characteristic) (*blecentral.Characteristic, error) {
	s := p.FindService(t.Service)
	if s == nil {
		return nil, blecentral.NotFoundf("service %v", t.Service)
	}
	c := pick(s, t.Characteristic)
	if c == nil {
		return nil, blecentral.NotFoundf("characteristic %v in service %v", t.Characteristic, t.Service)
	}
	return c, nil
}
