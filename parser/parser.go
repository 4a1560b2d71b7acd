// Package parser decodes raw advertising payloads.
package parser

import (
	"github.com/pkg/errors"

	"github.com/rigado/blecentral"
)

var EmptyOrNilPdu = errors.New("nil/empty pdu")

// https://www.bluetooth.org/en-us/specification/assigned-numbers/generic-access-profile
var types = struct {
	flags       byte
	uuid16inc   byte
	uuid16comp  byte
	uuid32inc   byte
	uuid32comp  byte
	uuid128inc  byte
	uuid128comp byte
	sol16       byte
	sol32       byte
	sol128      byte
	svc16       byte
	svc32       byte
	svc128      byte
	nameshort   byte
	namecomp    byte
	txpwr       byte
	mfgdata     byte
}{
	flags:       0x01,
	uuid16inc:   0x02,
	uuid16comp:  0x03,
	uuid32inc:   0x04,
	uuid32comp:  0x05,
	uuid128inc:  0x06,
	uuid128comp: 0x07,
	sol16:       0x14,
	sol32:       0x1f,
	sol128:      0x15,
	svc16:       0x16,
	svc32:       0x20,
	svc128:      0x21,
	nameshort:   0x08,
	namecomp:    0x09,
	txpwr:       0x0a,
	mfgdata:     0xff,
}

var keys = blecentral.AdvertisementMapKeys

type pduRecord struct {
	arrayElementSz int
	minSz          int
	svcDataUUIDSz  int
	key            string
}

var pduDecodeMap = map[byte]pduRecord{
	types.uuid16inc:   {2, 2, 0, keys.Services},
	types.uuid16comp:  {2, 2, 0, keys.Services},
	types.uuid32inc:   {4, 4, 0, keys.Services},
	types.uuid32comp:  {4, 4, 0, keys.Services},
	types.uuid128inc:  {16, 16, 0, keys.Services},
	types.uuid128comp: {16, 16, 0, keys.Services},
	types.sol16:       {2, 2, 0, keys.Solicited},
	types.sol32:       {4, 4, 0, keys.Solicited},
	types.sol128:      {16, 16, 0, keys.Solicited},
	types.svc16:       {0, 2, 2, keys.ServiceData},
	types.svc32:       {0, 4, 4, keys.ServiceData},
	types.svc128:      {0, 16, 16, keys.ServiceData},
	types.namecomp:    {0, 1, 0, keys.Name},
	types.nameshort:   {0, 1, 0, keys.Name},
	types.txpwr:       {0, 1, 0, keys.TxPower},
	types.mfgdata:     {0, 1, 0, keys.MFG},
	types.flags:       {0, 1, 0, keys.Flags},
}

func getArray(size int, bytes []byte) ([]blecentral.UUID, error) {
	//valid size?
	if size <= 0 {
		return nil, errors.New("invalid size")
	}

	//bytes empty/nil?
	if len(bytes) == 0 {
		return nil, errors.New("nil/empty bytes")
	}

	//any remainder?
	count := len(bytes) / size
	rem := len(bytes) % size
	if rem != 0 || count == 0 {
		return nil, errors.New("incorrect size")
	}

	arr := make([]blecentral.UUID, 0, count)
	for j := 0; j < len(bytes); j += size {
		u, err := blecentral.FromBytesLE(bytes[j:(j + size)])
		if err != nil {
			return nil, err
		}
		arr = append(arr, u)
	}

	return arr, nil
}

// Decode walks the length/type/value records of pdu. A malformed record
// stops decoding; the fields decoded so far are returned with the error.
func Decode(pdu []byte) (*blecentral.Advertisement, error) {
	if len(pdu) == 0 {
		return nil, EmptyOrNilPdu
	}

	a := &blecentral.Advertisement{}
	for i := 0; (i + 1) < len(pdu); {
		//length @ offset 0
		//type @ offset 1
		//data @ 1 - (length-1)
		length := int(pdu[i])
		typ := pdu[i+1]

		// zero length marks the end of significant data
		if length < 1 {
			break
		}

		//do we have all the bytes for the payload?
		if (i + length) >= len(pdu) {
			return a, errors.Errorf("buffer overflow: want %v, have %v, idx %v", i+length, len(pdu), i)
		}

		start := i + 2
		end := start + length - 1
		bytes := make([]byte, len(pdu[start:end]))
		copy(bytes, pdu[start:end])

		dec, ok := pduDecodeMap[typ]
		if ok && len(bytes) != 0 {
			if dec.minSz > len(bytes) {
				return a, errors.Errorf("adv type %v: min length %v, have %v, idx %v", typ, dec.minSz, len(bytes), i)
			}

			switch {
			case dec.arrayElementSz > 0:
				arr, err := getArray(dec.arrayElementSz, bytes)
				if err != nil {
					return a, errors.Wrapf(err, "adv type %v, idx %v", typ, i)
				}
				if dec.key == keys.Solicited {
					a.Solicited = append(a.Solicited, arr...)
				} else {
					a.Services = append(a.Services, arr...)
				}

			case dec.svcDataUUIDSz > 0:
				su, err := blecentral.FromBytesLE(bytes[:dec.svcDataUUIDSz])
				if err != nil {
					return a, errors.Wrapf(err, "adv type %v, idx %v", typ, i)
				}
				if a.ServiceData == nil {
					a.ServiceData = make(map[blecentral.UUID][]byte)
				}
				a.ServiceData[su] = append(a.ServiceData[su], bytes[dec.svcDataUUIDSz:]...)

			default:
				decodeScalar(a, typ, bytes)
			}
		}

		i += length + 1
	}

	return a, nil
}

func decodeScalar(a *blecentral.Advertisement, typ byte, data []byte) {
	switch typ {
	case types.flags:
		a.Flags = data[0]
	case types.namecomp:
		a.LocalName = string(data)
	case types.nameshort:
		// a complete name wins over a shortened one
		if a.LocalName == "" {
			a.LocalName = string(data)
		}
	case types.txpwr:
		v := int(int8(data[0]))
		a.TxPower = &v
	case types.mfgdata:
		if a.ManufacturerData == nil {
			a.ManufacturerData = data
			return
		}
		//mfg data contains the company id again in the scan response
		//strip that out
		if len(data) > 2 {
			a.ManufacturerData = append(a.ManufacturerData, data[2:]...)
		}
	}
}

// Map returns a in map form keyed by blecentral.AdvertisementMapKeys.
// Absent fields are left out.
func Map(a *blecentral.Advertisement) map[string]interface{} {
	m := make(map[string]interface{})
	if a == nil {
		return m
	}
	if a.Flags != 0 {
		m[keys.Flags] = a.Flags
	}
	if a.LocalName != "" {
		m[keys.Name] = a.LocalName
	}
	if len(a.Services) > 0 {
		m[keys.Services] = a.Services
	}
	if len(a.Solicited) > 0 {
		m[keys.Solicited] = a.Solicited
	}
	if len(a.ServiceData) > 0 {
		sd := make(map[string][]byte, len(a.ServiceData))
		for u, d := range a.ServiceData {
			sd[u.String()] = d
		}
		m[keys.ServiceData] = sd
	}
	if a.ManufacturerData != nil {
		m[keys.MFG] = a.ManufacturerData
	}
	if a.TxPower != nil {
		m[keys.TxPower] = *a.TxPower
	}
	return m
}

// Advertises reports whether the payload lists any of services, either as
// a service UUID or as a service data key. An empty filter matches
// everything; an undecodable payload matches nothing.
func Advertises(pdu []byte, services []blecentral.UUID) bool {
	if len(services) == 0 {
		return true
	}
	a, err := Decode(pdu)
	if a == nil {
		return false
	}
	if err != nil && len(a.Services) == 0 && len(a.ServiceData) == 0 {
		return false
	}
	for _, u := range services {
		if blecentral.Contains(a.Services, u) {
			return true
		}
		if _, ok := a.ServiceData[u]; ok {
			return true
		}
	}
	return false
}
