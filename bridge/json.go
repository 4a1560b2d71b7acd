package bridge

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/peripheral"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// arrayBuffer is how binary values cross to the host.
type arrayBuffer struct {
	CDVType string `json:"CDVType"`
	Data    []byte `json:"data"`
}

func newArrayBuffer(b []byte) *arrayBuffer {
	if b == nil {
		b = []byte{}
	}
	return &arrayBuffer{CDVType: "ArrayBuffer", Data: b}
}

type descriptorJSON struct {
	UUID        string   `json:"uuid"`
	Permissions []string `json:"permissions,omitempty"`
}

type characteristicJSON struct {
	Service        string           `json:"service"`
	Characteristic string           `json:"characteristic"`
	Properties     []string         `json:"properties"`
	Permissions    []string         `json:"permissions,omitempty"`
	Descriptors    []descriptorJSON `json:"descriptors,omitempty"`
}

type peripheralJSON struct {
	Name            string               `json:"name,omitempty"`
	ID              string               `json:"id"`
	Advertising     *arrayBuffer         `json:"advertising,omitempty"`
	RSSI            *int                 `json:"rssi,omitempty"`
	Services        []string             `json:"services,omitempty"`
	Characteristics []characteristicJSON `json:"characteristics,omitempty"`
}

type errorJSON struct {
	Name         string `json:"name,omitempty"`
	ID           string `json:"id"`
	ErrorMessage string `json:"errorMessage"`
}

type deviceJSON struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// describe renders a peripheral. withProfile adds the services and
// characteristics lists, empty when nothing has been discovered.
func describe(i peripheral.Info, withProfile bool) peripheralJSON {
	out := peripheralJSON{Name: i.Name, ID: i.Addr.String()}
	if i.Advertising != nil {
		out.Advertising = newArrayBuffer(i.Advertising)
	}
	if i.RSSI != peripheral.FakeRSSI {
		rssi := i.RSSI
		out.RSSI = &rssi
	}
	if !withProfile {
		return out
	}

	out.Services = []string{}
	out.Characteristics = []characteristicJSON{}
	if i.Profile == nil {
		return out
	}
	for _, s := range i.Profile.Services {
		out.Services = append(out.Services, s.UUID.String())
		for _, c := range s.Characteristics {
			cj := characteristicJSON{
				Service:        s.UUID.String(),
				Characteristic: c.UUID.String(),
				Properties:     c.Properties.Strings(),
			}
			if c.Permissions > 0 {
				cj.Permissions = c.Permissions.Strings()
			}
			for _, d := range c.Descriptors {
				dj := descriptorJSON{UUID: d.UUID.String()}
				if d.Permissions > 0 {
					dj.Permissions = d.Permissions.Strings()
				}
				cj.Descriptors = append(cj.Descriptors, dj)
			}
			out.Characteristics = append(out.Characteristics, cj)
		}
	}
	return out
}

func describeError(i peripheral.Info, msg string) errorJSON {
	return errorJSON{Name: i.Name, ID: i.Addr.String(), ErrorMessage: msg}
}

func describeDevices(ds []blecentral.Device) []deviceJSON {
	out := make([]deviceJSON, 0, len(ds))
	for _, d := range ds {
		out = append(out, deviceJSON{ID: d.Addr.String(), Name: d.Name})
	}
	return out
}
