package tinygo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"github.com/rigado/blecentral"
)

func TestUUIDConversion(t *testing.T) {
	u := blecentral.UUID16(0x180d)
	b, err := toBT(u)
	require.NoError(t, err)
	assert.Equal(t, bluetooth.New16BitUUID(0x180d), b)

	back, err := fromBT(b)
	require.NoError(t, err)
	assert.Equal(t, u, back)
	assert.Equal(t, "180d", back.String())

	list, err := toBTList([]blecentral.UUID{u, blecentral.UUID16(0x2a37)})
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestBuildProfile(t *testing.T) {
	p, err := buildProfile([]discovered{
		{uuid: bluetooth.New16BitUUID(0x180d), chars: []bluetooth.UUID{
			bluetooth.New16BitUUID(0x2a37),
			bluetooth.New16BitUUID(0x2a37),
			bluetooth.New16BitUUID(0x2a38),
		}},
		{uuid: bluetooth.New16BitUUID(0x180f), chars: []bluetooth.UUID{bluetooth.New16BitUUID(0x2a19)}},
	})
	require.NoError(t, err)
	require.Len(t, p.Services, 2)

	hr := p.FindService(blecentral.UUID16(0x180d))
	require.NotNil(t, hr)
	require.Len(t, hr.Characteristics, 3)

	a, b := hr.Characteristics[0], hr.Characteristics[1]
	assert.Equal(t, a.UUID, b.UUID)
	assert.NotEqual(t, keyOf(a), keyOf(b), "instances share a uuid")
	assert.True(t, a.Properties.Has(blecentral.CharNotify|blecentral.CharRead))
	assert.NotNil(t, a.Descriptor(blecentral.ClientCharacteristicConfigUUID))
	assert.Equal(t, blecentral.UUID16(0x180d), a.Service)
}

func TestAdapterWithoutPlatform(t *testing.T) {
	a := New(WithBluetooth(&bluetooth.Adapter{}))

	assert.Equal(t, blecentral.AdapterOff, a.State())
	_, err := a.BondedDevices()
	assert.True(t, blecentral.IsUnsupported(err))
	assert.True(t, blecentral.IsUnsupported(a.SetPin("1234")))
	_, err = a.WatchState(func(blecentral.AdapterState) {})
	assert.True(t, blecentral.IsUnsupported(err))
	_, err = a.LocationEnabled()
	assert.True(t, blecentral.IsUnsupported(err))
	assert.Equal(t, blecentral.BondNone, a.BondState(blecentral.NewAddr("AA:BB:CC:DD:EE:01")))
	assert.Equal(t, "", a.Name(blecentral.NewAddr("AA:BB:CC:DD:EE:01")))
	assert.NoError(t, a.StopScan())
}

type platform struct {
	state   blecentral.AdapterState
	pin     string
	removed []string
}

func (p *platform) State() blecentral.AdapterState { return p.state }
func (p *platform) PowerOn() error                 { p.state = blecentral.AdapterOn; return nil }
func (p *platform) Name(blecentral.Addr) string    { return "Cuff" }
func (p *platform) BondedDevices() ([]blecentral.Device, error) {
	return []blecentral.Device{{Addr: blecentral.NewAddr("AA:BB:CC:DD:EE:01"), Name: "Cuff"}}, nil
}
func (p *platform) BondState(blecentral.Addr) blecentral.BondState { return blecentral.BondBonded }
func (p *platform) CreateBond(blecentral.Addr) error               { return nil }
func (p *platform) RemoveBond(a blecentral.Addr) error {
	p.removed = append(p.removed, a.String())
	return nil
}
func (p *platform) SetPin(pin string) error { p.pin = pin; return nil }
func (p *platform) WatchState(func(blecentral.AdapterState)) (func(), error) {
	return func() {}, nil
}
func (p *platform) WatchBonds(func(blecentral.Addr, blecentral.BondState)) (func(), error) {
	return func() {}, nil
}

func TestAdapterPlatform(t *testing.T) {
	p := &platform{state: blecentral.AdapterOff}
	a := New(WithBluetooth(&bluetooth.Adapter{}), WithPlatform(p))
	addr := blecentral.NewAddr("AA:BB:CC:DD:EE:01")

	assert.Equal(t, blecentral.AdapterOff, a.State())
	ds, err := a.BondedDevices()
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "Cuff", a.Name(addr))
	assert.Equal(t, blecentral.BondBonded, a.BondState(addr))

	require.NoError(t, a.RemoveBond(addr))
	assert.Equal(t, []string{addr.String()}, p.removed)
	require.NoError(t, a.SetPin("0000"))
	assert.Equal(t, "0000", p.pin)

	stop, err := a.WatchBonds(func(blecentral.Addr, blecentral.BondState) {})
	require.NoError(t, err)
	stop()
}
