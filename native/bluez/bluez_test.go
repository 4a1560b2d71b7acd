package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigado/blecentral"
)

const hci0 dbus.ObjectPath = "/org/bluez/hci0"

func TestDevicePath(t *testing.T) {
	a := blecentral.NewAddr("aa:bb:cc:dd:ee:01")
	p := devicePath(hci0, a)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_01"), p)

	back, ok := addrFromPath(hci0, p)
	require.True(t, ok)
	assert.Equal(t, a.String(), back.String())

	_, ok = addrFromPath(hci0, p+"/service000a")
	assert.False(t, ok)
	_, ok = addrFromPath("/org/bluez/hci1", p)
	assert.False(t, ok)
}

func TestPaired(t *testing.T) {
	dev := func(addr, name string, paired bool) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{
			deviceIface: {
				"Address": dbus.MakeVariant(addr),
				"Alias":   dbus.MakeVariant(name),
				"Paired":  dbus.MakeVariant(paired),
			},
		}
	}
	objs := objects{
		hci0 + "/dev_AA_BB_CC_DD_EE_02": dev("AA:BB:CC:DD:EE:02", "Scale", true),
		hci0 + "/dev_AA_BB_CC_DD_EE_01": dev("AA:BB:CC:DD:EE:01", "Cuff", true),
		hci0 + "/dev_AA_BB_CC_DD_EE_03": dev("AA:BB:CC:DD:EE:03", "Other", false),
	}
	objs[hci0] = map[string]map[string]dbus.Variant{adapterIface: {"Powered": dbus.MakeVariant(true)}}
	objs["/org/bluez/hci1/dev_11_22_33_44_55_66"] = dev("11:22:33:44:55:66", "Elsewhere", true)

	got := paired(objs, hci0)
	require.Len(t, got, 2)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", got[0].Addr.String())
	assert.Equal(t, "Cuff", got[0].Name)
	assert.Equal(t, "Scale", got[1].Name)
}

func TestDecode(t *testing.T) {
	sig := &dbus.Signal{
		Path: hci0,
		Name: propertiesIface + ".PropertiesChanged",
		Body: []interface{}{adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)}, []string{}},
	}
	ch, ok := decode(hci0, sig)
	require.True(t, ok)
	require.NotNil(t, ch.state)
	assert.Equal(t, blecentral.AdapterOff, *ch.state)

	sig = &dbus.Signal{
		Path: hci0 + "/dev_AA_BB_CC_DD_EE_01",
		Name: propertiesIface + ".PropertiesChanged",
		Body: []interface{}{deviceIface, map[string]dbus.Variant{"Paired": dbus.MakeVariant(true)}, []string{}},
	}
	ch, ok = decode(hci0, sig)
	require.True(t, ok)
	require.NotNil(t, ch.bond)
	assert.Equal(t, blecentral.BondBonded, *ch.bond)
	assert.Equal(t, "AA:BB:CC:DD:EE:01", ch.addr.String())

	// unrelated property
	sig.Body[1] = map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-50))}
	_, ok = decode(hci0, sig)
	assert.False(t, ok)
}

func TestAgentPasskey(t *testing.T) {
	a := &agent{pin: "123456"}
	n, derr := a.RequestPasskey("")
	require.Nil(t, derr)
	assert.Equal(t, uint32(123456), n)

	pin, derr := a.RequestPinCode("")
	require.Nil(t, derr)
	assert.Equal(t, "123456", pin)

	a.pin = "abc"
	_, derr = a.RequestPasskey("")
	assert.NotNil(t, derr)
}
