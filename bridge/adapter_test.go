package bridge

import (
	"fmt"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/central"
	"github.com/rigado/blecentral/native/fake"
)

const (
	addr1 = "AA:BB:CC:DD:EE:01"
	svc   = "180d"
	hrm   = "2a37"
	model = "2a38"
	ctrl  = "2a39"
)

func testProfile() blecentral.Profile {
	s := blecentral.NewService(blecentral.MustParse(svc))
	n := s.NewCharacteristic(blecentral.MustParse(hrm), blecentral.CharNotify)
	n.Descriptors = []*blecentral.Descriptor{{UUID: blecentral.ClientCharacteristicConfigUUID}}
	s.NewCharacteristic(blecentral.MustParse(model), blecentral.CharRead)
	s.NewCharacteristic(blecentral.MustParse(ctrl), blecentral.CharWrite|blecentral.CharWriteNR)
	return blecentral.Profile{Services: []*blecentral.Service{s}}
}

type harness struct {
	*Adapter
	native *fake.Adapter
	remote *fake.Peripheral
	msgs   chan Message
}

func setup(t *testing.T) *harness {
	t.Helper()
	a := fake.NewAdapter()
	r := fake.NewPeripheral(addr1, "HRM")
	r.Profile = testProfile()
	r.Advertising = []byte{0x03, 0x03, 0x0d, 0x18}
	a.Add(r)

	c, err := central.New(a)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	h := &harness{native: a, remote: r, msgs: make(chan Message, 64)}
	h.Adapter = NewAdapter(c, func(m Message) { h.msgs <- m }, nil)
	h.SetTimeout(2 * time.Second)
	t.Cleanup(h.Adapter.Close)
	return h
}

func (h *harness) next(t *testing.T, cb string) Message {
	t.Helper()
	select {
	case m := <-h.msgs:
		require.Equal(t, cb, m.CallbackID)
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("no message for %s", cb)
	}
	return Message{}
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.Connect("c", addr1)
	m := h.next(t, "c")
	require.Equal(t, StatusNoResult, m.Status)
	m = h.next(t, "c")
	require.Equal(t, StatusOK, m.Status)
	require.True(t, m.KeepCallback)
}

func TestBridgeScan(t *testing.T) {
	h := setup(t)

	h.Scan("s", nil, 0, blecentral.DefaultScanOptions())
	require.True(t, h.native.Advertise(h.remote))

	m := h.next(t, "s")
	assert.Equal(t, StatusOK, m.Status)
	assert.True(t, m.KeepCallback)
	var p peripheralJSON
	require.NoError(t, m.Decode(&p))
	assert.Equal(t, addr1, p.ID)
	assert.Equal(t, "ArrayBuffer", p.Advertising.CDVType)
	assert.Equal(t, []byte{0x03, 0x03, 0x0d, 0x18}, p.Advertising.Data)
	require.NotNil(t, p.RSSI)
	assert.Equal(t, -60, *p.RSSI)
	assert.Nil(t, p.Services)

	h.StopScan("stop")
	// the stop answer and the scan end race
	seen := map[string]Message{}
	for i := 0; i < 2; i++ {
		select {
		case m := <-h.msgs:
			seen[m.CallbackID] = m
		case <-time.After(2 * time.Second):
			t.Fatalf("missing scan end")
		}
	}
	assert.Equal(t, StatusOK, seen["stop"].Status)
	var end string
	require.NoError(t, seen["s"].Decode(&end))
	assert.Equal(t, central.ScanEndSuccess, end)
	assert.False(t, seen["s"].KeepCallback)
}

func TestBridgeScanRejectsOptions(t *testing.T) {
	h := setup(t)
	opts := blecentral.DefaultScanOptions()
	opts.ScanMode = "fast"
	h.Scan("s", nil, 0, opts)

	m := h.next(t, "s")
	assert.Equal(t, StatusError, m.Status)
	var msg string
	require.NoError(t, m.Decode(&msg))
	assert.Contains(t, msg, "scanMode must be one of: lowPower | balanced")
}

func TestBridgeConnectReadWrite(t *testing.T) {
	h := setup(t)
	h.remote.SetValue(blecentral.MustParse(model), []byte("HR-1"))
	ch := make(chan Event, 8)
	h.Events().SetListener(func(ev Event) { ch <- ev })
	h.Events().Watch(Endpoint{DeviceID: addr1, ServiceID: svc, CharacteristicID: model})

	h.Connect("c", addr1)
	assert.Equal(t, StatusNoResult, h.next(t, "c").Status)
	m := h.next(t, "c")
	var p peripheralJSON
	require.NoError(t, m.Decode(&p))
	assert.Equal(t, []string{svc}, p.Services)
	require.Len(t, p.Characteristics, 3)
	assert.Equal(t, hrm, p.Characteristics[0].Characteristic)
	assert.Equal(t, []string{"Notify"}, p.Characteristics[0].Properties)
	assert.Nil(t, p.RSSI, "never scanned")
	assert.Equal(t, DeviceConnected, recvEvent(t, ch).Type)

	h.IsConnected("ic", addr1)
	assert.Equal(t, StatusOK, h.next(t, "ic").Status)

	h.Read("r", addr1, svc, model)
	m = h.next(t, "r")
	assert.Equal(t, StatusOK, m.Status)
	var buf arrayBuffer
	require.NoError(t, m.Decode(&buf))
	assert.Equal(t, []byte("HR-1"), buf.Data)
	ev := recvEvent(t, ch)
	assert.Equal(t, ReadResult, ev.Type)
	assert.Equal(t, []byte("HR-1"), ev.Data)

	h.Write("w", addr1, svc, ctrl, []byte{1})
	assert.Equal(t, StatusOK, h.next(t, "w").Status)
	assert.Equal(t, []byte{1}, h.remote.Value(blecentral.MustParse(ctrl)))

	h.WriteWithoutResponse("wnr", addr1, svc, ctrl, []byte{2})
	assert.Equal(t, StatusOK, h.next(t, "wnr").Status)

	h.ReadRSSI("rssi", addr1)
	m = h.next(t, "rssi")
	var rssi int
	require.NoError(t, m.Decode(&rssi))
	assert.Equal(t, -60, rssi)

	h.Read("bad", addr1, "not a uuid", model)
	assert.Equal(t, StatusError, h.next(t, "bad").Status)

	// an explicit disconnect does not answer the connect callback
	h.Disconnect("d", addr1)
	assert.Equal(t, StatusOK, h.next(t, "d").Status)
	h.IsConnected("ic", addr1)
	m = h.next(t, "ic")
	assert.Equal(t, StatusError, m.Status)
	var msg string
	require.NoError(t, m.Decode(&msg))
	assert.Equal(t, "Not connected", msg)
}

func (h *harness) writes() [][]byte {
	var out [][]byte
	for _, c := range h.native.Session(addr1).Calls() {
		if c.Op == "write" || c.Op == "writeNoResponse" {
			out = append(out, c.Data)
		}
	}
	return out
}

func TestBridgeWritesKeepCallOrder(t *testing.T) {
	h := setup(t)
	h.connect(t)

	const n = 40
	var want [][]byte
	for i := 0; i < n; i++ {
		want = append(want, []byte{byte(i)})
		h.Write(fmt.Sprintf("w%d", i), addr1, svc, ctrl, []byte{byte(i)})
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, StatusOK, h.next(t, fmt.Sprintf("w%d", i)).Status)
	}
	assert.Equal(t, want, h.writes())
	assert.Equal(t, []byte{n - 1}, h.remote.Value(blecentral.MustParse(ctrl)))
	assert.Zero(t, h.native.Session(addr1).Overlaps())
}

func TestBridgeReadSeesEarlierWrite(t *testing.T) {
	h := setup(t)
	h.remote.SetValue(blecentral.MustParse(ctrl), []byte("old"))
	h.connect(t)

	h.WriteWithoutResponse("wnr", addr1, svc, ctrl, []byte("mid"))
	h.Write("w", addr1, svc, ctrl, []byte("new"))
	h.Read("r", addr1, svc, ctrl)

	assert.Equal(t, StatusOK, h.next(t, "wnr").Status)
	assert.Equal(t, StatusOK, h.next(t, "w").Status)
	m := h.next(t, "r")
	var buf arrayBuffer
	require.NoError(t, m.Decode(&buf))
	assert.Equal(t, []byte("new"), buf.Data)
	assert.Equal(t, []string{"discover", "writeNoResponse", "write", "read"}, h.native.Session(addr1).Ops())
}

func TestBridgeInterleavedCommands(t *testing.T) {
	h := setup(t)
	h.remote.SetValue(blecentral.MustParse(model), []byte("HR-1"))
	h.connect(t)

	ack := true
	h.Write("w", addr1, svc, ctrl, []byte{7})
	h.StartNotification("n", addr1, svc, hrm, &ack)
	h.Read("r", addr1, svc, model)

	var order []string
	got := map[string]Message{}
	for len(order) < 3 {
		select {
		case m := <-h.msgs:
			order = append(order, m.CallbackID)
			got[m.CallbackID] = m
		case <-time.After(2 * time.Second):
			t.Fatalf("missing replies, got %v", order)
		}
	}
	// the subscription ack is relayed from its own stream, so only the
	// request replies have a fixed order
	assert.ElementsMatch(t, []string{"w", "n", "r"}, order)
	wi, ri := -1, -1
	for i, cb := range order {
		switch cb {
		case "w":
			wi = i
		case "r":
			ri = i
		}
	}
	assert.Less(t, wi, ri, "order = %v", order)

	assert.Equal(t, StatusOK, got["w"].Status)
	var reg string
	require.NoError(t, got["n"].Decode(&reg))
	assert.Equal(t, Registered, reg)
	var buf arrayBuffer
	require.NoError(t, got["r"].Decode(&buf))
	assert.Equal(t, []byte("HR-1"), buf.Data)

	assert.Equal(t, []string{"discover", "write", "setNotify", "writeDescriptor", "read"}, h.native.Session(addr1).Ops())
}

func TestBridgeRequestTimeout(t *testing.T) {
	h := setup(t)
	h.connect(t)
	h.SetTimeout(50 * time.Millisecond)

	h.OpenL2Cap("o", addr1, 192, false)
	var st string
	require.NoError(t, h.next(t, "o").Decode(&st))
	assert.Equal(t, "connected", st)

	// nothing reads the remote end, so the write stays pending
	h.WriteL2Cap("wl", addr1, 192, []byte{1, 2})
	m := h.next(t, "wl")
	assert.Equal(t, StatusError, m.Status)
	var msg string
	require.NoError(t, m.Decode(&msg))
	assert.Contains(t, msg, "deadline exceeded")

	remote := h.native.Session(addr1).Remote(192)
	require.NotNil(t, remote)
	buf := make([]byte, 2)
	_, err := remote.Read(buf)
	require.NoError(t, err)

	select {
	case m := <-h.msgs:
		t.Fatalf("second answer %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no event")
	}
	return Event{}
}

func TestBridgeLinkLoss(t *testing.T) {
	h := setup(t)
	h.connect(t)

	h.native.Session(addr1).Drop(blecentral.GattError)
	m := h.next(t, "c")
	assert.Equal(t, StatusError, m.Status)
	assert.False(t, m.KeepCallback)
	var e errorJSON
	require.NoError(t, m.Decode(&e))
	assert.Equal(t, addr1, e.ID)
	assert.NotEmpty(t, e.ErrorMessage)
	assert.NotContains(t, e.ErrorMessage, blecentral.ErrDisconnected.Error())
}

func TestBridgeNotifications(t *testing.T) {
	h := setup(t)
	h.connect(t)

	ack := true
	h.StartNotification("n", addr1, svc, hrm, &ack)
	m := h.next(t, "n")
	var reg string
	require.NoError(t, m.Decode(&reg))
	assert.Equal(t, Registered, reg)
	assert.True(t, m.KeepCallback)

	ch := testProfile().Services[0].Characteristics[0]
	h.native.Session(addr1).Notify(ch, []byte{0x10})
	h.native.Session(addr1).Notify(ch, []byte{0x11})
	for seq := 0; seq < 2; seq++ {
		m = h.next(t, "n")
		assert.True(t, m.KeepCallback)
		var pair []jsoniter.RawMessage
		require.NoError(t, m.Decode(&pair))
		require.Len(t, pair, 2)
		var buf arrayBuffer
		require.NoError(t, json.Unmarshal(pair[0], &buf))
		assert.Equal(t, []byte{0x10 + byte(seq)}, buf.Data)
		var got int
		require.NoError(t, json.Unmarshal(pair[1], &got))
		assert.Equal(t, seq, got)
	}

	h.StopNotification("sn", addr1, svc, hrm)
	assert.Equal(t, StatusOK, h.next(t, "sn").Status)
}

func TestBridgeAdapterState(t *testing.T) {
	h := setup(t)

	h.IsEnabled("e")
	assert.Equal(t, StatusOK, h.next(t, "e").Status)

	h.StartStateNotifications("st")
	var label string
	require.NoError(t, h.next(t, "st").Decode(&label))
	assert.Equal(t, "on", label)

	h.native.SetState(blecentral.AdapterOff)
	require.NoError(t, h.next(t, "st").Decode(&label))
	assert.Equal(t, "off", label)

	h.IsEnabled("e")
	m := h.next(t, "e")
	assert.Equal(t, StatusError, m.Status)
	require.NoError(t, m.Decode(&label))
	assert.Equal(t, central.MsgBluetoothDisabled, label)

	h.StopStateNotifications("stop")
	assert.Equal(t, StatusOK, h.next(t, "stop").Status)

	h.native.SetLocation(false)
	h.IsLocationEnabled("l")
	m = h.next(t, "l")
	require.NoError(t, m.Decode(&label))
	assert.Equal(t, "Location services disabled.", label)
}

func TestBridgeMisc(t *testing.T) {
	h := setup(t)

	h.RestoredState("rs")
	assert.Equal(t, StatusNoResult, h.next(t, "rs").Status)

	h.SetPin("pin", "")
	assert.Equal(t, StatusError, h.next(t, "pin").Status)
	h.SetPin("pin", "1234")
	assert.Equal(t, StatusOK, h.next(t, "pin").Status)
	assert.Equal(t, "1234", h.native.Pin())

	h.List("list")
	var list []peripheralJSON
	require.NoError(t, h.next(t, "list").Decode(&list))
	assert.Empty(t, list)

	h.native.SetBond(blecentral.NewAddr(addr1), blecentral.BondBonded)
	h.BondedDevices("b")
	var devs []deviceJSON
	require.NoError(t, h.next(t, "b").Decode(&devs))
	require.Len(t, devs, 1)
	assert.Equal(t, addr1, devs[0].ID)

	h.RequestConnectionPriority("p", addr1, "urgent")
	assert.Equal(t, StatusError, h.next(t, "p").Status)
}

func TestBridgeTuning(t *testing.T) {
	h := setup(t)
	h.connect(t)

	h.RequestMtu("mtu", addr1, 512)
	var mtu int
	require.NoError(t, h.next(t, "mtu").Decode(&mtu))
	assert.Equal(t, 247, mtu)

	h.RequestConnectionPriority("p", addr1, "high")
	assert.Equal(t, StatusOK, h.next(t, "p").Status)

	h.RefreshDeviceCache("rf", addr1, 10*time.Millisecond)
	m := h.next(t, "rf")
	assert.Equal(t, StatusOK, m.Status)
	var p peripheralJSON
	require.NoError(t, m.Decode(&p))
	assert.Equal(t, []string{svc}, p.Services)
}

func TestParsePriority(t *testing.T) {
	for in, want := range map[string]blecentral.ConnectionPriority{
		"low":      blecentral.PriorityLow,
		"balanced": blecentral.PriorityBalanced,
		"high":     blecentral.PriorityHigh,
	} {
		got, err := ParsePriority(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePriority("HIGH")
	assert.Error(t, err)
}
