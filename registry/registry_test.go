package registry

import (
	"testing"
	"time"

	"github.com/rigado/blecentral"
	"github.com/rigado/blecentral/native/fake"
	"github.com/rigado/blecentral/peripheral"
)

func record(addr string, rssi int) blecentral.ScanRecord {
	return blecentral.ScanRecord{
		Addr:        blecentral.NewAddr(addr),
		Name:        "dev",
		RSSI:        rssi,
		Advertising: []byte{2, 1, 6},
	}
}

func TestUpsertFirstSighting(t *testing.T) {
	r := New(peripheral.Config{Adapter: fake.NewAdapter()})

	p, first := r.Upsert(record("aa:bb:cc:dd:ee:01", -50))
	if !first {
		t.Fatalf("first sighting not reported")
	}
	p2, first := r.Upsert(record("AA:BB:CC:DD:EE:01", -40))
	if first {
		t.Fatalf("second sighting reported as first")
	}
	if p != p2 {
		t.Fatalf("sighting created a second entry")
	}
	if p.RSSI() != -40 {
		t.Fatalf("rssi = %d, want -40", p.RSSI())
	}
}

func TestUnscannedBecomesScanned(t *testing.T) {
	r := New(peripheral.Config{Adapter: fake.NewAdapter()})
	p := r.GetOrCreate(blecentral.NewAddr("AA:BB:CC:DD:EE:02"), "")
	if p.Scanned() {
		t.Fatalf("connect by id produced a scanned entry")
	}
	if len(r.List(true)) != 0 {
		t.Fatalf("unscanned entry listed")
	}

	_, first := r.Upsert(record("AA:BB:CC:DD:EE:02", -60))
	if !first {
		t.Fatalf("first scan of an unscanned entry not reported")
	}
	if len(r.List(true)) != 1 {
		t.Fatalf("scanned entry not listed")
	}
}

func TestEvictIdleKeepsConnected(t *testing.T) {
	a := fake.NewAdapter()
	remote := a.Add(fake.NewPeripheral("AA:BB:CC:DD:EE:03", "kept"))
	r := New(peripheral.Config{Adapter: a})

	r.Upsert(record("AA:BB:CC:DD:EE:04", -60))
	p := r.GetOrCreate(remote.Addr, "kept")
	events := p.Connect(false)
	select {
	case <-events.Events():
	case <-time.After(2 * time.Second):
		t.Fatalf("connect did not complete")
	}

	if n := r.EvictIdle(); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if _, ok := r.Get(remote.Addr); !ok {
		t.Fatalf("connected peripheral evicted")
	}
	if got := r.Connected(); len(got) != 1 {
		t.Fatalf("connected = %d", len(got))
	}
	p.Disconnect()
}

func TestListOrdered(t *testing.T) {
	r := New(peripheral.Config{Adapter: fake.NewAdapter()})
	r.Upsert(record("AA:BB:CC:DD:EE:09", -1))
	r.Upsert(record("AA:BB:CC:DD:EE:01", -1))
	r.Upsert(record("AA:BB:CC:DD:EE:05", -1))

	l := r.List(false)
	for i := 1; i < len(l); i++ {
		if l[i-1].Addr().String() > l[i].Addr().String() {
			t.Fatalf("list not ordered")
		}
	}
	r.Remove(blecentral.NewAddr("AA:BB:CC:DD:EE:05"))
	if r.Len() != 2 {
		t.Fatalf("len = %d", r.Len())
	}
}
