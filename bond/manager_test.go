package bond

import (
	"path/filepath"
	"testing"

	"github.com/rigado/blecentral"
)

func TestBondManager(t *testing.T) {
	m := NewBondManager(filepath.Join(t.TempDir(), "bonds.json"))
	a := blecentral.NewAddr("aa:bb:cc:dd:ee:01")
	b := blecentral.NewAddr("aa:bb:cc:dd:ee:00")

	if m.Exists(a) {
		t.Fatalf("empty store reports a bond")
	}

	if err := m.Save(a, "UA-651"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := m.Save(b, "UC-352"); err != nil {
		t.Fatalf("save: %v", err)
	}
	// saving again updates in place
	if err := m.Save(a, "A&D UA-651"); err != nil {
		t.Fatalf("save: %v", err)
	}

	if !m.Exists(blecentral.NewAddr("AA:BB:CC:DD:EE:01")) {
		t.Fatalf("expected bond for %s", a)
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 bonds, got %d", len(list))
	}
	if list[0].Addr.String() != b.String() || list[1].Name != "A&D UA-651" {
		t.Fatalf("unexpected list %+v", list)
	}

	if err := m.Delete(a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if m.Exists(a) {
		t.Fatalf("bond survived delete")
	}
	if err := m.Delete(a); !blecentral.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBondManagerInvalid(t *testing.T) {
	m := NewBondManager(filepath.Join(t.TempDir(), "bonds.json"))
	if err := m.Save(blecentral.NewAddr(""), "x"); err == nil {
		t.Fatalf("expected error for empty address")
	}
}
