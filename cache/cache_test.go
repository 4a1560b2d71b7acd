package cache

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rigado/blecentral"
)

func testProfile() blecentral.Profile {
	p := blecentral.Profile{}

	svc := blecentral.NewService(blecentral.MustParse("180d"))
	c := svc.NewCharacteristic(blecentral.MustParse("2a37"), blecentral.CharNotify)
	c.Descriptors = append(c.Descriptors, &blecentral.Descriptor{UUID: blecentral.ClientCharacteristicConfigUUID})
	p.Services = append(p.Services, svc)
	return p
}

func TestGattCache_Store(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "test.cache")
	p := testProfile()

	c := New(fn)
	err := c.Store(blecentral.NewAddr("12:34:56:78:90:ab"), p, false)
	if err != nil {
		t.Fatalf("expected nil error but got %s instead", err)
	}

	loaded, err := c.Load(blecentral.NewAddr("12:34:56:78:90:AB"))
	if err != nil {
		t.Fatalf("expected to find mac in cache but did not: %s", err)
	}

	if !reflect.DeepEqual(p, loaded) {
		t.Fatalf("stored and loaded caches are not equal")
	}

	if err := c.Store(blecentral.NewAddr("12:34:56:78:90:ab"), p, false); err == nil {
		t.Fatalf("expected error storing without replace")
	}
	if err := c.Store(blecentral.NewAddr("12:34:56:78:90:ab"), p, true); err != nil {
		t.Fatalf("expected replace to succeed: %s", err)
	}
}

func TestGattCache_RemoveClear(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "test.cache")
	a := blecentral.NewAddr("12:34:56:78:90:ab")
	b := blecentral.NewAddr("12:34:56:78:90:ac")

	c := New(fn)
	if err := c.Clear(); err != nil {
		t.Fatalf("clear of missing file: %s", err)
	}
	_ = c.Store(a, testProfile(), false)
	_ = c.Store(b, testProfile(), false)

	if err := c.Remove(a); err != nil {
		t.Fatalf("remove: %s", err)
	}
	if _, err := c.Load(a); !blecentral.IsNotFound(err) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
	if _, err := c.Load(b); err != nil {
		t.Fatalf("expected %s to survive: %s", b, err)
	}

	if err := c.Clear(); err != nil {
		t.Fatalf("clear: %s", err)
	}
	if _, err := c.Load(b); !blecentral.IsNotFound(err) {
		t.Fatalf("expected not found after clear, got %v", err)
	}
}

func TestMemory(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "test.cache")
	file := New(fn)

	var evicted []string
	m := NewMemory(1, file)
	m.OnEvicted = func(addr string) { evicted = append(evicted, addr) }

	a := blecentral.NewAddr("12:34:56:78:90:ab")
	b := blecentral.NewAddr("12:34:56:78:90:ac")
	if err := m.Store(a, testProfile(), true); err != nil {
		t.Fatalf("store: %s", err)
	}
	if err := m.Store(b, testProfile(), true); err != nil {
		t.Fatalf("store: %s", err)
	}
	if len(evicted) != 1 || evicted[0] != a.String() {
		t.Fatalf("expected %s evicted, got %v", a, evicted)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 entry in memory, got %d", m.Len())
	}

	// evicted entries still load from the file
	p, err := m.Load(a)
	if err != nil {
		t.Fatalf("load through: %s", err)
	}
	if !reflect.DeepEqual(testProfile(), p) {
		t.Fatalf("loaded profile differs")
	}

	if err := m.Remove(a); err != nil {
		t.Fatalf("remove: %s", err)
	}
	if _, err := file.Load(a); !blecentral.IsNotFound(err) {
		t.Fatalf("expected remove to reach the file, got %v", err)
	}
}

func TestMemoryNoBacking(t *testing.T) {
	m := NewMemory(0, nil)
	a := blecentral.NewAddr("12:34:56:78:90:ab")
	if _, err := m.Load(a); !blecentral.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	_ = m.Store(a, testProfile(), false)
	if err := m.Store(a, testProfile(), false); err == nil {
		t.Fatalf("expected error storing without replace")
	}
	_ = m.Clear()
	if m.Len() != 0 {
		t.Fatalf("expected empty cache after clear")
	}
}
