package blecentral

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"
)

func TestPropertyStrings(t *testing.T) {
	p := CharRead | CharNotify | CharWriteNR
	want := []string{"Read", "WriteWithoutResponse", "Notify"}
	if got := p.Strings(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if !p.Has(CharNotify) || p.Has(CharIndicate) {
		t.Fatalf("Has is wrong for %v", p)
	}
	if len(Property(0).Strings()) != 0 {
		t.Fatalf("expected no names")
	}
}

func TestInstanceIDs(t *testing.T) {
	svc := NewService(MustParse("180d"))
	a := svc.NewCharacteristic(MustParse("2a37"), CharNotify)
	b := svc.NewCharacteristic(MustParse("2a37"), CharRead)
	if a.InstanceID == b.InstanceID {
		t.Fatalf("instance ids should differ")
	}
	if b.Service != svc.UUID {
		t.Fatalf("service uuid not propagated")
	}

	p := &Profile{Services: []*Service{svc}}
	if p.FindService(MustParse("180d")) != svc {
		t.Fatalf("service not found")
	}
	if p.FindService(MustParse("180f")) != nil {
		t.Fatalf("unexpected service")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	err := errors.Wrap(Disconnectedf("read 2a37"), "queue")
	if !IsDisconnected(err) || IsNotFound(err) {
		t.Fatalf("classification failed for %v", err)
	}

	ne := errors.Wrap(NewNativeError("read", 5), "ctx")
	if st, ok := Status(ne); !ok || st != 5 {
		t.Fatalf("status not found in %v", ne)
	}

	w := &WarningError{Err: NewNativeError("disable notify", 1)}
	if !IsWarning(errors.Wrap(w, "stop")) {
		t.Fatalf("warning not detected")
	}
	if _, ok := Status(w); !ok {
		t.Fatalf("warning should expose native status")
	}
}

func TestScanOptionsValidate(t *testing.T) {
	o := DefaultScanOptions()
	if err := o.Validate(); err != nil {
		t.Fatal(err)
	}
	o.ScanMode = "fast"
	if err := o.Validate(); err == nil {
		t.Fatalf("expected scanMode error")
	}
	o.ScanMode = "lowLatency"
	o.Phy = "coded"
	if err := o.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestAddr(t *testing.T) {
	a := NewAddr("aa:bb:cc:dd:ee:ff")
	if a.String() != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("unexpected %s", a)
	}
	if len(a.Bytes()) != 6 {
		t.Fatalf("expected 6 bytes")
	}
	if !ValidAddr("AA:BB:CC:DD:EE:FF") || !ValidAddr("6e400001-b5a3-f393-e0a9-e50e24dcca9e") {
		t.Fatalf("valid addresses rejected")
	}
	if ValidAddr("nope") {
		t.Fatalf("invalid address accepted")
	}
}
