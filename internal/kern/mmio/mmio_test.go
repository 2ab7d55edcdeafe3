package mmio

import (
	"errors"
	"testing"
)

type fakeDevice struct {
	reg uint64
}

func (f *fakeDevice) Name() string { return "fake" }

func (f *fakeDevice) Read(off uint64, size int) (uint64, error) {
	return f.reg, nil
}

func (f *fakeDevice) Write(off uint64, size int, val uint64) error {
	f.reg = val
	return nil
}

func TestLoadStoreRoundTrip(t *testing.T) {
	bus := NewBus(nil)
	dev := &fakeDevice{}
	bus.Map(0x1000_0000, 0x1000, dev)

	if err := bus.Store(0x1000_0004, 4, 0xdeadbeef); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, err := bus.Load(0x1000_0004, 4)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got != 0xdeadbeef {
		t.Fatalf("got %#x, want %#x", got, 0xdeadbeef)
	}
}

func TestLoadUnmappedReturnsErrNoDevice(t *testing.T) {
	bus := NewBus(nil)

	_, err := bus.Load(0x42, 4)
	if !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice for an unmapped address, got %v", err)
	}
}
