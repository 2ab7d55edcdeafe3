package mmu

import (
	"testing"

	"github.com/kvik-os/rv39kern/internal/kern/pmem"
)

func newTestPmem(t *testing.T) *pmem.Pmem {
	t.Helper()
	return pmem.New(0x8000_0000, pmem.PageSize*4096, nil)
}

func TestMapAndVirtToPhysRoundTrip(t *testing.T) {
	pm := newTestPmem(t)
	root := NewRoot(pm)

	va := uint64(0x8000_5000)
	pa := uint64(0x8000_5000)

	Map(root, pm, va, pa, ReadWrite, 0)

	got, ok := VirtToPhys(root, pm, va+0xabc)
	if !ok {
		t.Fatal("expected mapping to be found")
	}

	if got != pa+0xabc {
		t.Fatalf("got %#x, want %#x", got, pa+0xabc)
	}
}

func TestVirtToPhysUnmappedReturnsFalse(t *testing.T) {
	pm := newTestPmem(t)
	root := NewRoot(pm)

	_, ok := VirtToPhys(root, pm, 0x1234_0000)
	if ok {
		t.Fatal("expected unmapped address to report not-found")
	}
}

func TestOffsetPreservedWithinPage(t *testing.T) {
	pm := newTestPmem(t)
	root := NewRoot(pm)

	base := uint64(0x4000_0000)
	Map(root, pm, base, 0x9000_0000, ReadWrite, 0)

	for off := uint64(0); off < pmem.PageSize; off += 0x111 {
		got, ok := VirtToPhys(root, pm, base+off)
		if !ok {
			t.Fatalf("offset %#x: expected mapped", off)
		}

		if got != 0x9000_0000+off {
			t.Fatalf("offset %#x: got %#x, want %#x", off, got, 0x9000_0000+off)
		}
	}
}

func TestMapRejectsNonLeafBits(t *testing.T) {
	pm := newTestPmem(t)
	root := NewRoot(pm)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic mapping with no R/W/X bits")
		}
	}()

	Map(root, pm, 0x8000_0000, 0x8000_0000, Valid, 0)
}

func TestIDMapRangeCoversSpan(t *testing.T) {
	pm := newTestPmem(t)
	root := NewRoot(pm)

	start := uint64(0x1000_0000)
	end := start + 16 // sub-page span, like the UART window.

	IDMapRange(root, pm, start, end, ReadWrite)

	got, ok := VirtToPhys(root, pm, start+5)
	if !ok || got != start+5 {
		t.Fatalf("id_map_range: got (%#x,%v), want (%#x,true)", got, ok, start+5)
	}
}

func TestUnmapFreesIntermediateTables(t *testing.T) {
	pm := newTestPmem(t)
	root := NewRoot(pm)

	before := pm.Alloc(1)
	pm.Dealloc(before) // reclaim probe page so we can watch the count move.

	// Map a handful of far-apart addresses so L1/L0 tables must be created.
	addrs := []uint64{0x1000_0000, 0x2000_0000, 0x3000_0000}
	for _, a := range addrs {
		Map(root, pm, a, a, ReadWrite, 0)
	}

	Unmap(root, pm)

	// After unmap, allocating enough frames to span the whole heap again
	// should succeed, proving the intermediate tables were returned.
	full := pm.Alloc(pm.NumPages() - 1)
	if !full.Available() {
		t.Fatal("expected intermediate table frames to have been freed")
	}
}
