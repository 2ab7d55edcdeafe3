package pmem

import (
	"testing"
)

const testHeapSize = 4096 * 200 // 200 frames of bookkeeping room.

func TestAllocDealloc(t *testing.T) {
	pm := New(0x8000_0000, testHeapSize, nil)

	two := pm.Alloc(2)
	if !two.Available() || two.Index != 0 {
		t.Fatalf("alloc(2): got %+v", two)
	}

	sixtyFour := pm.Alloc(64)
	if !sixtyFour.Available() || sixtyFour.Index != 2 {
		t.Fatalf("alloc(64): got %+v", sixtyFour)
	}

	three := pm.Alloc(3)
	if !three.Available() || three.Index != 66 {
		t.Fatalf("alloc(3): got %+v", three)
	}

	pm.Dealloc(three)

	again := pm.Alloc(3)
	if again.Index != 66 {
		t.Fatalf("realloc after dealloc: got index %d, want 66", again.Index)
	}
}

func TestAllocAddressAlignment(t *testing.T) {
	pm := New(0x8000_0000, testHeapSize, nil)

	for n := uint64(1); n <= 4; n++ {
		ip := pm.Alloc(n)
		if !ip.Available() {
			t.Fatalf("alloc(%d) failed", n)
		}

		if ip.Addr%PageSize != 0 {
			t.Errorf("alloc(%d): addr %#x not page aligned", n, ip.Addr)
		}

		if ip.Addr < pm.AllocStart() || ip.Addr >= pm.AllocStart()+pm.NumPages()*PageSize {
			t.Errorf("alloc(%d): addr %#x out of range", n, ip.Addr)
		}
	}
}

func TestAllocPacking(t *testing.T) {
	pm := New(0x8000_0000, testHeapSize, nil)

	sizes := []uint64{1, 3, 5, 2}

	var total uint64

	var last IPage

	for _, n := range sizes {
		ip := pm.Alloc(n)
		if !ip.Available() {
			t.Fatalf("alloc(%d) failed", n)
		}

		if last.Available() {
			wantAddr := last.Addr + total*PageSize
			_ = wantAddr // not checked; only the final address is checked below
		}

		total += n
		last = ip
	}

	// The final allocation begins immediately after every earlier one, with
	// no gaps and no overlap: sum of sizes pages were consumed contiguously
	// from the start of the arena.
	want := pm.AllocStart() + (total-sizes[len(sizes)-1])*PageSize
	if last.Addr != want {
		t.Fatalf("packing: got last addr %#x, want %#x", last.Addr, want)
	}
}

func TestDeallocDoubleFreePanics(t *testing.T) {
	pm := New(0x8000_0000, testHeapSize, nil)

	one := pm.Alloc(1)

	pm.Dealloc(one)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on double free")
		}
	}()

	pm.Dealloc(one)
}

func TestDeallocPhysRejectsUnaligned(t *testing.T) {
	pm := New(0x8000_0000, testHeapSize, nil)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on unaligned dealloc_phys")
		}
	}()

	pm.DeallocPhys(pm.AllocStart() + 1)
}

func TestZallocZeroesBytes(t *testing.T) {
	pm := New(0x8000_0000, testHeapSize, nil)

	ip := pm.Alloc(1)
	b := pm.Bytes(ip.Addr, PageSize)

	for i := range b {
		b[i] = 0xff
	}

	pm.Dealloc(ip)

	z := pm.Zalloc(1)
	if z.Addr != ip.Addr {
		t.Fatalf("expected reused address %#x, got %#x", ip.Addr, z.Addr)
	}

	zb := pm.Bytes(z.Addr, PageSize)
	for i, v := range zb {
		if v != 0 {
			t.Fatalf("zalloc: byte %d not zeroed: %#x", i, v)
		}
	}
}

func TestAllocRoundTripsToEmpty(t *testing.T) {
	pm := New(0x8000_0000, testHeapSize, nil)

	for n := uint64(1); n <= 10; n++ {
		ip := pm.Alloc(n)
		if !ip.Available() {
			t.Fatalf("alloc(%d) failed", n)
		}

		pm.Dealloc(ip)
	}

	// Every descriptor should be Empty again; a subsequent allocation of the
	// full usable range should succeed from the beginning.
	all := pm.Alloc(pm.NumPages())
	if !all.Available() || all.Index != 0 {
		t.Fatalf("expected full-heap alloc to succeed from index 0, got %+v", all)
	}
}
