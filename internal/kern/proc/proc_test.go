package proc

import (
	"testing"

	"github.com/kvik-os/rv39kern/internal/kern/mmu"
	"github.com/kvik-os/rv39kern/internal/kern/pmem"
)

func newTestPmem(t *testing.T) *pmem.Pmem {
	t.Helper()
	return pmem.New(0x8000_0000, pmem.PageSize*4096, nil)
}

func TestNewProcessMapsStackAndCode(t *testing.T) {
	pm := newTestPmem(t)

	entry := pm.Zalloc(2)
	if !entry.Available() {
		t.Fatal("failed to allocate fake code pages")
	}

	p := New(pm, entry.Addr)

	if p.PC() != StartAddr {
		t.Fatalf("pc = %#x, want %#x", p.PC(), StartAddr)
	}

	if p.Frame.Regs[2] != StackAddr+pmem.PageSize*StackPages {
		t.Fatalf("sp = %#x, want top of stack", p.Frame.Regs[2])
	}

	got, ok := mmu.VirtToPhys(p.Root(), pm, StartAddr)
	if !ok || got != entry.Addr {
		t.Fatalf("code mapping: got (%#x,%v), want (%#x,true)", got, ok, entry.Addr)
	}

	_, ok = mmu.VirtToPhys(p.Root(), pm, StackAddr)
	if !ok {
		t.Fatal("expected stack to be mapped")
	}
}

func TestNewProcessAssignsIncreasingPIDs(t *testing.T) {
	pm := newTestPmem(t)
	entry := pm.Zalloc(2)

	a := New(pm, entry.Addr)
	b := New(pm, entry.Addr)

	if b.PID() != a.PID()+1 {
		t.Fatalf("pid b = %d, want %d", b.PID(), a.PID()+1)
	}
}

func TestCloseReleasesStackAndTables(t *testing.T) {
	pm := newTestPmem(t)
	entry := pm.Zalloc(2)

	before := pm.Alloc(1)
	pm.Dealloc(before)

	p := New(pm, entry.Addr)
	p.Close(pm, nil)

	if p.State() != Dead {
		t.Fatalf("state after close = %v, want Dead", p.State())
	}

	full := pm.Alloc(pm.NumPages() - 3) // entry's 2 pages remain taken
	if !full.Available() {
		t.Fatal("expected stack and table frames to have been reclaimed")
	}
}
