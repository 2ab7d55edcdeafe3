// Package pmem implements the physical page-frame allocator: a bitmap-style
// manager over a fixed heap region, ported from page.rs's Pmem/Page/IPage.
//
// There is no real physical RAM backing this; the "heap" is a Go byte slice
// standing in for the region a linker script would otherwise describe with
// HEAP_START/HEAP_SIZE. The descriptors are kept in a separate Go slice;
// alloc_start is still computed as if they sat at the front of the heap, as
// page.rs lays them out, and the byte slice backs the frames from
// alloc_start onward.
package pmem

import (
	"fmt"
	"math"

	"github.com/kvik-os/rv39kern/internal/log"
)

// PageSize is the size, in bytes, of one page frame.
const PageSize = 4096

// PageState is the tag carried by each page descriptor.
type PageState uint8

const (
	Empty PageState = iota
	Taken
	Last
)

func (s PageState) String() string {
	switch s {
	case Empty:
		return "EMPTY"
	case Taken:
		return "TAKEN"
	case Last:
		return "LAST"
	default:
		return "?"
	}
}

// page is one page-frame descriptor.
type page struct {
	state PageState
}

// InvalidIndex is the sentinel IPage index returned when allocation fails.
const InvalidIndex = math.MaxUint64

// IPage is the result of a Pmem allocation: a frame index and the physical
// address it corresponds to. IPage{Index: InvalidIndex} means allocation
// failed. Handles are not linearly owned -- callers either pass them back to
// Dealloc or hold on to them for the lifetime of a longer-lived owner (e.g.
// a process's stack), same as page.rs's non_exhaustive IPage.
type IPage struct {
	Index uint64
	Addr  uint64
}

// Available reports whether the handle represents a successful allocation.
func (p IPage) Available() bool {
	return p.Index != InvalidIndex
}

// Pmem is the physical frame allocator over a fixed heap region. Unlike
// page.rs, which hands out raw pointers into real RAM, Pmem also owns the
// backing storage for the region it allocates out of (arena), indexed by
// simulated physical address. This lets Kmem and the page-table walker
// actually read and write the bytes they allocate instead of merely
// tracking addresses, while keeping every address and bookkeeping
// computation identical to the original.
type Pmem struct {
	heapStart  uint64
	heapSize   uint64
	descs      []page
	allocStart uint64
	numPages   uint64
	arena      []byte

	log *log.Logger
}

// New initializes Pmem from a simulated heap region [heapStart, heapStart+heapSize).
// It lays num_pages descriptors, all Empty, at the start of the heap and
// rounds alloc_start up to the next PageSize boundary, exactly as
// page.rs::Pmem::init.
func New(heapStart, heapSize uint64, logger *log.Logger) *Pmem {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	numPages := heapSize / PageSize
	descs := make([]page, numPages)

	offset := numPages * descSize
	allocStart := heapStart + offset
	if rem := allocStart % PageSize; rem != 0 {
		allocStart += PageSize - rem
	}

	// The allocatable region is [allocStart, allocStart+numPages*PageSize):
	// frame index i always maps to allocStart+i*PageSize, regardless of
	// where the descriptor table itself physically sits. Since allocStart
	// is rounded up past the descriptor table, this region can extend
	// beyond heapStart+heapSize -- the same quirk page.rs's Pmem::init has.
	arenaSize := numPages * PageSize

	logger.Debug("pmem: init", log.String("pages", fmt.Sprintf("%d", numPages)),
		log.String("alloc_start", fmt.Sprintf("%#x", allocStart)))

	return &Pmem{
		heapStart:  heapStart,
		heapSize:   heapSize,
		descs:      descs,
		allocStart: allocStart,
		numPages:   numPages,
		arena:      make([]byte, arenaSize),
		log:        logger,
	}
}

// Bytes returns a mutable view of length bytes of simulated physical memory
// starting at addr. addr must lie within [AllocStart(), AllocStart()+NumPages()*PageSize).
func (p *Pmem) Bytes(addr, length uint64) []byte {
	if addr < p.allocStart || addr+length > p.allocStart+p.numPages*PageSize {
		panic("pmem: address range out of bounds")
	}

	off := addr - p.allocStart

	return p.arena[off : off+length]
}

// ZeroRange clears length bytes of simulated physical memory starting at addr.
func (p *Pmem) ZeroRange(addr, length uint64) {
	b := p.Bytes(addr, length)
	for i := range b {
		b[i] = 0
	}
}

// descSize is the notional size, in bytes, of one descriptor in the
// simulated heap layout. Real descriptor bytes aren't modeled (descs lives
// as a Go slice, not inside the arena), but alloc_start still needs to agree
// with page.rs's math for any test that cross-checks addresses, so a
// single-byte-per-descriptor layout is used -- the smallest footprint the
// original's repr(u8) Page allows.
const descSize = 1

// NumPages returns the number of page frames managed.
func (p *Pmem) NumPages() uint64 { return p.numPages }

// AllocStart returns the first page-aligned address available for allocation.
func (p *Pmem) AllocStart() uint64 { return p.allocStart }

// Alloc finds the first run of n consecutive Empty frames, marks the last
// Last and the rest Taken, and returns the handle. The scan never starts a
// run that cannot fit: a run's first frame is at most numPages-n.
func (p *Pmem) Alloc(n uint64) IPage {
	if n == 0 || n > p.numPages {
		return IPage{Index: InvalidIndex}
	}

	var (
		found uint64
		begin uint64 = InvalidIndex
	)

	// i is the last frame of the candidate run, so a run starting at
	// numPages-n ends at numPages-1.
	limit := p.numPages - 1
	var i uint64

	for i = 0; i <= limit; i++ {
		if p.descs[i].state == Empty {
			found++
		} else {
			found = 0
		}

		if found == n {
			begin = i + 1 - found
			p.descs[i].state = Last
			break
		}
	}

	if begin == InvalidIndex {
		p.log.Debug("pmem: alloc failed", log.String("n", fmt.Sprintf("%d", n)))
		return IPage{Index: InvalidIndex}
	}

	for j := begin; j < begin+found-1; j++ {
		p.descs[j].state = Taken
	}

	addr := p.allocStart + begin*PageSize

	return IPage{Index: begin, Addr: addr}
}

// Zalloc allocates n pages and zeroes their backing bytes.
func (p *Pmem) Zalloc(n uint64) IPage {
	ip := p.Alloc(n)
	if ip.Available() {
		p.ZeroRange(ip.Addr, n*PageSize)
	}

	return ip
}

// Dealloc walks forward from begin clearing Taken frames to Empty until a
// Last is found, then clears that too. It panics (a double-free or
// corruption) if no Last is found before running off the end of the table.
func (p *Pmem) Dealloc(ip IPage) {
	if !ip.Available() {
		panic("pmem: dealloc: invalid IPage")
	}

	index := ip.Index

	for index < p.numPages {
		switch p.descs[index].state {
		case Empty, Last:
			goto found
		default:
			p.descs[index].state = Empty
			index++
		}
	}

found:
	if index >= p.numPages || p.descs[index].state != Last {
		panic("pmem: dealloc: potential double-free detected")
	}

	p.descs[index].state = Empty
}

// DeallocPhys asserts ptr is page-aligned and within the allocatable range,
// derives its frame index, and deallocates it.
func (p *Pmem) DeallocPhys(ptr uint64) {
	if ptr%PageSize != 0 {
		panic("pmem: dealloc_phys: unaligned pointer")
	}

	if ptr < p.allocStart || ptr >= p.allocStart+p.numPages*PageSize {
		panic("pmem: dealloc_phys: pointer out of range")
	}

	index := (ptr - p.allocStart) / PageSize
	p.Dealloc(IPage{Index: index, Addr: ptr})
}

// String renders the allocation table the way page.rs's Display impl does.
func (p *Pmem) String() string {
	out := fmt.Sprintf("PAGE ALLOCATION TABLE\nPHYS: %#x -> %#x\n",
		p.allocStart, p.allocStart+p.numPages*PageSize)
	out += "~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~\n"

	var (
		allocation bool
		start      uint64
		total      uint64
	)

	for i, d := range p.descs {
		if !allocation && d.state == Taken {
			allocation = true
			start = uint64(i)
			out += fmt.Sprintf("%#x => ", p.allocStart+uint64(i)*PageSize)
		}

		if allocation && d.state == Last {
			allocation = false
			out += fmt.Sprintf("%#x: %3d page(s)\n", p.allocStart+uint64(i)*PageSize, uint64(i)-start+1)
			total += uint64(i) - start + 1
		}
	}

	out += "~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~~\n"
	out += fmt.Sprintf("Allocated: %6d pages (%10d bytes).\n", total, total*PageSize)
	out += fmt.Sprintf("Free     : %6d pages (%10d bytes).\n", p.numPages-total, (p.numPages-total)*PageSize)

	return out
}

// LogValue renders a compact structured summary for the log package.
func (p *Pmem) LogValue() log.Value {
	var used uint64

	for _, d := range p.descs {
		if d.state != Empty {
			used++
		}
	}

	return log.GroupValue(
		log.String("PAGES", fmt.Sprintf("%d", p.numPages)),
		log.String("USED", fmt.Sprintf("%d", used)),
		log.String("ALLOC_START", fmt.Sprintf("%#x", p.allocStart)),
	)
}
