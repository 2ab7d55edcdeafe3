// Package mmu implements the Sv39 page-table manager: construction,
// mapping, walking, teardown and identity mapping of kernel regions. There
// is no real MMU underneath -- Table pages live in the pmem-backed arena
// the same as every other piece of kernel memory, and PTEs are encoded and
// decoded by hand the way the real hart would, so the Sv39 bit layout is
// exercised exactly, not merely modeled at a higher level.
package mmu

import (
	"encoding/binary"

	"github.com/kvik-os/rv39kern/internal/kern/pmem"
)

// Bits is the set of permission/attribute flags carried in a PTE.
type Bits uint64

const (
	Valid Bits = 1 << iota
	Read
	Write
	Execute
	User
	Global
	Access
	Dirty

	ReadWrite      = Read | Write
	ReadExecute    = Read | Execute
	ReadWriteExec  = Read | Write | Execute
	rwxMask        = Read | Write | Execute
)

const (
	entrySize  = 8   // bytes per PTE
	numEntries = 512 // entries per table page
	TableBytes = entrySize * numEntries
)

// ppnShift is how far a physical address is shifted to become a PPN.
const ppnShift = 2

// pte is the raw 64-bit word layout. PPN lives in bits 10-53.
type pte uint64

func (p pte) bits() Bits  { return Bits(p) & 0xff }
func (p pte) isValid() bool { return p.bits()&Valid != 0 }
func (p pte) isLeaf() bool  { return p.bits()&rwxMask != 0 }
func (p pte) ppnAddr() uint64 {
	return (uint64(p) >> 10) << 12
}

func makePTE(phys uint64, bits Bits) pte {
	return pte((phys >> ppnShift) | uint64(bits))
}

// readEntry loads entry i of the table page rooted at tableAddr.
func readEntry(pm *pmem.Pmem, tableAddr uint64, i int) pte {
	b := pm.Bytes(tableAddr+uint64(i*entrySize), entrySize)
	return pte(binary.LittleEndian.Uint64(b))
}

func writeEntry(pm *pmem.Pmem, tableAddr uint64, i int, e pte) {
	b := pm.Bytes(tableAddr+uint64(i*entrySize), entrySize)
	binary.LittleEndian.PutUint64(b, uint64(e))
}

// vpn extracts VPN[2], VPN[1], VPN[0] from a virtual address.
func vpn(vaddr uint64) (v2, v1, v0 int) {
	return int((vaddr >> 30) & 0x1ff), int((vaddr >> 21) & 0x1ff), int((vaddr >> 12) & 0x1ff)
}

// NewRoot allocates and zeroes a fresh root table page from pm, returning
// its physical address.
func NewRoot(pm *pmem.Pmem) uint64 {
	ip := pm.Zalloc(1)
	if !ip.Available() {
		panic("mmu: out of physical memory allocating root table")
	}

	return ip.Addr
}

// Map installs a translation for vaddr -> paddr with the given permission
// bits, terminating at level (0 = 4 KiB page). It walks from L2 down to
// level+1, allocating fresh zeroed tables for any invalid intermediate
// entry.
func Map(root uint64, pm *pmem.Pmem, vaddr, paddr uint64, bits Bits, level int) {
	if vaddr%pmem.PageSize != 0 || paddr%pmem.PageSize != 0 {
		panic("mmu: map: address not page aligned")
	}

	if bits&rwxMask == 0 {
		panic("mmu: map: refusing to map a non-leaf as a leaf (no R/W/X)")
	}

	v2, v1, v0 := vpn(vaddr)
	indices := [3]int{v2, v1, v0}

	table := root

	for l := 2; l > level; l-- {
		idx := indices[2-l]

		entry := readEntry(pm, table, idx)
		if !entry.isValid() {
			next := NewRoot(pm)
			writeEntry(pm, table, idx, makePTE(next, Valid))
			entry = readEntry(pm, table, idx)
		}

		table = entry.ppnAddr()
	}

	idx := indices[2-level]
	writeEntry(pm, table, idx, makePTE(paddr, bits|Valid))
}

// VirtToPhys walks from L2 downward, stopping at the first leaf entry, and
// returns the translated physical address. It returns (0, false) if any
// walked entry is invalid before a leaf is reached.
func VirtToPhys(root uint64, pm *pmem.Pmem, vaddr uint64) (uint64, bool) {
	v2, v1, v0 := vpn(vaddr)
	indices := [3]int{v2, v1, v0}

	table := root

	for level := 2; level >= 0; level-- {
		idx := indices[2-level]

		entry := readEntry(pm, table, idx)
		if !entry.isValid() {
			return 0, false
		}

		if entry.isLeaf() {
			mask := uint64(1)<<(12+level*9) - 1
			phys := (entry.ppnAddr() &^ mask) | (vaddr & mask)

			return phys, true
		}

		table = entry.ppnAddr()
	}

	return 0, false
}

// Unmap performs a depth-first, post-order teardown of every intermediate
// page-table frame reachable from root, returning each to pm.
//
// Only interior (non-leaf) entries are freed here: the page a leaf entry
// points to is data the table does not own outright (kernel .text for a
// process's code mapping, or a process's user stack, freed separately by
// its owner) -- freeing it here would double-free the stack and, worse,
// hand identity-mapped kernel pages back to the allocator. See DESIGN.md
// for the reasoning behind this choice.
// The root page itself is left for the caller to free.
func Unmap(root uint64, pm *pmem.Pmem) {
	unmapLevel(root, pm, 2)
}

func unmapLevel(tableAddr uint64, pm *pmem.Pmem, level int) {
	for i := 0; i < numEntries; i++ {
		entry := readEntry(pm, tableAddr, i)
		if !entry.isValid() || entry.isLeaf() {
			continue
		}

		child := entry.ppnAddr()

		if level > 0 {
			unmapLevel(child, pm, level-1)
		}

		pm.DeallocPhys(child)
	}
}

// IDMapRange identity-maps every page covering [start, end) with the given
// bits, rounding start down to a page boundary and end up.
func IDMapRange(root uint64, pm *pmem.Pmem, start, end uint64, bits Bits) {
	startFloor := start - (start % pmem.PageSize)

	span := end - startFloor
	pages := span / pmem.PageSize
	if span%pmem.PageSize != 0 {
		pages++
	}

	if pages == 0 {
		pages = 1
	}

	for i := uint64(0); i < pages; i++ {
		addr := startFloor + i*pmem.PageSize
		Map(root, pm, addr, addr, bits, 0)
	}
}
