package kmem

import "math/bits"

// Allocator is the process-wide global-allocator surface: it wraps an
// optional *Kmem and computes the buddy power from a requested byte size.
// Before Install is called, Alloc returns 0 (this model's "null").
//
// A real kernel would install this behind the runtime's memory-allocation
// hooks; this kernel has no user-space allocator of its own to hook, so
// Install/Alloc/Free stand in for that wiring and are driven directly by
// kinit and tests. See DESIGN.md for the global-singleton tradeoff this
// makes.
type Allocator struct {
	kmem *Kmem
}

// Install wires k as the backing allocator.
func (a *Allocator) Install(k *Kmem) { a.kmem = k }

// Installed reports whether a Kmem has been wired in.
func (a *Allocator) Installed() bool { return a.kmem != nil }

// Alloc computes pow = max(MinSizePow, ceil(log2(size))) and returns
// kzalloc(pow)'s address, or 0 if no Kmem has been installed yet.
func (a *Allocator) Alloc(size uint64) uint64 {
	if a.kmem == nil {
		return 0
	}

	pow := MinSizePow
	if need := ceilLog2(size); need > pow {
		pow = need
	}

	return a.kmem.Kzalloc(pow)
}

// Free releases a block previously returned by Alloc.
func (a *Allocator) Free(addr uint64) {
	if a.kmem == nil || addr == 0 {
		return
	}

	a.kmem.Kfree(addr)
}

// ceilLog2 returns the smallest n such that 2^n >= size.
func ceilLog2(size uint64) int {
	if size <= 1 {
		return 0
	}

	n := bits.Len64(size - 1)

	return n
}
