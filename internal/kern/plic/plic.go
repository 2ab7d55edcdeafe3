// Package plic models the platform-level interrupt controller's
// enable/priority/threshold/claim registers, a direct port of the
// plic module in trap.rs.
package plic

import "fmt"

const (
	// Base is the PLIC's memory-mapped base address.
	Base uint64 = 0xc00_0000

	// Enable0To31 is the offset of the enable bits for interrupt IDs 0-31.
	Enable0To31 uint64 = 0x2000

	// Hart0MThreshold is the offset of hart 0's machine-mode priority threshold.
	Hart0MThreshold uint64 = 0x20_0000

	// ClaimComplete is the offset of the claim/complete register.
	ClaimComplete uint64 = 0x20_0004
)

const numSources = 32

// PLIC tracks per-source priority, the enable bitmask, the threshold, and
// a pending bitmask sources raise themselves into via Raise.
type PLIC struct {
	priority  [numSources]uint32
	enable    uint32
	threshold uint8
	pending   uint32
}

// New returns a PLIC with all sources disabled and priority 0.
func New() *PLIC {
	return &PLIC{}
}

func (p *PLIC) Name() string { return "plic" }

// EnableInterrupt enables source id (0-31), matching plic::enable_interrupt.
func (p *PLIC) EnableInterrupt(id uint32) {
	if id > 31 {
		panic("plic: enable_interrupt: id out of range")
	}

	p.enable |= 1 << id
}

// SetPriority assigns a 0-7 priority to source id.
func (p *PLIC) SetPriority(id uint32, prio uint8) {
	if id > 31 {
		panic("plic: set_priority: id out of range")
	}

	if prio > 7 {
		panic("plic: set_priority: priority out of range")
	}

	p.priority[id] = uint32(prio)
}

// SetThreshold sets the priority threshold below which claims are masked.
func (p *PLIC) SetThreshold(t uint8) {
	p.threshold = t & 7
}

// Raise marks source id pending. A device calls this instead of asserting
// a physical interrupt line.
func (p *PLIC) Raise(id uint32) {
	if id > 31 {
		panic("plic: raise: id out of range")
	}

	p.pending |= 1 << id
}

// Claim returns the highest-priority pending, enabled source above
// threshold, or (0, false) if none, matching plic::claim's
// Option<NonZeroU32> semantics (id 0 is never a valid source).
func (p *PLIC) Claim() (uint32, bool) {
	var (
		best     uint32
		bestPrio uint32
	)

	for id := uint32(1); id < numSources; id++ {
		if p.pending&(1<<id) == 0 || p.enable&(1<<id) == 0 {
			continue
		}

		if p.priority[id] <= uint32(p.threshold) {
			continue
		}

		if best == 0 || p.priority[id] > bestPrio {
			best = id
			bestPrio = p.priority[id]
		}
	}

	if best == 0 {
		return 0, false
	}

	return best, true
}

// Complete clears id's pending bit, matching plic::complete.
func (p *PLIC) Complete(id uint32) {
	p.pending &^= 1 << id
}

// Read serves the claim register and the enable/threshold registers over
// the MMIO bus.
func (p *PLIC) Read(off uint64, size int) (uint64, error) {
	switch off {
	case ClaimComplete:
		id, ok := p.Claim()
		if !ok {
			return 0, nil
		}

		return uint64(id), nil
	case Enable0To31:
		return uint64(p.enable), nil
	case Hart0MThreshold:
		return uint64(p.threshold), nil
	default:
		if off < numSources*4 {
			return uint64(p.priority[off/4]), nil
		}

		return 0, fmt.Errorf("plic: read: unmapped offset %#x", off)
	}
}

// Write serves writes to the enable/threshold/priority/claim registers.
func (p *PLIC) Write(off uint64, size int, val uint64) error {
	switch off {
	case ClaimComplete:
		p.Complete(uint32(val))
	case Enable0To31:
		p.enable = uint32(val)
	case Hart0MThreshold:
		p.SetThreshold(uint8(val))
	default:
		if off < numSources*4 {
			p.priority[off/4] = uint32(val)
			return nil
		}

		return fmt.Errorf("plic: write: unmapped offset %#x", off)
	}

	return nil
}
