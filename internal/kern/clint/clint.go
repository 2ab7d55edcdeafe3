// Package clint models the core-local interruptor's mtime/mtimecmp
// registers, the timer-interrupt half of m_trap's cause-7 handler in
// trap.rs.
package clint

import "fmt"

const (
	// Base is the CLINT's memory-mapped base address.
	Base uint64 = 0x0200_0000

	// MTimeCmp0 is hart 0's mtimecmp register offset from Base.
	MTimeCmp0 uint64 = 0x0000_4000

	// MTime is the free-running mtime counter's offset from Base.
	MTime uint64 = 0x0000_bff8

	// DefaultInterval is the tick count trap.rs adds to mtime on every
	// timer interrupt to schedule the next one.
	DefaultInterval uint64 = 10_000_000
)

// CLINT is the simulated timer. Tick advances mtime by n units; nothing
// in this model runs a real clock, so advancing time is an explicit,
// caller-driven action.
type CLINT struct {
	mtime    uint64
	mtimecmp uint64
}

// New returns a CLINT with mtime and mtimecmp both zero.
func New() *CLINT { return &CLINT{} }

func (c *CLINT) Name() string { return "clint" }

// Tick advances mtime by n.
func (c *CLINT) Tick(n uint64) { c.mtime += n }

// MTime returns the current counter value.
func (c *CLINT) MTime() uint64 { return c.mtime }

// ArmNext schedules the next timer interrupt DefaultInterval ticks from
// now, matching trap.rs's `timecmp.write_volatile(time.read_volatile() +
// 10_000_000)`.
func (c *CLINT) ArmNext() {
	c.mtimecmp = c.mtime + DefaultInterval
}

// Pending reports whether mtime has reached mtimecmp.
func (c *CLINT) Pending() bool {
	return c.mtimecmp != 0 && c.mtime >= c.mtimecmp
}

func (c *CLINT) Read(off uint64, size int) (uint64, error) {
	switch off {
	case MTime:
		return c.mtime, nil
	case MTimeCmp0:
		return c.mtimecmp, nil
	default:
		return 0, fmt.Errorf("clint: read: unmapped offset %#x", off)
	}
}

func (c *CLINT) Write(off uint64, size int, val uint64) error {
	switch off {
	case MTime:
		c.mtime = val
	case MTimeCmp0:
		c.mtimecmp = val
	default:
		return fmt.Errorf("clint: write: unmapped offset %#x", off)
	}

	return nil
}
