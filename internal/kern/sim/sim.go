// Package sim provides a minimal trap-only process model so tests and the
// CLI can drive a full boot -> schedule -> trap -> syscall -> reschedule
// loop without a real RISC-V instruction interpreter, which stays out of
// scope for this kernel model.
//
// A "user task" is a Go closure given a *TaskContext. Calling ctx.Ecall
// pushes a synthetic ecall trap (cause 8, ECALL from U-mode) through the
// machine's trap dispatcher, exactly as a real `ecall` instruction would
// trap into m_trap. ctx.Tick advances a simulated instruction counter,
// letting a task invite timer pressure without a real clock.
package sim

import (
	"github.com/kvik-os/rv39kern/internal/kern"
	"github.com/kvik-os/rv39kern/internal/kern/proc"
	"github.com/kvik-os/rv39kern/internal/kern/syscall"
)

// causeEcallU is the synchronous mcause value for an ecall from U-mode,
// matching trap.CauseEcallU.
const causeEcallU = 8

// Task is a user task body: the closure a test or demo runs under the
// machine's scheduler and trap dispatcher.
type Task func(ctx *TaskContext)

// TaskContext lets a Task issue synthetic ecalls and timer ticks against
// the Machine and Process it is running under.
type TaskContext struct {
	Machine *kern.Machine
	Process *proc.Process

	instructions uint64
}

// Ecall sets a0 to num and a1 to the syscall argument, then routes a
// synthetic ecall trap through the machine's dispatcher, returning
// whatever value the registered handler wrote back into a0.
func (c *TaskContext) Ecall(num syscall.Number, arg uint64) uint64 {
	frame := &c.Process.Frame
	frame.Regs[10] = uint64(num)
	frame.Regs[11] = arg

	mepc := c.Process.PC()
	c.Machine.Trap.MTrap(mepc, 0, causeEcallU, 0, 0, frame)
	c.Process.SetPC(mepc + 4)

	return frame.Regs[10]
}

// Tick advances the simulated instruction counter by n. Exceeding
// Machine.CLINT's armed deadline is left to the caller to drive by reading
// Machine.CLINT.Pending and dispatching a timer trap -- Tick only tracks
// the count a real timer/instret comparison would consult.
func (c *TaskContext) Tick(n uint64) {
	c.instructions += n
}

// Instructions returns the simulated instruction count Tick has
// accumulated.
func (c *TaskContext) Instructions() uint64 {
	return c.instructions
}

// Run spawns a process at entryPhys, wraps it in a TaskContext, and runs
// task synchronously to completion. It does not itself call Machine.Boot;
// callers that want the scheduler to pick the task up on its own first
// Schedule call should call Machine.Spawn and Machine.Boot directly and
// use Run only for the ecall-driving half.
func Run(m *kern.Machine, entryPhys uint64, task Task) *TaskContext {
	p := m.Spawn(entryPhys)
	ctx := &TaskContext{Machine: m, Process: p}

	task(ctx)

	return ctx
}
