// Package trapframe defines the per-hart register save area the trap
// trampoline spills into and restores from, a direct port of cpu.rs's
// TrapFrame.
package trapframe

// NumHarts bounds the kernel trap frame table, matching riscv.NumHarts.
const NumHarts = 8

// TrapFrame is the register save area swapped in via sscratch/mscratch on
// trap entry. Field order and width mirror cpu.rs's #[repr(C)] struct: a
// real trap trampoline addresses these fields by fixed byte offset, so the
// layout here is load-bearing even though nothing in this kernel encodes
// that offset in assembly.
type TrapFrame struct {
	Regs  [32]uint64
	FRegs [32]uint64
	Satp  uint64
	Stack uint64 // kernel stack pointer restored into sp on trap entry
	HartID uint64
}

// Zero returns a cleared TrapFrame, matching cpu.rs's TrapFrame::zero().
func Zero() TrapFrame {
	return TrapFrame{}
}

// KernelTrapFrames mirrors cpu::KERNEL_TRAP_FRAME: one frame per hart,
// used while the hart is executing in a context with no process of its
// own (early boot, the scheduler's idle loop).
var KernelTrapFrames [NumHarts]TrapFrame

// Reset clears frame i back to zero.
func Reset(i int) {
	KernelTrapFrames[i] = TrapFrame{}
}
