package sim_test

import (
	"testing"

	"github.com/kvik-os/rv39kern/internal/kern"
	"github.com/kvik-os/rv39kern/internal/kern/pmem"
	"github.com/kvik-os/rv39kern/internal/kern/sim"
	"github.com/kvik-os/rv39kern/internal/kern/syscall"
	"github.com/kvik-os/rv39kern/internal/kern/trapframe"
)

func testMachine(t *testing.T) *kern.Machine {
	t.Helper()

	return kern.Kinit(kern.Config{
		HeapStart: 0x8000_0000,
		HeapSize:  pmem.PageSize * 4096,
	})
}

func TestEcallRunsRegisteredHandlerAndAdvancesPC(t *testing.T) {
	m := testMachine(t)

	var gotArg uint64

	m.Trap.Syscalls.Register(syscall.Exit, func(frame *trapframe.TrapFrame) uint64 {
		gotArg = frame.Regs[11]
		return 0
	})

	entry := m.Pmem.Alloc(1)

	var pcAfter uint64

	sim.Run(m, entry.Addr, func(ctx *sim.TaskContext) {
		pcBefore := ctx.Process.PC()

		ctx.Ecall(syscall.Exit, 42)

		pcAfter = ctx.Process.PC()

		if pcAfter != pcBefore+4 {
			t.Errorf("pc: got %#x, want %#x", pcAfter, pcBefore+4)
		}
	})

	if gotArg != 42 {
		t.Errorf("exit arg: got %d, want 42", gotArg)
	}
}

func TestTickAccumulatesInstructionCount(t *testing.T) {
	m := testMachine(t)
	entry := m.Pmem.Alloc(1)

	ctx := sim.Run(m, entry.Addr, func(ctx *sim.TaskContext) {
		ctx.Tick(10)
		ctx.Tick(5)
	})

	if got := ctx.Instructions(); got != 15 {
		t.Errorf("instructions: got %d, want 15", got)
	}
}
