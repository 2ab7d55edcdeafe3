package trap

import (
	"testing"

	"github.com/kvik-os/rv39kern/internal/kern/clint"
	"github.com/kvik-os/rv39kern/internal/kern/plic"
	"github.com/kvik-os/rv39kern/internal/kern/sched"
	"github.com/kvik-os/rv39kern/internal/kern/syscall"
	"github.com/kvik-os/rv39kern/internal/kern/trapframe"
	"github.com/kvik-os/rv39kern/internal/kern/uart"
)

func newTestDispatcher() *Dispatcher {
	return New(sched.New(nil), syscall.NewTable(nil), plic.New(), clint.New(), uart.New().Init(), nil)
}

func TestMTrapDispatchesEcallToSyscallTable(t *testing.T) {
	d := newTestDispatcher()

	exited := false
	d.Syscalls.Register(syscall.Exit, func(f *trapframe.TrapFrame) uint64 {
		exited = true
		return 0
	})

	frame := trapframe.Zero()
	frame.Regs[10] = uint64(syscall.Exit)

	epc, nextFrame, _, _ := d.MTrap(0x1000, 0, CauseEcallU, 0, 0, &frame)

	if !exited {
		t.Fatal("expected syscall handler to run")
	}

	if epc != 0x1004 {
		t.Fatalf("epc = %#x, want %#x", epc, 0x1004)
	}

	if nextFrame != nil {
		t.Fatal("expected no frame switch on a syscall trap")
	}
}

func TestMTrapTimerInterruptSchedules(t *testing.T) {
	d := newTestDispatcher()

	cause := CauseMachineTimer | (uint64(1) << 63)

	epc, _, _, _ := d.MTrap(0x2000, 0, cause, 0, 0, &trapframe.TrapFrame{})

	if epc != 0x2000 {
		t.Fatalf("epc = %#x, want unchanged %#x", epc, 0x2000)
	}

	if d.CLINT.Pending() {
		t.Fatal("ArmNext should schedule the next interrupt in the future, not immediately")
	}
}

func TestMTrapIllegalInstructionPanics(t *testing.T) {
	d := newTestDispatcher()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on illegal instruction")
		}
	}()

	d.MTrap(0x3000, 0, CauseIllegalInstruction, 0, 0, &trapframe.TrapFrame{})
}
