package kern

import (
	"testing"

	"github.com/kvik-os/rv39kern/internal/kern/clint"
	"github.com/kvik-os/rv39kern/internal/kern/pmem"
	"github.com/kvik-os/rv39kern/internal/kern/proc"
	"github.com/kvik-os/rv39kern/internal/kern/syscall"
)

func testConfig() Config {
	return Config{
		HeapStart: 0x8000_0000,
		HeapSize:  pmem.PageSize * 4096,
	}
}

func TestKinitWiresDevicesOntoBus(t *testing.T) {
	m := Kinit(testConfig())

	if _, err := m.Bus.Load(0x1000_0005, 1); err != nil { // uart LSR
		t.Fatalf("uart not reachable on bus: %v", err)
	}

	if _, err := m.Bus.Load(clint.Base+clint.MTime, 8); err != nil {
		t.Fatalf("clint not reachable on bus: %v", err)
	}
}

func TestBootWithNoProcessesWarnsAndReturns(t *testing.T) {
	m := Kinit(testConfig())

	called := false
	m.Boot(func(framePtr uintptr, mepc, satp uint64) {
		called = true
	})

	if called {
		t.Fatal("expected trampoline not to be invoked with no runnable process")
	}
}

func TestSpawnThenBootInvokesTrampoline(t *testing.T) {
	m := Kinit(testConfig())

	entry := m.Pmem.Zalloc(2)
	m.Spawn(entry.Addr)

	var gotPC, gotSatp uint64
	var called bool

	m.Boot(func(framePtr uintptr, mepc, satp uint64) {
		called = true
		gotPC = mepc
		gotSatp = satp
	})

	if !called {
		t.Fatal("expected trampoline to be invoked")
	}

	if gotPC == 0 || gotSatp == 0 {
		t.Fatalf("expected non-zero pc/satp, got (%#x,%#x)", gotPC, gotSatp)
	}
}

// TestExitSyscallTearsDownProcessAndReschedules drives a real ecall
// through the trap dispatcher and checks that the default Exit handler
// Kinit wires in actually closes the process and drops it from the
// scheduler, rather than just advancing epc.
func TestExitSyscallTearsDownProcessAndReschedules(t *testing.T) {
	m := Kinit(testConfig())

	entry := m.Pmem.Zalloc(2)
	p := m.Spawn(entry.Addr)
	p.Frame.Regs[10] = uint64(syscall.Exit)
	p.Frame.Regs[11] = 7 // exit code

	if m.Sched.Len() != 1 {
		t.Fatalf("len = %d, want 1 before exit", m.Sched.Len())
	}

	m.Boot(func(framePtr uintptr, mepc, satp uint64) {
		const causeEcallS = 9
		m.Trap.MTrap(mepc, 0, causeEcallS, 0, 0, &p.Frame)
	})

	if p.State() != proc.Dead {
		t.Fatalf("state = %s, want Dead", p.State())
	}

	if m.Sched.Len() != 0 {
		t.Fatalf("len = %d, want 0 after exit", m.Sched.Len())
	}

	if m.Sched.Current() != nil {
		t.Fatal("expected no current process after the ring emptied")
	}
}
