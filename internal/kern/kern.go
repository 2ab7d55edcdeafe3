// Package kern assembles a Machine: Pmem, Kmem, the kernel's own page
// table, the scheduler, and every memory-mapped device, wired together
// the way kmain wires page.rs/uart.rs/sched.rs together in main.rs.
package kern

import (
	"fmt"
	"unsafe"

	"github.com/kvik-os/rv39kern/internal/kern/clint"
	"github.com/kvik-os/rv39kern/internal/kern/kmem"
	"github.com/kvik-os/rv39kern/internal/kern/mmio"
	"github.com/kvik-os/rv39kern/internal/kern/mmu"
	"github.com/kvik-os/rv39kern/internal/kern/plic"
	"github.com/kvik-os/rv39kern/internal/kern/pmem"
	"github.com/kvik-os/rv39kern/internal/kern/proc"
	"github.com/kvik-os/rv39kern/internal/kern/sched"
	"github.com/kvik-os/rv39kern/internal/kern/syscall"
	"github.com/kvik-os/rv39kern/internal/kern/trap"
	"github.com/kvik-os/rv39kern/internal/kern/trapframe"
	"github.com/kvik-os/rv39kern/internal/kern/uart"
	"github.com/kvik-os/rv39kern/internal/log"
	"github.com/kvik-os/rv39kern/internal/riscv"
)

// uartIRQ is the PLIC source the UART is wired to raise.
const uartIRQ = 10

// Config holds the linker-symbol-shaped values a real boot would read
// out of a linker script: where the simulated heap starts and how big it
// is, and where kernel .text/.rodata begin and end so idMapKernel can
// identity-map them.
type Config struct {
	HeapStart, HeapSize    uint64
	TextStart, TextEnd     uint64
	RODataStart, RODataEnd uint64
	DataStart, DataEnd     uint64
	Logger                 *log.Logger
}

// Machine is every kernel subsystem assembled and ready to boot.
type Machine struct {
	Pmem  *pmem.Pmem
	Kmem  *kmem.Kmem
	Alloc *kmem.Allocator
	Root  uint64 // kernel root table physical address

	Hart  *riscv.HartState
	Sched *sched.Scheduler
	Trap  *trap.Dispatcher

	Bus   *mmio.Bus
	PLIC  *plic.PLIC
	CLINT *clint.CLINT
	UART  *uart.UART

	log *log.Logger
}

// Trampoline hands control to user mode: a real kernel issues mret after
// loading mepc/satp and restoring the frame; this model has no real hart
// to mret on, so Boot calls whatever trampoline the caller supplies
// instead, recording (or acting on) the arguments as it sees fit.
type Trampoline func(framePtr uintptr, mepc, satp uint64)

// Kinit wires every subsystem together in this order: Pmem -> Kmem ->
// kernel root table -> identity mappings -> satp and the hart-0 kernel
// trap frame -> MMIO devices -> PLIC priorities for the UART line -> the
// scheduler and trap dispatcher. The scheduler starts empty: Kinit does not
// create an idle process, so callers add processes with Spawn before Boot.
func Kinit(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.DefaultLogger()
	}

	pm := pmem.New(cfg.HeapStart, cfg.HeapSize, logger)
	km := kmem.Init(pm, logger)

	alloc := &kmem.Allocator{}
	alloc.Install(km)

	root := mmu.NewRoot(pm)
	idMapKernel(root, pm, km, cfg)

	hart := riscv.NewHartState(0, logger)
	satp := riscv.BuildSATP(riscv.SatpSv39, 0, root)
	trapframe.KernelTrapFrames[0].Satp = satp
	hart.MscratchWrite(uint64(uintptr(unsafe.Pointer(&trapframe.KernelTrapFrames[0]))))
	hart.SatpWrite(satp)
	hart.SfenceVMAAll()

	bus := mmio.NewBus(logger)
	p := plic.New()
	c := clint.New()
	u := uart.New().Init()

	bus.Map(plic.Base, 0x20_0008, p)
	bus.Map(clint.Base, 0x1_0000, c)
	bus.Map(uart.Base, 0x100, u)

	p.SetPriority(uartIRQ, 1)
	p.EnableInterrupt(uartIRQ)
	p.SetThreshold(0)

	s := sched.New(logger)

	syscalls := syscall.NewTable(logger)
	td := trap.New(s, syscalls, p, c, u, logger)

	m := &Machine{
		Pmem: pm, Kmem: km, Alloc: alloc, Root: root,
		Hart: hart, Sched: s, Trap: td,
		Bus: bus, PLIC: p, CLINT: c, UART: u,
		log: logger,
	}

	syscalls.Register(syscall.Exit, m.exitHandler)

	return m
}

// exitHandler is the default handler for syscall.Exit: it tears down the
// calling process's address space, drops it from the scheduler's ring,
// and reschedules, exactly the §9 "process exit" redesign spec.md invites
// ("an implementation should do this") rather than the placeholder
// sched.rs/trap.rs shipped (epc-advance only). The calling process is
// identified via Sched.Current, since a syscall handler is only handed
// the trapping frame, not the *proc.Process it belongs to.
func (m *Machine) exitHandler(frame *trapframe.TrapFrame) uint64 {
	code := frame.Regs[11]

	p := m.Sched.Current()
	if p == nil {
		m.log.Warn("exit: no current process")
		return code
	}

	m.log.Info("process exiting",
		log.String("pid", fmt.Sprintf("%d", p.PID())),
		log.String("code", fmt.Sprintf("%d", code)))

	m.Sched.Remove(p.PID())
	p.Close(m.Pmem, m.Alloc)

	m.Sched.Schedule()

	return code
}

// idMapKernel identity-maps the Kmem arena, the Pmem descriptor table, the
// kernel's .text/.rodata (R/X) and .data (R/W) ranges, and every device
// window, mirroring the regions kmain's linker script would otherwise
// describe.
func idMapKernel(root uint64, pm *pmem.Pmem, km *kmem.Kmem, cfg Config) {
	mmu.IDMapRange(root, pm, cfg.HeapStart, cfg.HeapStart+pmem.PageSize, mmu.ReadWrite)
	mmu.IDMapRange(root, pm, km.DataStart(), km.DataStart()+pmem.PageSize<<kmem.PagesPow, mmu.ReadWrite)

	if cfg.TextStart != cfg.TextEnd {
		mmu.IDMapRange(root, pm, cfg.TextStart, cfg.TextEnd, mmu.ReadExecute)
	}

	if cfg.RODataStart != cfg.RODataEnd {
		mmu.IDMapRange(root, pm, cfg.RODataStart, cfg.RODataEnd, mmu.ReadExecute)
	}

	if cfg.DataStart != cfg.DataEnd {
		mmu.IDMapRange(root, pm, cfg.DataStart, cfg.DataEnd, mmu.ReadWrite)
	}

	mmu.IDMapRange(root, pm, uart.Base, uart.Base+0x100, mmu.ReadWrite)
	mmu.IDMapRange(root, pm, plic.Base, plic.Base+0x20_0008, mmu.ReadWrite)
	mmu.IDMapRange(root, pm, clint.Base, clint.Base+0x1_0000, mmu.ReadWrite)
}

// Spawn creates a new process running at entryPhys and enqueues it on the
// scheduler in the Running state, ready to be picked up on the next
// Schedule call.
func (m *Machine) Spawn(entryPhys uint64) *proc.Process {
	p := proc.New(m.Pmem, entryPhys)
	p.SetState(proc.Running)
	m.Sched.Add(p)

	return p
}

// Boot schedules the first runnable process and invokes trampoline with
// its frame pointer, pc, and satp, the Go stand-in for the assembly
// `mret` sequence kmain's caller would otherwise execute.
func (m *Machine) Boot(trampoline Trampoline) {
	frame, pc, satp := m.Sched.Schedule()
	if frame == nil {
		m.log.Warn("boot: no runnable process")
		return
	}

	m.CLINT.ArmNext()
	trampoline(uintptr(unsafe.Pointer(frame)), pc, satp)
}
