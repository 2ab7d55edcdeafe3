// Package proc implements user processes: their address space, register
// state, and lifecycle, a direct port of process.rs's Process.
package proc

import (
	"fmt"

	"github.com/kvik-os/rv39kern/internal/kern/kmem"
	"github.com/kvik-os/rv39kern/internal/kern/mmu"
	"github.com/kvik-os/rv39kern/internal/kern/pmem"
	"github.com/kvik-os/rv39kern/internal/kern/trapframe"
	"github.com/kvik-os/rv39kern/internal/log"
)

const (
	// StackPages is the number of 4 KiB pages mapped for a process's user
	// stack, matching process.rs's STACK_PAGES.
	StackPages = 2

	// StartAddr is the fixed virtual address every process's entry point
	// is mapped at.
	StartAddr = 0x2000_0000

	// StackAddr is the fixed virtual base of every process's user stack.
	StackAddr = 0xf_0000_0000
)

// State is a process's scheduling state.
type State int

const (
	Running State = iota
	Sleeping
	Waiting
	Dead
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Sleeping:
		return "Sleeping"
	case Waiting:
		return "Waiting"
	case Dead:
		return "Dead"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Process is a user task: its trap frame, its user stack frame, its
// program counter, its page table root, and its scheduling state.
type Process struct {
	Frame trapframe.TrapFrame
	stack pmem.IPage
	pc    uint64
	pid   uint16
	root  uint64
	state State
}

var nextPID uint16

// New carves out a fresh process running entryPhys, exactly as
// process.rs::Process::new: it allocates a two-page user stack, a fresh
// root table, user mappings of the stack at StackAddr and of two pages of
// code starting at entryPhys (rounded down to a page boundary) at
// StartAddr, sets pc to StartAddr plus entryPhys's offset within its page,
// and seeds the initial stack pointer into Frame.Regs[2] (the RISC-V ABI's
// sp).
func New(pm *pmem.Pmem, entryPhys uint64) *Process {
	stack := pm.Alloc(StackPages)
	if !stack.Available() {
		panic("proc: out of physical memory allocating user stack")
	}

	root := mmu.NewRoot(pm)

	p := &Process{
		Frame: trapframe.Zero(),
		stack: stack,
		pc:    StartAddr | (entryPhys & (pmem.PageSize - 1)),
		pid:   nextPID,
		root:  root,
		state: Waiting,
	}
	nextPID++

	p.Frame.Regs[2] = StackAddr + pmem.PageSize*StackPages

	for i := uint64(0); i < StackPages; i++ {
		mmu.Map(root, pm,
			StackAddr+i*pmem.PageSize,
			stack.Addr+i*pmem.PageSize,
			mmu.ReadWrite|mmu.User, 0)
	}

	funcPage := entryPhys &^ (pmem.PageSize - 1)

	mmu.Map(root, pm, StartAddr, funcPage, mmu.User|mmu.ReadExecute, 0)
	mmu.Map(root, pm, StartAddr+pmem.PageSize, funcPage+pmem.PageSize, mmu.User|mmu.ReadExecute, 0)

	return p
}

// Close tears down the process's address space, returning its page-table
// frames and user stack to pm, matching process.rs's Drop impl.
func (p *Process) Close(pm *pmem.Pmem, alloc *kmem.Allocator) {
	mmu.Unmap(p.root, pm)
	pm.DeallocPhys(p.root)
	pm.Dealloc(p.stack)

	p.state = Dead
}

func (p *Process) PID() uint16      { return p.pid }
func (p *Process) PC() uint64       { return p.pc }
func (p *Process) SetPC(pc uint64)  { p.pc = pc }
func (p *Process) Root() uint64     { return p.root }
func (p *Process) State() State     { return p.state }
func (p *Process) SetState(s State) { p.state = s }

// LogValue renders a process for structured logging.
func (p *Process) LogValue() log.Value {
	return log.GroupValue(
		log.String("pid", fmt.Sprintf("%d", p.pid)),
		log.String("state", p.state.String()),
		log.String("pc", fmt.Sprintf("%#x", p.pc)),
	)
}
