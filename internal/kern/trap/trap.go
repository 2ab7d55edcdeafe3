// Package trap implements the machine-mode trap dispatcher, a port of
// trap.rs's m_trap: it splits a raw mcause into synchronous/asynchronous
// halves and routes to the scheduler, the syscall table, or a fatal panic.
package trap

import (
	"fmt"

	"github.com/kvik-os/rv39kern/internal/kern/clint"
	"github.com/kvik-os/rv39kern/internal/kern/plic"
	"github.com/kvik-os/rv39kern/internal/kern/sched"
	"github.com/kvik-os/rv39kern/internal/kern/syscall"
	"github.com/kvik-os/rv39kern/internal/kern/trapframe"
	"github.com/kvik-os/rv39kern/internal/kern/uart"
	"github.com/kvik-os/rv39kern/internal/log"
)

// asyncBit marks an asynchronous (interrupt) cause, matching mcause's
// top bit in the RISC-V privileged spec.
const asyncBit = uint64(1) << 63

// Asynchronous cause codes.
const (
	CauseMachineSoftware = 3
	CauseMachineTimer    = 7
	CauseMachineExternal = 11
)

// Synchronous cause codes.
const (
	CauseIllegalInstruction = 2
	CauseEcallU             = 8
	CauseEcallS             = 9
	CauseEcallM             = 11
	CauseInstrPageFault     = 12
	CauseLoadPageFault      = 13
	CauseStorePageFault     = 15
)

// uartIRQ is the PLIC source ID the UART raises, matching trap.rs's
// hardcoded `10` in its external-interrupt match arm.
const uartIRQ = 10

// Dispatcher holds the devices and kernel subsystems m_trap reaches into.
type Dispatcher struct {
	Sched    *sched.Scheduler
	Syscalls *syscall.Table
	PLIC     *plic.PLIC
	CLINT    *clint.CLINT
	UART     *uart.UART
	log      *log.Logger
}

// New wires a Dispatcher from its constituent subsystems.
func New(s *sched.Scheduler, sc *syscall.Table, p *plic.PLIC, c *clint.CLINT, u *uart.UART, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return &Dispatcher{Sched: s, Syscalls: sc, PLIC: p, CLINT: c, UART: u, log: logger}
}

// MTrap is the trap entry point, matching m_trap's signature and
// async/sync split on cause bit 63. It returns the epc to resume at, and
// for a timer interrupt, the (frame, pc, satp) triple to switch to --
// callers ignore the triple on every other path.
func (d *Dispatcher) MTrap(epc, tval, cause, hart, status uint64, frame *trapframe.TrapFrame) (
	retEPC uint64, nextFrame *trapframe.TrapFrame, nextPC, nextSatp uint64,
) {
	isAsync := cause&asyncBit != 0
	cause &= 0xfff

	if isAsync {
		return d.handleAsync(epc, cause, hart, frame)
	}

	return d.handleSync(epc, tval, cause, hart, frame), nil, 0, 0
}

func (d *Dispatcher) handleAsync(epc, cause, hart uint64, frame *trapframe.TrapFrame) (
	uint64, *trapframe.TrapFrame, uint64, uint64,
) {
	switch cause {
	case CauseMachineSoftware:
		d.log.Info("machine software interrupt", log.String("hart", fmt.Sprintf("%d", hart)))
		return epc, nil, 0, 0

	case CauseMachineTimer:
		d.log.Info("timer interrupt")

		nextFrame, nextPC, nextSatp := d.Sched.Schedule()
		d.CLINT.ArmNext()

		return epc, nextFrame, nextPC, nextSatp

	case CauseMachineExternal:
		d.handleExternal()
		return epc, nil, 0, 0

	default:
		panic(fmt.Sprintf("trap: unhandled async cause CPU#%d -> %d", hart, cause))
	}
}

func (d *Dispatcher) handleExternal() {
	id, ok := d.PLIC.Claim()
	if !ok {
		return
	}

	if id == uartIRQ {
		if c, ok := d.UART.Get(); ok {
			d.log.Debug("uart: received byte", log.String("byte", fmt.Sprintf("%#x", c)))
		}
	} else {
		d.log.Warn("trap: non-UART external interrupt", log.String("id", fmt.Sprintf("%d", id)))
	}

	d.PLIC.Complete(id)
}

func (d *Dispatcher) handleSync(epc, tval, cause, hart uint64, frame *trapframe.TrapFrame) uint64 {
	switch cause {
	case CauseIllegalInstruction:
		panic(fmt.Sprintf("illegal instruction CPU#%d -> %#x: %#x", hart, epc, tval))

	case CauseEcallU, CauseEcallS:
		return d.Syscalls.Dispatch(epc, frame)

	case CauseEcallM:
		panic(fmt.Sprintf("e-call from machine mode CPU#%d -> %#x", hart, epc))

	case CauseInstrPageFault:
		panic(fmt.Sprintf("instruction page fault CPU#%d -> %#x: %#x", hart, epc, tval))

	case CauseLoadPageFault:
		panic(fmt.Sprintf("load page fault CPU#%d -> %#x: %#x", hart, epc, tval))

	case CauseStorePageFault:
		panic(fmt.Sprintf("store page fault CPU#%d -> %#x: %#x", hart, epc, tval))

	default:
		panic(fmt.Sprintf("unhandled sync trap CPU#%d -> %d", hart, cause))
	}
}
