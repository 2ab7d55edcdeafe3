// Package syscall implements the system-call table a trap handler
// dispatches ecalls through, a port of syscall.rs's do_syscall.
package syscall

import (
	"fmt"

	"github.com/kvik-os/rv39kern/internal/kern/trapframe"
	"github.com/kvik-os/rv39kern/internal/log"
)

// Number identifies a system call; it is read out of frame.Regs[10] (a0),
// matching syscall.rs's `frame.regs[10]`.
type Number uint64

const (
	Exit Number = 0
)

// Handler services one syscall. Dispatch ignores its return value and
// always resumes at mepc+4.
type Handler func(frame *trapframe.TrapFrame) uint64

// Table dispatches syscall numbers to handlers, falling back to Unknown
// when no handler is registered, matching do_syscall's default match arm.
type Table struct {
	handlers map[Number]Handler
	log      *log.Logger
}

// NewTable returns an empty table that logs through logger.
func NewTable(logger *log.Logger) *Table {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return &Table{handlers: make(map[Number]Handler), log: logger}
}

// Register installs fn as the handler for num.
func (t *Table) Register(num Number, fn Handler) {
	t.handlers[num] = fn
}

// Dispatch runs the registered handler for frame.Regs[10], returning the
// epc to resume at: mepc+4, matching do_syscall's `mepc + 4` on every
// path -- ecall is a 4-byte instruction, so resuming past it always means
// advancing by exactly that much.
func (t *Table) Dispatch(mepc uint64, frame *trapframe.TrapFrame) uint64 {
	num := Number(frame.Regs[10])

	if fn, ok := t.handlers[num]; ok {
		fn(frame)
	} else {
		t.log.Warn("syscall: unknown system call", log.String("num", fmt.Sprintf("%#x", uint64(num))))
	}

	return mepc + 4
}
