package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kvik-os/rv39kern/internal/cli"
	"github.com/kvik-os/rv39kern/internal/kern"
	"github.com/kvik-os/rv39kern/internal/kern/pmem"
	"github.com/kvik-os/rv39kern/internal/kern/proc"
	"github.com/kvik-os/rv39kern/internal/kern/syscall"
	"github.com/kvik-os/rv39kern/internal/log"
)

// Boot returns the command that assembles a Machine and runs it through one
// boot-schedule-trap cycle.
func Boot() cli.Command {
	return new(boot)
}

type boot struct {
	debug bool
	quiet bool
}

func (boot) Description() string {
	return "boot the kernel and run one scheduling cycle"
}

func (b boot) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `
boot [ -debug | -quiet ]

Assemble a Machine (Pmem, Kmem, kernel page table, scheduler, PLIC/CLINT/UART),
spawn a process, and boot it. The process immediately issues an exit system
call, which the trap dispatcher routes back to the scheduler.`)

	return err
}

func (b *boot) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)

	fs.BoolVar(&b.debug, "debug", false, "enable debug logging")
	fs.BoolVar(&b.quiet, "quiet", false, "enable quiet output")

	return fs
}

// heapSize is large enough for the kernel root table, a handful of process
// tables and stacks, and the Kmem arena this demo carves out of it.
const heapSize = pmem.PageSize * 4096

func (b boot) Run(ctx context.Context, args []string, out io.Writer, _ *log.Logger) int {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if b.quiet {
		log.LogLevel.Set(log.Error)
	}

	if b.debug {
		log.LogLevel.Set(log.Debug)
	}

	logger := log.NewFormattedLogger(os.Stdout)
	log.SetDefault(logger)
	log.DefaultLogger = func() *log.Logger {
		return logger
	}

	logger.Info("initializing machine")

	m := kern.Kinit(kern.Config{
		HeapStart: 0x8000_0000,
		HeapSize:  heapSize,
		Logger:    logger,
	})

	entry := m.Pmem.Alloc(1)
	logger.Info("spawning process", "entry", fmt.Sprintf("%#x", entry.Addr))

	// kern.Kinit already registered the default Exit handler (it tears
	// down the process, drops it from the scheduler, and reschedules);
	// this command only needs to arrange for the process to issue the
	// ecall, the way a real user program's `exit()` libcall would.
	const exitCode = 0

	p := m.Spawn(entry.Addr)
	p.Frame.Regs[10] = uint64(syscall.Exit)
	p.Frame.Regs[11] = exitCode

	pid := p.PID()

	m.Boot(func(framePtr uintptr, mepc, satp uint64) {
		logger.Info("boot: trampoline invoked", "pc", fmt.Sprintf("%#x", mepc), "satp", fmt.Sprintf("%#x", satp))

		ecallCause := uint64(9) // CauseEcallS: the process traps into the kernel to exit.
		m.Trap.MTrap(mepc, 0, ecallCause, 0, 0, &p.Frame)
	})

	select {
	case <-ctx.Done():
		logger.Warn("boot: timed out waiting for exit")
		return 1
	default:
	}

	if p.State() != proc.Dead {
		logger.Error("boot: process did not exit", "pid", pid, "state", p.State().String())
		return 1
	}

	fmt.Fprintf(out, "process %d exited: %d\n", pid, exitCode)
	logger.Info("boot completed")

	return 0
}
