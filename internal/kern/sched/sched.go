// Package sched implements the round-robin scheduler, a port of sched.rs's
// Scheduler: a ring of processes rotated one slot per call to Schedule,
// with the front-of-ring process handed back to the caller to resume.
package sched

import (
	"fmt"

	"github.com/kvik-os/rv39kern/internal/kern/proc"
	"github.com/kvik-os/rv39kern/internal/kern/trapframe"
	"github.com/kvik-os/rv39kern/internal/log"
	"github.com/kvik-os/rv39kern/internal/riscv"
)

// Scheduler is a FIFO ring of processes. Schedule rotates it left by one
// and returns the new front entry if runnable.
type Scheduler struct {
	procs []*proc.Process
	log   *log.Logger
}

// New creates an empty Scheduler. Callers add the initial process with Add.
func New(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return &Scheduler{log: logger}
}

// Add enqueues p at the back of the ring.
func (s *Scheduler) Add(p *proc.Process) {
	s.procs = append(s.procs, p)
}

// Remove drops the process with the given pid from the ring, returning it.
// This is the scheduler-side half of process exit: sched.rs has no
// equivalent (its Scheduler never shrinks), since it never reclaims
// processes; a kernel whose syscalls include exit needs the ring to drop
// entries, so Remove is new here rather than ported.
func (s *Scheduler) Remove(pid uint16) *proc.Process {
	for i, p := range s.procs {
		if p.PID() == pid {
			s.procs = append(s.procs[:i], s.procs[i+1:]...)
			return p
		}
	}

	return nil
}

// Len reports the number of processes in the ring.
func (s *Scheduler) Len() int { return len(s.procs) }

// Current returns the process at the front of the ring -- after a Schedule
// call, the one it rotated to the front -- or nil if the ring is empty.
// Before the first Schedule call it is the first process added. A syscall handler uses this to find which process trapped into
// it, since MTrap is only given that process's *trapframe.TrapFrame, not
// its *proc.Process.
func (s *Scheduler) Current() *proc.Process {
	if len(s.procs) == 0 {
		return nil
	}

	return s.procs[0]
}

// Schedule rotates the ring left by one slot and returns the trap frame,
// program counter, and satp value to resume the new front process with,
// matching sched.rs::schedule. If the ring is empty or the front process
// is not Running, it returns (nil, 0, 0).
func (s *Scheduler) Schedule() (*trapframe.TrapFrame, uint64, uint64) {
	if len(s.procs) == 0 {
		return nil, 0, 0
	}

	s.procs = append(s.procs[1:], s.procs[0])

	front := s.procs[0]
	if front.State() != proc.Running {
		s.log.Debug("schedule: front process not runnable",
			log.String("pid", fmt.Sprintf("%d", front.PID())),
			log.String("state", front.State().String()))

		return nil, 0, 0
	}

	satp := riscv.BuildSATP(riscv.SatpSv39, front.PID(), front.Root())

	return &front.Frame, front.PC(), satp
}
