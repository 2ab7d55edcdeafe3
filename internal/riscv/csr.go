// Package riscv models the control-status registers a RISC-V hart exposes to
// the kernel. There is no real hart underneath: every CSR is a struct field,
// and every "instruction" (csrr, csrw, sfence.vma) is a method. This mirrors
// cpu.rs's one-function-per-CSR shim, translated from inline asm to direct
// field access -- the same substitution the rest of this kernel makes for
// anything that would otherwise require real hardware.
package riscv

import (
	"fmt"

	"github.com/kvik-os/rv39kern/internal/log"
)

// SatpMode selects the paging scheme encoded in the top bits of satp.
type SatpMode uint64

const (
	SatpOff  SatpMode = 0
	SatpSv39 SatpMode = 8
	SatpSv48 SatpMode = 9
)

// NumHarts bounds the per-hart CSR table. This model runs a single hart;
// it is sized the way cpu.rs's KERNEL_TRAP_FRAME [TrapFrame; 8] is, so a
// second hart is an index away and never built.
const NumHarts = 8

// HartState is the simulated CSR file for one hart.
type HartState struct {
	id       uint64
	mstatus  uint64
	mscratch uint64
	sscratch uint64
	stvec    uint64
	sepc     uint64
	satp     uint64

	log *log.Logger
}

// NewHartState creates the CSR file for hart id, logging through logger (the
// package default is used when logger is nil).
func NewHartState(id uint64, logger *log.Logger) *HartState {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return &HartState{id: id, log: logger}
}

// MHartID returns the hart's id, as the mhartid CSR would.
func (h *HartState) MHartID() uint64 { return h.id }

func (h *HartState) MstatusRead() uint64     { return h.mstatus }
func (h *HartState) MstatusWrite(v uint64)   { h.mstatus = v }
func (h *HartState) MscratchRead() uint64    { return h.mscratch }
func (h *HartState) MscratchWrite(v uint64)  { h.mscratch = v }
func (h *HartState) SscratchRead() uint64    { return h.sscratch }
func (h *HartState) SscratchWrite(v uint64)  { h.sscratch = v }
func (h *HartState) StvecRead() uint64       { return h.stvec }
func (h *HartState) StvecWrite(v uint64)     { h.stvec = v }
func (h *HartState) SepcRead() uint64        { return h.sepc }
func (h *HartState) SepcWrite(v uint64)      { h.sepc = v }
func (h *HartState) SatpRead() uint64        { return h.satp }

// SatpWrite loads satp. Callers must follow with SfenceVMA for the write to
// be architecturally visible, per the RISC-V privileged spec's memory-model
// rules for address-translation changes.
func (h *HartState) SatpWrite(v uint64) {
	h.satp = v
}

// MscratchSwap is csrrw mscratch, to: it writes to and returns the previous
// value in one step, the way the trap entry trampoline exchanges mscratch
// for the interrupted context's register and the trap frame pointer.
func (h *HartState) MscratchSwap(to uint64) uint64 {
	from := h.mscratch
	h.mscratch = to

	return from
}

// SfenceVMA models "sfence.vma vaddr, asid". There is no real TLB to flush,
// so this only logs the fence for observability -- the same substitution
// elsie makes for hardware it cannot simulate meaningfully.
func (h *HartState) SfenceVMA(vaddr, asid uint64) {
	h.log.Debug("sfence.vma", log.String("hart", fmt.Sprintf("%d", h.id)),
		log.String("vaddr", fmt.Sprintf("%#x", vaddr)),
		log.String("asid", fmt.Sprintf("%#x", asid)))
}

// SfenceVMAAll models "sfence.vma zero, zero".
func (h *HartState) SfenceVMAAll() {
	h.SfenceVMA(0, 0)
}

// BuildSATP assembles the satp CSR value for mode, asid and a physical root
// table address, bit-for-bit matching cpu::build_satp.
func BuildSATP(mode SatpMode, asid uint16, addr uint64) uint64 {
	return uint64(mode)<<60 | uint64(asid)<<44 | (addr>>12)&0xff_ffff_ffff
}
