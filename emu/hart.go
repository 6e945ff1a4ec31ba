// Package emu provides functional RV32 hart emulation.
package emu

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/sarchlab/osmium/insts"
	"github.com/sarchlab/osmium/paging"
)

// Errors reported by Run and by kernel-mode memory accesses.
var (
	ErrMaxInstructions = errors.New("max instructions reached")
	ErrKernelReturned  = errors.New("kernel code returned without restoring a context")
	ErrKernelPanic     = errors.New("kernel panic")
	ErrAccessFault     = errors.New("kernel access fault")
)

// event is what a kernel-context goroutine leaves behind when it gives up
// the hart.
type event struct {
	frame RegFile
	halt  bool
	err   error
}

// Hart is a single RV32 hardware thread. User code runs on the goroutine
// that called Run; kernel code (boot and trap handlers) runs on a fresh
// goroutine per entry, and exactly one of the two is active at any time.
type Hart struct {
	regFile *RegFile
	ram     *RAM
	tlb     *TLB
	mmu     *MMU
	decoder *insts.Decoder

	// Execution units
	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit

	interrupts bool
	events     chan event
	pending    *event

	tlbSets int
	tlbWays int

	// Execution state
	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
}

// HartOption is a functional option for configuring the Hart.
type HartOption func(*Hart)

// WithMaxInstructions sets the maximum number of user instructions to
// execute. A value of 0 means no limit.
func WithMaxInstructions(max uint64) HartOption {
	return func(h *Hart) {
		h.maxInstructions = max
	}
}

// WithTLBGeometry sets the number of TLB sets and ways.
func WithTLBGeometry(sets, ways int) HartOption {
	return func(h *Hart) {
		h.tlbSets = sets
		h.tlbWays = ways
	}
}

// NewHart creates a hart attached to ram, in bare translation mode with
// interrupts disabled.
func NewHart(ram *RAM, opts ...HartOption) *Hart {
	h := &Hart{
		regFile: &RegFile{},
		ram:     ram,
		decoder: insts.NewDecoder(),
		events:  make(chan event),
		tlbSets: 16,
		tlbWays: 4,
	}

	for _, opt := range opts {
		opt(h)
	}

	h.tlb = NewTLB(h.tlbSets, h.tlbWays)
	h.mmu = NewMMU(ram, h.tlb)
	h.alu = NewALU(h.regFile)
	h.lsu = NewLoadStoreUnit(h.regFile, h.mmu)
	h.branchUnit = NewBranchUnit(h.regFile)

	return h
}

// RAM returns the hart's physical memory.
func (h *Hart) RAM() *RAM {
	return h.ram
}

// TLB returns the hart's translation cache.
func (h *Hart) TLB() *TLB {
	return h.tlb
}

// InstructionCount returns the number of user instructions executed.
func (h *Hart) InstructionCount() uint64 {
	return h.instructionCount
}

// SATP returns the root frame number of the active address space. Zero
// means bare mode.
func (h *Hart) SATP() uint32 {
	return h.mmu.Root()
}

// SetSATP activates the address space rooted at frame number ppn.
func (h *Hart) SetSATP(ppn uint32) {
	h.mmu.SetRoot(ppn)
}

// FlushTLB discards every cached translation.
func (h *Hart) FlushTLB() {
	h.tlb.Flush()
}

// InterruptsEnabled reports the interrupt-enable bit.
func (h *Hart) InterruptsEnabled() bool {
	return h.interrupts
}

// DisableInterrupts clears the interrupt-enable bit and returns its
// previous value.
func (h *Hart) DisableInterrupts() bool {
	prev := h.interrupts
	h.interrupts = false
	return prev
}

// RestoreInterrupts sets the interrupt-enable bit to a value returned by
// DisableInterrupts.
func (h *Hart) RestoreInterrupts(prev bool) {
	h.interrupts = prev
}

// Store writes data at va through the active translation with supervisor
// permissions.
func (h *Hart) Store(va paging.VirtAddr, data []byte) error {
	for len(data) > 0 {
		n := min(len(data), paging.PageSize-int(va&(paging.PageSize-1)))
		if trap := h.mmu.write(uint32(va), data[:n], false); trap != nil {
			return fmt.Errorf("store 0x%x: %v: %w", trap.Value, trap.Cause, ErrAccessFault)
		}
		va += paging.VirtAddr(n)
		data = data[n:]
	}
	return nil
}

// Load reads n bytes at va through the active translation with supervisor
// permissions.
func (h *Hart) Load(va paging.VirtAddr, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for n > 0 {
		chunk := min(n, paging.PageSize-int(va&(paging.PageSize-1)))
		b, trap := h.mmu.read(uint32(va), chunk, accessLoad, false)
		if trap != nil {
			return nil, fmt.Errorf("load 0x%x: %v: %w", trap.Value, trap.Cause, ErrAccessFault)
		}
		out = append(out, b...)
		va += paging.VirtAddr(chunk)
		n -= chunk
	}
	return out, nil
}

// Restore resumes user execution at frame. It never returns: the calling
// kernel goroutine exits once the frame is handed over. It must only be
// called from kernel context entered through Run.
func (h *Hart) Restore(frame *RegFile) {
	h.pending = &event{frame: *frame}
	runtime.Goexit()
}

// Halt stops the machine. Run returns err. Like Restore it never returns.
func (h *Hart) Halt(err error) {
	h.pending = &event{halt: true, err: err}
	runtime.Goexit()
}

func (h *Hart) enterKernel(fn func()) {
	h.interrupts = false

	go func() {
		defer func() {
			ev := h.pending
			h.pending = nil

			if r := recover(); r != nil {
				ev = &event{err: fmt.Errorf("%w: %v", ErrKernelPanic, r)}
			}
			if ev == nil {
				ev = &event{err: ErrKernelReturned}
			}

			h.events <- *ev
		}()

		fn()
	}()
}

// Run enters kernel context at boot and then alternates between user
// execution and handler until kernel code calls Halt. It returns the halt
// error, or the first machine error.
func (h *Hart) Run(boot func(), handler TrapHandler) error {
	h.enterKernel(boot)

	for {
		ev := <-h.events
		if ev.halt || ev.err != nil {
			return ev.err
		}

		*h.regFile = ev.frame
		h.interrupts = true

		trap, err := h.runUser()
		if err != nil {
			return err
		}

		h.enterKernel(func() { handler.HandleTrap(trap) })
	}
}

func (h *Hart) runUser() (*Trap, error) {
	for {
		if h.maxInstructions > 0 && h.instructionCount >= h.maxInstructions {
			return nil, fmt.Errorf("%w: %d at PC=0x%X", ErrMaxInstructions, h.instructionCount, h.regFile.PC)
		}

		if trap := h.Step(); trap != nil {
			trap.Frame = *h.regFile
			return trap, nil
		}
	}
}

// Step executes a single user instruction. It returns the trap the
// instruction raised, or nil; on a trap PC still points at the instruction.
func (h *Hart) Step() *Trap {
	// 1. Fetch
	word, trap := h.lsu.Fetch(h.regFile.PC)
	if trap != nil {
		return trap
	}

	// 2. Decode
	inst := h.decoder.Decode(word)

	// 3. Execute
	h.instructionCount++
	return h.execute(inst, word)
}

func (h *Hart) execute(inst *insts.Instruction, word uint32) *Trap {
	pc := h.regFile.PC

	switch inst.Op {
	case insts.OpUnknown:
		return &Trap{Cause: CauseIllegalInstruction, Value: word}

	case insts.OpECALL:
		return &Trap{Cause: CauseUserEcall}

	case insts.OpEBREAK:
		return &Trap{Cause: CauseBreakpoint, Value: pc}

	case insts.OpFENCE:
		// Single hart, in-order memory: nothing to order.

	case insts.OpLUI:
		h.regFile.WriteReg(inst.Rd, uint32(inst.Imm))

	case insts.OpAUIPC:
		h.regFile.WriteReg(inst.Rd, pc+uint32(inst.Imm))

	case insts.OpJAL, insts.OpJALR,
		insts.OpBEQ, insts.OpBNE, insts.OpBLT, insts.OpBGE, insts.OpBLTU, insts.OpBGEU:
		next := h.branchUnit.Execute(inst)
		if next&3 != 0 {
			return &Trap{Cause: CauseInstructionMisaligned, Value: next}
		}
		h.regFile.PC = next
		return nil // PC already updated

	case insts.OpLB, insts.OpLH, insts.OpLW, insts.OpLBU, insts.OpLHU:
		if trap := h.lsu.Load(inst); trap != nil {
			return trap
		}

	case insts.OpSB, insts.OpSH, insts.OpSW:
		if trap := h.lsu.Store(inst); trap != nil {
			return trap
		}

	default:
		h.alu.Execute(inst)
	}

	h.regFile.PC = pc + 4
	return nil
}
