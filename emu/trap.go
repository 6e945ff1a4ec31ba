// Package emu provides functional RV32 hart emulation.
package emu

import "fmt"

// Cause identifies why user execution trapped into the kernel. Values follow
// the RISC-V scause exception codes.
type Cause uint32

// Exception causes.
const (
	CauseInstructionMisaligned Cause = 0
	CauseInstructionAccess     Cause = 1
	CauseIllegalInstruction    Cause = 2
	CauseBreakpoint            Cause = 3
	CauseLoadMisaligned        Cause = 4
	CauseLoadAccess            Cause = 5
	CauseStoreMisaligned       Cause = 6
	CauseStoreAccess           Cause = 7
	CauseUserEcall             Cause = 8
	CauseInstructionPageFault  Cause = 12
	CauseLoadPageFault         Cause = 13
	CauseStorePageFault        Cause = 15
)

var causeNames = map[Cause]string{
	CauseInstructionMisaligned: "instruction address misaligned",
	CauseInstructionAccess:     "instruction access fault",
	CauseIllegalInstruction:    "illegal instruction",
	CauseBreakpoint:            "breakpoint",
	CauseLoadMisaligned:        "load address misaligned",
	CauseLoadAccess:            "load access fault",
	CauseStoreMisaligned:       "store address misaligned",
	CauseStoreAccess:           "store access fault",
	CauseUserEcall:             "environment call from U-mode",
	CauseInstructionPageFault:  "instruction page fault",
	CauseLoadPageFault:         "load page fault",
	CauseStorePageFault:        "store page fault",
}

func (c Cause) String() string {
	if name, ok := causeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("cause %d", uint32(c))
}

// Trap describes one transfer from user execution into the kernel.
type Trap struct {
	// Cause is the exception code.
	Cause Cause

	// Value is the faulting address, or the instruction word for illegal
	// instructions. Zero for environment calls.
	Value uint32

	// Frame is the user context at the trap. Frame.PC points at the
	// trapping instruction.
	Frame RegFile
}

// TrapHandler is the kernel's trap entry point.
type TrapHandler interface {
	// HandleTrap runs in kernel context with interrupts disabled. It must
	// end by calling Hart.Restore or Hart.Halt and never returns normally.
	HandleTrap(t *Trap)
}

// TrapHandlerFunc adapts a function to TrapHandler.
type TrapHandlerFunc func(t *Trap)

// HandleTrap calls f(t).
func (f TrapHandlerFunc) HandleTrap(t *Trap) {
	f(t)
}
