// Package emu provides functional RV32 hart emulation.
package emu

import "github.com/sarchlab/osmium/insts"

// RegFile represents the RV32 integer register file.
// It contains 32 general-purpose registers (x0-x31) and the program
// counter (PC). A saved RegFile is a process's execution context.
type RegFile struct {
	// X holds general-purpose registers x0-x31.
	// X[0] is the zero register which always reads as 0.
	X [32]uint32

	// PC is the program counter.
	PC uint32
}

// ReadReg reads a register value. Register 0 and out-of-range registers
// return 0.
func (r *RegFile) ReadReg(reg uint8) uint32 {
	if reg == 0 || reg >= 32 {
		return 0
	}
	return r.X[reg]
}

// WriteReg writes a value to a register. Writes to register 0 are ignored.
func (r *RegFile) WriteReg(reg uint8, value uint32) {
	if reg == 0 || reg >= 32 {
		return
	}
	r.X[reg] = value
}

// Arg reads argument register a<i>.
func (r *RegFile) Arg(i int) uint32 {
	return r.ReadReg(insts.RegA0 + uint8(i))
}

// SetArg writes argument register a<i>.
func (r *RegFile) SetArg(i int, value uint32) {
	r.WriteReg(insts.RegA0+uint8(i), value)
}

// SP returns the stack pointer.
func (r *RegFile) SP() uint32 {
	return r.X[insts.RegSP]
}

// SetSP sets the stack pointer.
func (r *RegFile) SetSP(sp uint32) {
	r.X[insts.RegSP] = sp
}
