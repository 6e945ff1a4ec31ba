// Package emu provides functional RV32 hart emulation.
package emu

import "github.com/sarchlab/osmium/insts"

// ALU implements the RV32I integer operations.
type ALU struct {
	regFile *RegFile
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile) *ALU {
	return &ALU{regFile: regFile}
}

// Execute applies a register-register or register-immediate operation and
// writes the result to rd.
func (a *ALU) Execute(inst *insts.Instruction) {
	op1 := a.regFile.ReadReg(inst.Rs1)

	var op2 uint32
	if inst.Format == insts.FormatR {
		op2 = a.regFile.ReadReg(inst.Rs2)
	} else {
		op2 = uint32(inst.Imm)
	}

	a.regFile.WriteReg(inst.Rd, Compute(inst.Op, op1, op2))
}

// Compute returns op1 <op> op2. Immediate forms share the register form's
// semantics.
func Compute(op insts.Op, op1, op2 uint32) uint32 {
	shamt := op2 & 0x1F

	switch op {
	case insts.OpADD, insts.OpADDI:
		return op1 + op2
	case insts.OpSUB:
		return op1 - op2
	case insts.OpSLL, insts.OpSLLI:
		return op1 << shamt
	case insts.OpSLT, insts.OpSLTI:
		return boolToWord(int32(op1) < int32(op2))
	case insts.OpSLTU, insts.OpSLTIU:
		return boolToWord(op1 < op2)
	case insts.OpXOR, insts.OpXORI:
		return op1 ^ op2
	case insts.OpSRL, insts.OpSRLI:
		return op1 >> shamt
	case insts.OpSRA, insts.OpSRAI:
		return uint32(int32(op1) >> shamt)
	case insts.OpOR, insts.OpORI:
		return op1 | op2
	case insts.OpAND, insts.OpANDI:
		return op1 & op2
	}
	return 0
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
