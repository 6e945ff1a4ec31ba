// Package emu provides functional RV32 hart emulation.
package emu

import "github.com/sarchlab/osmium/insts"

// BranchUnit implements RV32I control transfer.
type BranchUnit struct {
	regFile *RegFile
}

// NewBranchUnit creates a new BranchUnit connected to the given register file.
func NewBranchUnit(regFile *RegFile) *BranchUnit {
	return &BranchUnit{regFile: regFile}
}

// Execute computes the next PC for JAL, JALR and conditional branches and
// writes the link register. It returns the new PC; the caller traps on a
// misaligned one.
func (b *BranchUnit) Execute(inst *insts.Instruction) uint32 {
	pc := b.regFile.PC
	next := pc + 4

	switch inst.Op {
	case insts.OpJAL, insts.OpJALR:
		if inst.Op == insts.OpJAL {
			next = pc + uint32(inst.Imm)
		} else {
			next = (b.regFile.ReadReg(inst.Rs1) + uint32(inst.Imm)) &^ 1
		}
		// A misaligned target traps without writing the link register.
		if next&3 == 0 {
			b.regFile.WriteReg(inst.Rd, pc+4)
		}
	default:
		rs1 := b.regFile.ReadReg(inst.Rs1)
		rs2 := b.regFile.ReadReg(inst.Rs2)
		if Taken(inst.Op, rs1, rs2) {
			next = pc + uint32(inst.Imm)
		}
	}

	return next
}

// Taken evaluates a conditional branch.
func Taken(op insts.Op, rs1, rs2 uint32) bool {
	switch op {
	case insts.OpBEQ:
		return rs1 == rs2
	case insts.OpBNE:
		return rs1 != rs2
	case insts.OpBLT:
		return int32(rs1) < int32(rs2)
	case insts.OpBGE:
		return int32(rs1) >= int32(rs2)
	case insts.OpBLTU:
		return rs1 < rs2
	case insts.OpBGEU:
		return rs1 >= rs2
	}
	return false
}
