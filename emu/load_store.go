// Package emu provides functional RV32 hart emulation.
package emu

import (
	"encoding/binary"

	"github.com/sarchlab/osmium/insts"
)

// LoadStoreUnit implements RV32I loads, stores and instruction fetch for
// user-mode execution.
type LoadStoreUnit struct {
	regFile *RegFile
	mmu     *MMU
}

// NewLoadStoreUnit creates a new LoadStoreUnit connected to the given
// register file and MMU.
func NewLoadStoreUnit(regFile *RegFile, mmu *MMU) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile: regFile,
		mmu:     mmu,
	}
}

// Fetch reads the instruction word at pc.
func (lsu *LoadStoreUnit) Fetch(pc uint32) (uint32, *Trap) {
	if pc&3 != 0 {
		return 0, &Trap{Cause: CauseInstructionMisaligned, Value: pc}
	}
	b, trap := lsu.mmu.read(pc, 4, accessFetch, true)
	if trap != nil {
		return 0, trap
	}
	return binary.LittleEndian.Uint32(b), nil
}

func accessSize(op insts.Op) int {
	switch op {
	case insts.OpLB, insts.OpLBU, insts.OpSB:
		return 1
	case insts.OpLH, insts.OpLHU, insts.OpSH:
		return 2
	}
	return 4
}

// Load executes LB, LH, LW, LBU and LHU.
func (lsu *LoadStoreUnit) Load(inst *insts.Instruction) *Trap {
	addr := lsu.regFile.ReadReg(inst.Rs1) + uint32(inst.Imm)
	size := accessSize(inst.Op)
	if addr%uint32(size) != 0 {
		return &Trap{Cause: CauseLoadMisaligned, Value: addr}
	}

	b, trap := lsu.mmu.read(addr, size, accessLoad, true)
	if trap != nil {
		return trap
	}

	var value uint32
	switch inst.Op {
	case insts.OpLB:
		value = uint32(int32(int8(b[0])))
	case insts.OpLBU:
		value = uint32(b[0])
	case insts.OpLH:
		value = uint32(int32(int16(binary.LittleEndian.Uint16(b))))
	case insts.OpLHU:
		value = uint32(binary.LittleEndian.Uint16(b))
	default:
		value = binary.LittleEndian.Uint32(b)
	}

	lsu.regFile.WriteReg(inst.Rd, value)
	return nil
}

// Store executes SB, SH and SW.
func (lsu *LoadStoreUnit) Store(inst *insts.Instruction) *Trap {
	addr := lsu.regFile.ReadReg(inst.Rs1) + uint32(inst.Imm)
	size := accessSize(inst.Op)
	if addr%uint32(size) != 0 {
		return &Trap{Cause: CauseStoreMisaligned, Value: addr}
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], lsu.regFile.ReadReg(inst.Rs2))
	return lsu.mmu.write(addr, buf[:size], true)
}
