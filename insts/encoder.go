package insts

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ABI register numbers used by the kernel and the built-in programs.
const (
	RegZero uint8 = 0
	RegRA   uint8 = 1
	RegSP   uint8 = 2
	RegT0   uint8 = 5
	RegT1   uint8 = 6
	RegT2   uint8 = 7
	RegS0   uint8 = 8
	RegS1   uint8 = 9
	RegA0   uint8 = 10
	RegA1   uint8 = 11
	RegA2   uint8 = 12
	RegA3   uint8 = 13
	RegA4   uint8 = 14
	RegA5   uint8 = 15
	RegA6   uint8 = 16
	RegA7   uint8 = 17
)

// Errors returned by Encode.
var (
	ErrUnknownOp = errors.New("unknown operation")
	ErrImmRange  = errors.New("immediate out of range")
	ErrRegister  = errors.New("register out of range")
)

type encoding struct {
	format Format
	opcode uint32
	funct3 uint32
	funct7 uint32
}

var encodings = map[Op]encoding{
	OpLUI:    {FormatU, opcodeLUI, 0, 0},
	OpAUIPC:  {FormatU, opcodeAUIPC, 0, 0},
	OpJAL:    {FormatJ, opcodeJAL, 0, 0},
	OpJALR:   {FormatI, opcodeJALR, 0, 0},
	OpBEQ:    {FormatB, opcodeBranch, 0b000, 0},
	OpBNE:    {FormatB, opcodeBranch, 0b001, 0},
	OpBLT:    {FormatB, opcodeBranch, 0b100, 0},
	OpBGE:    {FormatB, opcodeBranch, 0b101, 0},
	OpBLTU:   {FormatB, opcodeBranch, 0b110, 0},
	OpBGEU:   {FormatB, opcodeBranch, 0b111, 0},
	OpLB:     {FormatI, opcodeLoad, 0b000, 0},
	OpLH:     {FormatI, opcodeLoad, 0b001, 0},
	OpLW:     {FormatI, opcodeLoad, 0b010, 0},
	OpLBU:    {FormatI, opcodeLoad, 0b100, 0},
	OpLHU:    {FormatI, opcodeLoad, 0b101, 0},
	OpSB:     {FormatS, opcodeStore, 0b000, 0},
	OpSH:     {FormatS, opcodeStore, 0b001, 0},
	OpSW:     {FormatS, opcodeStore, 0b010, 0},
	OpADDI:   {FormatI, opcodeOpImm, 0b000, 0},
	OpSLTI:   {FormatI, opcodeOpImm, 0b010, 0},
	OpSLTIU:  {FormatI, opcodeOpImm, 0b011, 0},
	OpXORI:   {FormatI, opcodeOpImm, 0b100, 0},
	OpORI:    {FormatI, opcodeOpImm, 0b110, 0},
	OpANDI:   {FormatI, opcodeOpImm, 0b111, 0},
	OpSLLI:   {FormatI, opcodeOpImm, 0b001, 0b0000000},
	OpSRLI:   {FormatI, opcodeOpImm, 0b101, 0b0000000},
	OpSRAI:   {FormatI, opcodeOpImm, 0b101, 0b0100000},
	OpADD:    {FormatR, opcodeOp, 0b000, 0b0000000},
	OpSUB:    {FormatR, opcodeOp, 0b000, 0b0100000},
	OpSLL:    {FormatR, opcodeOp, 0b001, 0b0000000},
	OpSLT:    {FormatR, opcodeOp, 0b010, 0b0000000},
	OpSLTU:   {FormatR, opcodeOp, 0b011, 0b0000000},
	OpXOR:    {FormatR, opcodeOp, 0b100, 0b0000000},
	OpSRL:    {FormatR, opcodeOp, 0b101, 0b0000000},
	OpSRA:    {FormatR, opcodeOp, 0b101, 0b0100000},
	OpOR:     {FormatR, opcodeOp, 0b110, 0b0000000},
	OpAND:    {FormatR, opcodeOp, 0b111, 0b0000000},
	OpFENCE:  {FormatI, opcodeMisc, 0, 0},
	OpECALL:  {FormatI, opcodeSystem, 0, 0},
	OpEBREAK: {FormatI, opcodeSystem, 0, 0},
}

func fits(v int32, bits uint) bool {
	limit := int32(1) << (bits - 1)
	return v >= -limit && v < limit
}

// Encode packs inst into its 32-bit machine word. Only the fields the
// operation's format uses are read; Format itself is ignored.
func Encode(inst Instruction) (uint32, error) {
	enc, ok := encodings[inst.Op]
	if !ok {
		return 0, fmt.Errorf("encode op %d: %w", inst.Op, ErrUnknownOp)
	}
	if inst.Rd > 31 || inst.Rs1 > 31 || inst.Rs2 > 31 {
		return 0, fmt.Errorf("encode %v: %w", inst.Op, ErrRegister)
	}

	rdBits := uint32(inst.Rd) << 7
	rs1Bits := uint32(inst.Rs1) << 15
	rs2Bits := uint32(inst.Rs2) << 20
	f3 := enc.funct3 << 12
	imm := uint32(inst.Imm)

	switch inst.Op {
	case OpECALL, OpFENCE:
		return enc.opcode, nil
	case OpEBREAK:
		return 1<<20 | enc.opcode, nil
	case OpSLLI, OpSRLI, OpSRAI:
		if inst.Imm < 0 || inst.Imm > 31 {
			return 0, fmt.Errorf("encode %v shamt %d: %w", inst.Op, inst.Imm, ErrImmRange)
		}
		return enc.funct7<<25 | imm<<20 | rs1Bits | f3 | rdBits | enc.opcode, nil
	}

	switch enc.format {
	case FormatR:
		return enc.funct7<<25 | rs2Bits | rs1Bits | f3 | rdBits | enc.opcode, nil

	case FormatI:
		if !fits(inst.Imm, 12) {
			return 0, fmt.Errorf("encode %v imm %d: %w", inst.Op, inst.Imm, ErrImmRange)
		}
		return imm<<20 | rs1Bits | f3 | rdBits | enc.opcode, nil

	case FormatS:
		if !fits(inst.Imm, 12) {
			return 0, fmt.Errorf("encode %v imm %d: %w", inst.Op, inst.Imm, ErrImmRange)
		}
		return (imm>>5)&0x7F<<25 | rs2Bits | rs1Bits | f3 | imm&0x1F<<7 | enc.opcode, nil

	case FormatB:
		if !fits(inst.Imm, 13) || inst.Imm&1 != 0 {
			return 0, fmt.Errorf("encode %v offset %d: %w", inst.Op, inst.Imm, ErrImmRange)
		}
		return (imm>>12)&0x1<<31 |
			(imm>>5)&0x3F<<25 |
			rs2Bits | rs1Bits | f3 |
			(imm>>1)&0xF<<8 |
			(imm>>11)&0x1<<7 |
			enc.opcode, nil

	case FormatU:
		if imm&0xFFF != 0 {
			return 0, fmt.Errorf("encode %v imm 0x%x: %w", inst.Op, imm, ErrImmRange)
		}
		return imm | rdBits | enc.opcode, nil

	case FormatJ:
		if !fits(inst.Imm, 21) || inst.Imm&1 != 0 {
			return 0, fmt.Errorf("encode %v offset %d: %w", inst.Op, inst.Imm, ErrImmRange)
		}
		return (imm>>20)&0x1<<31 |
			(imm>>1)&0x3FF<<21 |
			(imm>>11)&0x1<<20 |
			(imm>>12)&0xFF<<12 |
			rdBits | enc.opcode, nil
	}

	return 0, fmt.Errorf("encode op %d: %w", inst.Op, ErrUnknownOp)
}

// Asm accumulates machine words. The first encoding error is sticky and
// reported by Words and Bytes.
type Asm struct {
	words []uint32
	err   error
}

// NewAsm creates an empty program.
func NewAsm() *Asm {
	return &Asm{}
}

// Emit appends one instruction.
func (a *Asm) Emit(inst Instruction) *Asm {
	if a.err != nil {
		return a
	}
	w, err := Encode(inst)
	if err != nil {
		a.err = fmt.Errorf("instruction %d: %w", len(a.words), err)
		return a
	}
	a.words = append(a.words, w)
	return a
}

// R appends a register-register instruction.
func (a *Asm) R(op Op, rd, rs1, rs2 uint8) *Asm {
	return a.Emit(Instruction{Op: op, Rd: rd, Rs1: rs1, Rs2: rs2})
}

// I appends a register-immediate instruction, a load, or JALR.
func (a *Asm) I(op Op, rd, rs1 uint8, imm int32) *Asm {
	return a.Emit(Instruction{Op: op, Rd: rd, Rs1: rs1, Imm: imm})
}

// Store appends a store of rs2 to imm(rs1).
func (a *Asm) Store(op Op, rs2, rs1 uint8, imm int32) *Asm {
	return a.Emit(Instruction{Op: op, Rs1: rs1, Rs2: rs2, Imm: imm})
}

// Branch appends a conditional branch with a byte offset.
func (a *Asm) Branch(op Op, rs1, rs2 uint8, offset int32) *Asm {
	return a.Emit(Instruction{Op: op, Rs1: rs1, Rs2: rs2, Imm: offset})
}

// Jal appends a jump-and-link with a byte offset.
func (a *Asm) Jal(rd uint8, offset int32) *Asm {
	return a.Emit(Instruction{Op: OpJAL, Rd: rd, Imm: offset})
}

// Li loads a 32-bit constant with ADDI, or LUI followed by ADDI.
func (a *Asm) Li(rd uint8, value int32) *Asm {
	if fits(value, 12) {
		return a.I(OpADDI, rd, RegZero, value)
	}

	hi := int32(uint32(value+0x800) & 0xFFFFF000)
	lo := value - hi
	a.Emit(Instruction{Op: OpLUI, Rd: rd, Imm: hi})
	if lo != 0 {
		a.I(OpADDI, rd, rd, lo)
	}
	return a
}

// Ecall appends an environment call.
func (a *Asm) Ecall() *Asm {
	return a.Emit(Instruction{Op: OpECALL})
}

// PC returns the byte offset the next instruction will occupy.
func (a *Asm) PC() int32 {
	return int32(len(a.words) * 4)
}

// Words returns the encoded program.
func (a *Asm) Words() ([]uint32, error) {
	return a.words, a.err
}

// Bytes returns the encoded program in little-endian byte order.
func (a *Asm) Bytes() ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}
	b := make([]byte, 0, len(a.words)*4)
	for _, w := range a.words {
		b = binary.LittleEndian.AppendUint32(b, w)
	}
	return b, nil
}
