package insts

// Op represents an RV32I operation.
type Op uint16

// RV32I operations.
const (
	OpUnknown Op = iota
	OpLUI
	OpAUIPC
	OpJAL
	OpJALR
	OpBEQ
	OpBNE
	OpBLT
	OpBGE
	OpBLTU
	OpBGEU
	OpLB
	OpLH
	OpLW
	OpLBU
	OpLHU
	OpSB
	OpSH
	OpSW
	OpADDI
	OpSLTI
	OpSLTIU
	OpXORI
	OpORI
	OpANDI
	OpSLLI
	OpSRLI
	OpSRAI
	OpADD
	OpSUB
	OpSLL
	OpSLT
	OpSLTU
	OpXOR
	OpSRL
	OpSRA
	OpOR
	OpAND
	OpFENCE
	OpECALL
	OpEBREAK
)

var opNames = [...]string{
	"UNKNOWN", "LUI", "AUIPC", "JAL", "JALR",
	"BEQ", "BNE", "BLT", "BGE", "BLTU", "BGEU",
	"LB", "LH", "LW", "LBU", "LHU", "SB", "SH", "SW",
	"ADDI", "SLTI", "SLTIU", "XORI", "ORI", "ANDI", "SLLI", "SRLI", "SRAI",
	"ADD", "SUB", "SLL", "SLT", "SLTU", "XOR", "SRL", "SRA", "OR", "AND",
	"FENCE", "ECALL", "EBREAK",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return opNames[OpUnknown]
}

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatR              // Register-register
	FormatI              // Register-immediate, loads, JALR, system
	FormatS              // Stores
	FormatB              // Conditional branches
	FormatU              // Upper immediate
	FormatJ              // JAL
)

// Major opcodes, bits [6:0].
const (
	opcodeLoad   = 0b0000011
	opcodeMisc   = 0b0001111
	opcodeOpImm  = 0b0010011
	opcodeAUIPC  = 0b0010111
	opcodeStore  = 0b0100011
	opcodeOp     = 0b0110011
	opcodeLUI    = 0b0110111
	opcodeBranch = 0b1100011
	opcodeJALR   = 0b1100111
	opcodeJAL    = 0b1101111
	opcodeSystem = 0b1110011
)

// Instruction represents a decoded RV32I instruction.
type Instruction struct {
	Op     Op     // Operation
	Format Format // Encoding format

	Rd  uint8 // Destination register
	Rs1 uint8 // First source register
	Rs2 uint8 // Second source register

	// Imm is the sign-extended immediate. For U-format it holds the value
	// already shifted into bits [31:12]; for branches and jumps it is the
	// byte offset from the instruction.
	Imm int32
}

// Decoder decodes RV32I machine code into instructions.
type Decoder struct{}

// NewDecoder creates a new RV32I instruction decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode decodes a 32-bit instruction word. Unrecognized words decode to
// OpUnknown.
func (d *Decoder) Decode(word uint32) *Instruction {
	inst := &Instruction{Op: OpUnknown, Format: FormatUnknown}

	if word&0b11 != 0b11 {
		// Compressed encodings are not supported.
		return inst
	}

	switch word & 0x7F {
	case opcodeLUI:
		d.decodeU(word, inst, OpLUI)
	case opcodeAUIPC:
		d.decodeU(word, inst, OpAUIPC)
	case opcodeJAL:
		d.decodeJAL(word, inst)
	case opcodeJALR:
		if funct3(word) == 0 {
			d.decodeI(word, inst, OpJALR)
		}
	case opcodeBranch:
		d.decodeBranch(word, inst)
	case opcodeLoad:
		d.decodeLoad(word, inst)
	case opcodeStore:
		d.decodeStore(word, inst)
	case opcodeOpImm:
		d.decodeOpImm(word, inst)
	case opcodeOp:
		d.decodeOp(word, inst)
	case opcodeMisc:
		if funct3(word) == 0 {
			inst.Op = OpFENCE
			inst.Format = FormatI
		}
	case opcodeSystem:
		d.decodeSystem(word, inst)
	}

	return inst
}

func funct3(word uint32) uint32 { return (word >> 12) & 0x7 }
func funct7(word uint32) uint32 { return word >> 25 }
func rd(word uint32) uint8      { return uint8((word >> 7) & 0x1F) }
func rs1(word uint32) uint8     { return uint8((word >> 15) & 0x1F) }
func rs2(word uint32) uint8     { return uint8((word >> 20) & 0x1F) }

// signExtend treats the low bits of v as a two's complement number.
func signExtend(v uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(v<<shift) >> shift
}

// decodeI fills the fields shared by every I-format instruction.
// Format: imm[11:0] | rs1 | funct3 | rd | opcode
func (d *Decoder) decodeI(word uint32, inst *Instruction, op Op) {
	inst.Op = op
	inst.Format = FormatI
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.Imm = int32(word) >> 20
}

// decodeU decodes LUI and AUIPC.
// Format: imm[31:12] | rd | opcode
func (d *Decoder) decodeU(word uint32, inst *Instruction, op Op) {
	inst.Op = op
	inst.Format = FormatU
	inst.Rd = rd(word)
	inst.Imm = int32(word & 0xFFFFF000)
}

// decodeJAL decodes JAL.
// Format: imm[20|10:1|11|19:12] | rd | opcode
func (d *Decoder) decodeJAL(word uint32, inst *Instruction) {
	inst.Op = OpJAL
	inst.Format = FormatJ
	inst.Rd = rd(word)

	imm := (word>>31)&0x1<<20 |
		(word>>12)&0xFF<<12 |
		(word>>20)&0x1<<11 |
		(word>>21)&0x3FF<<1
	inst.Imm = signExtend(imm, 21)
}

// decodeBranch decodes conditional branches.
// Format: imm[12|10:5] | rs2 | rs1 | funct3 | imm[4:1|11] | opcode
func (d *Decoder) decodeBranch(word uint32, inst *Instruction) {
	ops := [8]Op{OpBEQ, OpBNE, OpUnknown, OpUnknown, OpBLT, OpBGE, OpBLTU, OpBGEU}
	op := ops[funct3(word)]
	if op == OpUnknown {
		return
	}

	inst.Op = op
	inst.Format = FormatB
	inst.Rs1 = rs1(word)
	inst.Rs2 = rs2(word)

	imm := (word>>31)&0x1<<12 |
		(word>>7)&0x1<<11 |
		(word>>25)&0x3F<<5 |
		(word>>8)&0xF<<1
	inst.Imm = signExtend(imm, 13)
}

func (d *Decoder) decodeLoad(word uint32, inst *Instruction) {
	ops := [8]Op{OpLB, OpLH, OpLW, OpUnknown, OpLBU, OpLHU, OpUnknown, OpUnknown}
	if op := ops[funct3(word)]; op != OpUnknown {
		d.decodeI(word, inst, op)
	}
}

// decodeStore decodes SB, SH and SW.
// Format: imm[11:5] | rs2 | rs1 | funct3 | imm[4:0] | opcode
func (d *Decoder) decodeStore(word uint32, inst *Instruction) {
	ops := [8]Op{OpSB, OpSH, OpSW}
	op := ops[funct3(word)]
	if op == OpUnknown {
		return
	}

	inst.Op = op
	inst.Format = FormatS
	inst.Rs1 = rs1(word)
	inst.Rs2 = rs2(word)
	inst.Imm = signExtend(funct7(word)<<5|uint32(rd(word)), 12)
}

func (d *Decoder) decodeOpImm(word uint32, inst *Instruction) {
	switch funct3(word) {
	case 0b000:
		d.decodeI(word, inst, OpADDI)
	case 0b010:
		d.decodeI(word, inst, OpSLTI)
	case 0b011:
		d.decodeI(word, inst, OpSLTIU)
	case 0b100:
		d.decodeI(word, inst, OpXORI)
	case 0b110:
		d.decodeI(word, inst, OpORI)
	case 0b111:
		d.decodeI(word, inst, OpANDI)
	case 0b001:
		if funct7(word) == 0 {
			d.decodeShift(word, inst, OpSLLI)
		}
	case 0b101:
		switch funct7(word) {
		case 0b0000000:
			d.decodeShift(word, inst, OpSRLI)
		case 0b0100000:
			d.decodeShift(word, inst, OpSRAI)
		}
	}
}

// decodeShift decodes shift-immediate forms. Imm holds shamt only.
func (d *Decoder) decodeShift(word uint32, inst *Instruction, op Op) {
	d.decodeI(word, inst, op)
	inst.Imm = int32(rs2(word))
}

// decodeOp decodes register-register ALU instructions.
// Format: funct7 | rs2 | rs1 | funct3 | rd | opcode
func (d *Decoder) decodeOp(word uint32, inst *Instruction) {
	var op Op

	switch funct7(word) {
	case 0b0000000:
		op = [8]Op{OpADD, OpSLL, OpSLT, OpSLTU, OpXOR, OpSRL, OpOR, OpAND}[funct3(word)]
	case 0b0100000:
		switch funct3(word) {
		case 0b000:
			op = OpSUB
		case 0b101:
			op = OpSRA
		}
	}
	if op == OpUnknown {
		return
	}

	inst.Op = op
	inst.Format = FormatR
	inst.Rd = rd(word)
	inst.Rs1 = rs1(word)
	inst.Rs2 = rs2(word)
}

func (d *Decoder) decodeSystem(word uint32, inst *Instruction) {
	if funct3(word) != 0 || rd(word) != 0 || rs1(word) != 0 {
		return
	}

	switch word >> 20 {
	case 0:
		inst.Op = OpECALL
		inst.Format = FormatI
	case 1:
		inst.Op = OpEBREAK
		inst.Format = FormatI
		inst.Imm = 1
	}
}
