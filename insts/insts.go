// Package insts provides RV32I instruction definitions, decoding and
// encoding.
//
// This package implements decoding of RISC-V machine code into structured
// instruction representations. It supports the RV32I base integer set:
//   - Upper immediates and jumps: LUI, AUIPC, JAL, JALR
//   - Conditional branches, loads and stores
//   - Register-immediate and register-register ALU operations
//   - FENCE, ECALL and EBREAK
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(0x02a00093) // ADDI x1, x0, 42
//	fmt.Printf("Op: %v, Rd: %d, Rs1: %d, Imm: %d\n", inst.Op, inst.Rd, inst.Rs1, inst.Imm)
package insts
