package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/osmium/insts"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	Describe("Register-immediate", func() {
		// ADDI x1, x0, 42 -> 0x02a00093
		It("should decode ADDI x1, x0, 42", func() {
			inst := decoder.Decode(0x02a00093)

			Expect(inst.Op).To(Equal(insts.OpADDI))
			Expect(inst.Format).To(Equal(insts.FormatI))
			Expect(inst.Rd).To(Equal(uint8(1)))
			Expect(inst.Rs1).To(Equal(uint8(0)))
			Expect(inst.Imm).To(Equal(int32(42)))
		})

		// ADDI a0, a0, -1 -> 0xfff50513
		It("should sign-extend negative immediates", func() {
			inst := decoder.Decode(0xfff50513)

			Expect(inst.Op).To(Equal(insts.OpADDI))
			Expect(inst.Rd).To(Equal(insts.RegA0))
			Expect(inst.Rs1).To(Equal(insts.RegA0))
			Expect(inst.Imm).To(Equal(int32(-1)))
		})

		// SRAI a0, a0, 3 -> 0x40355513
		It("should decode SRAI with its shift amount", func() {
			inst := decoder.Decode(0x40355513)

			Expect(inst.Op).To(Equal(insts.OpSRAI))
			Expect(inst.Imm).To(Equal(int32(3)))
		})
	})

	Describe("Register-register", func() {
		// ADD a0, a1, a2 -> 0x00c58533
		It("should decode ADD a0, a1, a2", func() {
			inst := decoder.Decode(0x00c58533)

			Expect(inst.Op).To(Equal(insts.OpADD))
			Expect(inst.Format).To(Equal(insts.FormatR))
			Expect(inst.Rd).To(Equal(insts.RegA0))
			Expect(inst.Rs1).To(Equal(insts.RegA1))
			Expect(inst.Rs2).To(Equal(insts.RegA2))
		})

		// SUB a0, a1, a2 -> 0x40c58533
		It("should decode SUB a0, a1, a2", func() {
			Expect(decoder.Decode(0x40c58533).Op).To(Equal(insts.OpSUB))
		})

		It("should reject unknown funct7", func() {
			Expect(decoder.Decode(0x02c58533).Op).To(Equal(insts.OpUnknown))
		})
	})

	Describe("Loads and stores", func() {
		// LW a0, 8(sp) -> 0x00812503
		It("should decode LW a0, 8(sp)", func() {
			inst := decoder.Decode(0x00812503)

			Expect(inst.Op).To(Equal(insts.OpLW))
			Expect(inst.Rd).To(Equal(insts.RegA0))
			Expect(inst.Rs1).To(Equal(insts.RegSP))
			Expect(inst.Imm).To(Equal(int32(8)))
		})

		// SW a1, 4(a0) -> 0x00b52223
		It("should decode SW a1, 4(a0)", func() {
			inst := decoder.Decode(0x00b52223)

			Expect(inst.Op).To(Equal(insts.OpSW))
			Expect(inst.Format).To(Equal(insts.FormatS))
			Expect(inst.Rs1).To(Equal(insts.RegA0))
			Expect(inst.Rs2).To(Equal(insts.RegA1))
			Expect(inst.Imm).To(Equal(int32(4)))
		})
	})

	Describe("Control transfer", func() {
		// BEQ x0, x0, 8 -> 0x00000463
		It("should decode BEQ with a forward offset", func() {
			inst := decoder.Decode(0x00000463)

			Expect(inst.Op).To(Equal(insts.OpBEQ))
			Expect(inst.Format).To(Equal(insts.FormatB))
			Expect(inst.Imm).To(Equal(int32(8)))
		})

		// JAL x0, -4 -> 0xffdff06f
		It("should decode JAL with a backward offset", func() {
			inst := decoder.Decode(0xffdff06f)

			Expect(inst.Op).To(Equal(insts.OpJAL))
			Expect(inst.Format).To(Equal(insts.FormatJ))
			Expect(inst.Rd).To(Equal(insts.RegZero))
			Expect(inst.Imm).To(Equal(int32(-4)))
		})

		// LUI a0, 0x12345 -> 0x12345537
		It("should decode LUI", func() {
			inst := decoder.Decode(0x12345537)

			Expect(inst.Op).To(Equal(insts.OpLUI))
			Expect(inst.Imm).To(Equal(int32(0x12345000)))
		})
	})

	Describe("System", func() {
		It("should decode ECALL", func() {
			Expect(decoder.Decode(0x00000073).Op).To(Equal(insts.OpECALL))
		})

		It("should decode EBREAK", func() {
			Expect(decoder.Decode(0x00100073).Op).To(Equal(insts.OpEBREAK))
		})
	})

	It("should return OpUnknown for zero and compressed words", func() {
		Expect(decoder.Decode(0).Op).To(Equal(insts.OpUnknown))
		Expect(decoder.Decode(0x4501).Op).To(Equal(insts.OpUnknown))
	})
})
