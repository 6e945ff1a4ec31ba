package userprog_test

import (
	"encoding/binary"
	"slices"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/osmium/insts"
	"github.com/sarchlab/osmium/loader"
	"github.com/sarchlab/osmium/userprog"
)

func parse(image []byte, err error) (*loader.Image, []loader.Segment) {
	Expect(err).NotTo(HaveOccurred())
	img, err := loader.Parse(image)
	Expect(err).NotTo(HaveOccurred())
	return img, slices.Collect(img.Segments())
}

func decode(code []byte) []*insts.Instruction {
	d := insts.NewDecoder()
	var out []*insts.Instruction
	for i := 0; i+4 <= len(code); i += 4 {
		out = append(out, d.Decode(binary.LittleEndian.Uint32(code[i:])))
	}
	return out
}

var _ = Describe("Programs", func() {
	It("should load code at the entry point", func() {
		img, segs := parse(userprog.Exit(3))
		Expect(img.Entry()).To(Equal(userprog.CodeBase))
		Expect(segs).To(HaveLen(1))
		Expect(segs[0].VirtAddr).To(Equal(userprog.CodeBase))
		Expect(segs[0].Flags).To(Equal(loader.SegmentFlagRead | loader.SegmentFlagExecute))
	})

	It("should encode exit as a call with the code in a1", func() {
		_, segs := parse(userprog.Exit(3))
		code := decode(segs[0].Data)

		Expect(code).To(HaveLen(3))
		Expect(code[0].Op).To(Equal(insts.OpADDI))
		Expect(code[0].Rd).To(Equal(insts.RegA1))
		Expect(code[0].Imm).To(Equal(int32(3)))
		Expect(code[2].Op).To(Equal(insts.OpECALL))
	})

	It("should put the message in a data segment", func() {
		_, segs := parse(userprog.Hello("hi"))
		Expect(segs).To(HaveLen(2))
		Expect(segs[1].VirtAddr).To(Equal(userprog.DataBase))
		Expect(string(segs[1].Data)).To(Equal("hi"))
		Expect(segs[1].Flags).To(Equal(loader.SegmentFlagRead | loader.SegmentFlagWrite))
	})

	It("should reserve a zero-filled data segment", func() {
		_, segs := parse(userprog.Touch(3))
		Expect(segs).To(HaveLen(2))
		Expect(segs[1].FileSize).To(BeZero())
		Expect(segs[1].MemSize).To(Equal(uint32(3 * 4096)))
	})

	It("should resolve forward and backward branches", func() {
		_, segs := parse(userprog.Consumer(4))
		code := decode(segs[0].Data)

		var offsets []int32
		for _, inst := range code {
			if inst.Format == insts.FormatB || inst.Op == insts.OpJAL {
				offsets = append(offsets, inst.Imm)
			}
		}
		Expect(offsets).To(HaveLen(3))
		Expect(offsets[0]).To(BeNumerically(">", 0))
		Expect(offsets[1]).To(BeNumerically(">", 0))
		Expect(offsets[2]).To(BeNumerically("<", 0))
	})

	It("should spin on a jump to itself", func() {
		_, segs := parse(userprog.Spin())
		code := decode(segs[0].Data)
		Expect(code).To(HaveLen(1))
		Expect(code[0].Op).To(Equal(insts.OpJAL))
		Expect(code[0].Imm).To(BeZero())
	})

	It("should decode every instruction it emits", func() {
		for _, build := range []func() ([]byte, error){
			func() ([]byte, error) { return userprog.Producer(3) },
			func() ([]byte, error) { return userprog.Consumer(3) },
			func() ([]byte, error) { return userprog.Yielder(3) },
			func() ([]byte, error) { return userprog.Status(1) },
			func() ([]byte, error) { return userprog.Forker(5) },
			func() ([]byte, error) { return userprog.Exec(userprog.NopPath) },
			func() ([]byte, error) { return userprog.ForkExec(userprog.HelloPath) },
			userprog.Fault,
		} {
			_, segs := parse(build())
			for _, inst := range decode(segs[0].Data) {
				Expect(inst.Op).NotTo(Equal(insts.OpUnknown))
			}
		}
	})

	It("should carry the program name in the data segment", func() {
		_, segs := parse(userprog.ForkExec(userprog.NopPath))
		Expect(segs).To(HaveLen(2))
		Expect(string(segs[1].Data)).To(Equal(userprog.NopPath))
	})

	It("should build every builtin", func() {
		builtins, err := userprog.Builtins()
		Expect(err).NotTo(HaveOccurred())
		Expect(builtins).To(HaveKey(userprog.NopPath))
		Expect(builtins).To(HaveKey(userprog.HelloPath))
		for _, image := range builtins {
			_, err := loader.Parse(image)
			Expect(err).NotTo(HaveOccurred())
		}
	})
})
