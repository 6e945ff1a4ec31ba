package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/osmium/emu"
)

var _ = Describe("RAM", func() {
	var ram *emu.RAM

	BeforeEach(func() {
		ram = emu.NewRAM(0x80000000, 0x10000)
	})

	It("should start zeroed", func() {
		b, err := ram.Read(0x80000100, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal([]byte{0, 0, 0, 0}))
	})

	It("should read back what was written", func() {
		Expect(ram.Write(0x8000fffc, []byte{1, 2, 3, 4})).To(Succeed())

		b, err := ram.Read(0x8000fffc, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("should reject accesses outside the range", func() {
		_, err := ram.Read(0x7ffffffc, 4)
		Expect(err).To(MatchError(emu.ErrBusFault))

		Expect(ram.Write(0x8000fffe, []byte{1, 2, 3, 4})).To(MatchError(emu.ErrBusFault))
	})

	It("should report its geometry", func() {
		Expect(ram.Base()).To(Equal(uint64(0x80000000)))
		Expect(ram.Size()).To(Equal(uint64(0x10000)))
		Expect(ram.Contains(0x80000000, 0x10000)).To(BeTrue())
		Expect(ram.Contains(0x80000000, 0x10001)).To(BeFalse())
	})
})
