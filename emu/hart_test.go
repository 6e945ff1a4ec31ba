package emu_test

import (
	"encoding/binary"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/osmium/emu"
	"github.com/sarchlab/osmium/insts"
	"github.com/sarchlab/osmium/paging"
)

const (
	ramBase  = 0x80000000
	codeVA   = 0x10000
	dataVA   = 0x20000
	kernelVA = 0x40000
)

var _ = Describe("Hart", func() {
	var (
		ram   *emu.RAM
		alloc *paging.StackAllocator
		space *paging.Map
		data  paging.Frame
	)

	mapPage := func(va paging.VirtAddr, flags paging.Flag) paging.Frame {
		f, err := alloc.Alloc()
		Expect(err).NotTo(HaveOccurred())
		Expect(space.Map(paging.PageOf(va), f, flags, alloc)).To(Succeed())
		return f
	}

	loadCode := func(a *insts.Asm) {
		code, err := a.Bytes()
		Expect(err).NotTo(HaveOccurred())
		f, _, err := space.Lookup(codeVA)
		Expect(err).NotTo(HaveOccurred())
		Expect(ram.Write(uint64(f.Addr()), code)).To(Succeed())
	}

	boot := func(h *emu.Hart) func() {
		return func() {
			h.SetSATP(space.RootPPN())
			h.Restore(&emu.RegFile{PC: codeVA})
		}
	}

	halt := func(h *emu.Hart, traps *[]emu.Trap) emu.TrapHandler {
		return emu.TrapHandlerFunc(func(t *emu.Trap) {
			*traps = append(*traps, *t)
			h.Halt(nil)
		})
	}

	BeforeEach(func() {
		ram = emu.NewRAM(ramBase, 1<<20)
		alloc = paging.NewStackAllocator(ramBase+0x20000, ramBase+1<<20)
		space = paging.NewMap(ram, paging.FrameOf(ramBase+0x10000), paging.FrameOf(ramBase+0x11000))
		Expect(space.Init()).To(Succeed())

		mapPage(codeVA, paging.FlagRead|paging.FlagExec|paging.FlagUser)
		data = mapPage(dataVA, paging.FlagRead|paging.FlagWrite|paging.FlagUser)
		mapPage(kernelVA, paging.FlagRead|paging.FlagWrite)
	})

	It("should run user code until an environment call", func() {
		h := emu.NewHart(ram)
		loadCode(insts.NewAsm().
			Li(insts.RegA0, 5).
			Li(insts.RegA1, 7).
			R(insts.OpADD, insts.RegA2, insts.RegA0, insts.RegA1).
			Li(insts.RegT0, dataVA).
			Store(insts.OpSW, insts.RegA2, insts.RegT0, 4).
			Ecall())

		var traps []emu.Trap
		Expect(h.Run(boot(h), halt(h, &traps))).To(Succeed())

		Expect(traps).To(HaveLen(1))
		Expect(traps[0].Cause).To(Equal(emu.CauseUserEcall))
		Expect(traps[0].Frame.Arg(2)).To(Equal(uint32(12)))
		Expect(traps[0].Frame.PC).To(Equal(uint32(codeVA + 20)))
		Expect(h.InstructionCount()).To(Equal(uint64(6)))

		b, err := ram.Read(uint64(data.Addr())+4, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(binary.LittleEndian.Uint32(b)).To(Equal(uint32(12)))
	})

	It("should resume a restored frame after a trap", func() {
		h := emu.NewHart(ram)
		loadCode(insts.NewAsm().
			Li(insts.RegA0, 1).
			Ecall().
			I(insts.OpADDI, insts.RegA0, insts.RegA0, 1).
			Ecall())

		var causes []emu.Cause
		var values []uint32
		handler := emu.TrapHandlerFunc(func(t *emu.Trap) {
			causes = append(causes, t.Cause)
			values = append(values, t.Frame.Arg(0))
			if len(causes) == 2 {
				h.Halt(nil)
			}
			frame := t.Frame
			frame.PC += 4
			h.Restore(&frame)
		})

		Expect(h.Run(boot(h), handler)).To(Succeed())
		Expect(causes).To(Equal([]emu.Cause{emu.CauseUserEcall, emu.CauseUserEcall}))
		Expect(values).To(Equal([]uint32{1, 2}))
	})

	It("should enter the handler with interrupts disabled", func() {
		h := emu.NewHart(ram)
		loadCode(insts.NewAsm().Ecall())

		var enabled bool
		handler := emu.TrapHandlerFunc(func(*emu.Trap) {
			enabled = h.InterruptsEnabled()
			h.Halt(nil)
		})

		Expect(h.Run(boot(h), handler)).To(Succeed())
		Expect(enabled).To(BeFalse())
	})

	It("should raise a load page fault on an unmapped address", func() {
		h := emu.NewHart(ram)
		loadCode(insts.NewAsm().
			Li(insts.RegT0, 0x30000).
			I(insts.OpLW, insts.RegA0, insts.RegT0, 8))

		var traps []emu.Trap
		Expect(h.Run(boot(h), halt(h, &traps))).To(Succeed())
		Expect(traps[0].Cause).To(Equal(emu.CauseLoadPageFault))
		Expect(traps[0].Value).To(Equal(uint32(0x30008)))
		Expect(traps[0].Frame.PC).To(Equal(uint32(codeVA + 4)))
	})

	It("should refuse user stores to read-only pages", func() {
		h := emu.NewHart(ram)
		loadCode(insts.NewAsm().
			Li(insts.RegT0, codeVA).
			Store(insts.OpSW, insts.RegZero, insts.RegT0, 0))

		var traps []emu.Trap
		Expect(h.Run(boot(h), halt(h, &traps))).To(Succeed())
		Expect(traps[0].Cause).To(Equal(emu.CauseStorePageFault))
	})

	It("should refuse user access to kernel pages", func() {
		h := emu.NewHart(ram)
		loadCode(insts.NewAsm().
			Li(insts.RegT0, kernelVA).
			I(insts.OpLW, insts.RegA0, insts.RegT0, 0))

		var traps []emu.Trap
		Expect(h.Run(boot(h), halt(h, &traps))).To(Succeed())
		Expect(traps[0].Cause).To(Equal(emu.CauseLoadPageFault))
	})

	It("should leave the link register alone on a misaligned jump", func() {
		h := emu.NewHart(ram)
		loadCode(insts.NewAsm().
			Li(insts.RegT0, codeVA+2).
			Li(insts.RegRA, 77).
			I(insts.OpJALR, insts.RegRA, insts.RegT0, 0))

		var traps []emu.Trap
		Expect(h.Run(boot(h), halt(h, &traps))).To(Succeed())
		Expect(traps[0].Cause).To(Equal(emu.CauseInstructionMisaligned))
		Expect(traps[0].Value).To(Equal(uint32(codeVA + 2)))
		Expect(traps[0].Frame.PC).To(Equal(uint32(codeVA + 12)))
		Expect(traps[0].Frame.ReadReg(insts.RegRA)).To(Equal(uint32(77)))
	})

	It("should trap on illegal instructions", func() {
		h := emu.NewHart(ram)
		f, _, _ := space.Lookup(codeVA)
		Expect(ram.Write(uint64(f.Addr()), []byte{0xff, 0xff, 0xff, 0xff})).To(Succeed())

		var traps []emu.Trap
		Expect(h.Run(boot(h), halt(h, &traps))).To(Succeed())
		Expect(traps[0].Cause).To(Equal(emu.CauseIllegalInstruction))
		Expect(traps[0].Value).To(Equal(uint32(0xffffffff)))
	})

	It("should stop at the instruction budget", func() {
		h := emu.NewHart(ram, emu.WithMaxInstructions(100))
		loadCode(insts.NewAsm().Jal(insts.RegZero, 0))

		err := h.Run(boot(h), emu.TrapHandlerFunc(func(*emu.Trap) { h.Halt(nil) }))
		Expect(err).To(MatchError(emu.ErrMaxInstructions))
		Expect(h.InstructionCount()).To(Equal(uint64(100)))
		Expect(h.TLB().Stats().Hits).To(BeNumerically(">", 0))
	})

	It("should report kernel code that falls through", func() {
		h := emu.NewHart(ram)
		Expect(h.Run(func() {}, nil)).To(MatchError(emu.ErrKernelReturned))
	})

	It("should report kernel panics", func() {
		h := emu.NewHart(ram)
		Expect(h.Run(func() { panic("boom") }, nil)).To(MatchError(emu.ErrKernelPanic))
	})

	It("should return the halt error", func() {
		h := emu.NewHart(ram)
		stop := errors.New("stop")
		Expect(h.Run(func() { h.Halt(stop) }, nil)).To(MatchError(stop))
	})

	It("should never return from Restore", func() {
		h := emu.NewHart(ram)
		loadCode(insts.NewAsm().Ecall())

		reached := false
		err := h.Run(func() {
			h.SetSATP(space.RootPPN())
			h.Restore(&emu.RegFile{PC: codeVA})
			reached = true
		}, emu.TrapHandlerFunc(func(*emu.Trap) { h.Halt(nil) }))

		Expect(err).NotTo(HaveOccurred())
		Expect(reached).To(BeFalse())
	})

	Describe("kernel accesses", func() {
		var h *emu.Hart

		BeforeEach(func() {
			h = emu.NewHart(ram)
			h.SetSATP(space.RootPPN())
		})

		It("should write and read supervisor pages", func() {
			Expect(h.Store(kernelVA+0xffe, []byte{1, 2})).To(Succeed())

			b, err := h.Load(kernelVA+0xffe, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(b).To(Equal([]byte{1, 2}))
		})

		It("should fault on user pages", func() {
			Expect(h.Store(dataVA, []byte{1})).To(MatchError(emu.ErrAccessFault))
		})

		It("should fault when a store runs off a mapped page", func() {
			Expect(h.Store(kernelVA+0xfff, []byte{1, 2})).To(MatchError(emu.ErrAccessFault))
		})

		It("should address physical memory in bare mode", func() {
			h.SetSATP(0)
			Expect(h.Store(ramBase+0x100, []byte{9})).To(Succeed())

			b, err := ram.Read(ramBase+0x100, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(b).To(Equal([]byte{9}))
		})
	})

	Describe("interrupt bit", func() {
		It("should save and restore the previous state", func() {
			h := emu.NewHart(ram)
			h.RestoreInterrupts(true)

			prev := h.DisableInterrupts()
			Expect(prev).To(BeTrue())
			Expect(h.InterruptsEnabled()).To(BeFalse())

			h.RestoreInterrupts(prev)
			Expect(h.InterruptsEnabled()).To(BeTrue())
		})
	})
})
