package paging_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/akita/v4/mem/mem"

	"github.com/sarchlab/osmium/paging"
)

var _ = Describe("Map", func() {
	var (
		storage *mem.Storage
		alloc   *paging.StackAllocator
		m       *paging.Map
	)

	BeforeEach(func() {
		storage = mem.NewStorage(1 << 20)
		alloc = paging.NewStackAllocator(0x10000, 0x40000)
		m = paging.NewMap(storage, 1, 2)
		Expect(m.Init()).To(Succeed())
	})

	It("should translate a fresh mapping", func() {
		Expect(m.Map(0x400000, 0x80, paging.FlagRead|paging.FlagWrite|paging.FlagUser, alloc)).To(Succeed())

		f, flags, err := m.Lookup(0x400000)
		Expect(err).NotTo(HaveOccurred())
		Expect(f).To(Equal(paging.Frame(0x80)))
		Expect(flags).To(Equal(paging.FlagValid | paging.FlagRead | paging.FlagWrite | paging.FlagUser))

		e, err := paging.Walk(storage, m.Root(), 0x400abc)
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Frame()).To(Equal(paging.Frame(0x80)))
	})

	It("should take one leaf table per directory slot", func() {
		before := alloc.Available()
		Expect(m.Map(0x400000, 0x80, paging.FlagRead|paging.FlagUser, alloc)).To(Succeed())
		Expect(m.Map(0x401000, 0x81, paging.FlagRead|paging.FlagUser, alloc)).To(Succeed())
		Expect(alloc.Available()).To(Equal(before - 1))

		Expect(m.Map(0x800000, 0x82, paging.FlagRead|paging.FlagUser, alloc)).To(Succeed())
		Expect(alloc.Available()).To(Equal(before - 2))
	})

	It("should refuse to remap a page", func() {
		Expect(m.Map(0x400000, 0x80, paging.FlagRead, alloc)).To(Succeed())
		Expect(m.Map(0x400000, 0x81, paging.FlagRead, alloc)).To(MatchError(paging.ErrRemap))
	})

	It("should reject flags that do not form a leaf", func() {
		Expect(m.Map(0x400000, 0x80, paging.FlagValid, alloc)).To(MatchError(paging.ErrInvalidFlags))
		Expect(m.Map(0x400000, 0x80, paging.FlagWrite, alloc)).To(MatchError(paging.ErrInvalidFlags))
	})

	It("should reserve the temporary window", func() {
		Expect(m.Map(paging.Page(paging.TempWindow), 0x80, paging.FlagRead, alloc)).
			To(MatchError(paging.ErrReserved))
	})

	It("should report unmapped pages", func() {
		_, _, err := m.Lookup(0x400000)
		Expect(err).To(MatchError(paging.ErrNotMapped))
	})

	It("should fail when no table frame can be allocated", func() {
		empty := paging.NewStackAllocator(0, 0)
		Expect(m.Map(0x400000, 0x80, paging.FlagRead, empty)).To(MatchError(paging.ErrOutOfMemory))
	})

	Describe("temporary window", func() {
		It("should map and unmap one frame", func() {
			va, err := m.MapTemp(0x90, paging.FlagRead|paging.FlagWrite)
			Expect(err).NotTo(HaveOccurred())
			Expect(va).To(Equal(paging.TempWindow))

			e, err := paging.Walk(storage, m.Root(), va+8)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Frame()).To(Equal(paging.Frame(0x90)))

			Expect(m.UnmapTemp()).To(Succeed())
			_, err = paging.Walk(storage, m.Root(), va)
			Expect(err).To(MatchError(paging.ErrNotMapped))
		})
	})

	Describe("template sharing", func() {
		var child *paging.Map

		BeforeEach(func() {
			Expect(m.Map(0x80000000, 0x80, paging.FlagRead|paging.FlagWrite|paging.FlagExec, alloc)).
				To(Succeed())

			child = paging.NewMap(storage, 3, 4)
			Expect(child.Init()).To(Succeed())
			Expect(m.CloneDir(child)).To(Succeed())
		})

		It("should see the template mappings", func() {
			f, flags, err := child.Lookup(0x80000000)
			Expect(err).NotTo(HaveOccurred())
			Expect(f).To(Equal(paging.Frame(0x80)))
			Expect(flags.Has(paging.FlagUser)).To(BeFalse())
		})

		It("should keep its own scratch table", func() {
			_, err := child.MapTemp(0x91, paging.FlagRead)
			Expect(err).NotTo(HaveOccurred())

			_, err = paging.Walk(storage, m.Root(), paging.TempWindow)
			Expect(err).To(MatchError(paging.ErrNotMapped))
		})

		It("should refuse user pages inside a shared table", func() {
			Expect(child.Map(0x80001000, 0x81, paging.FlagRead|paging.FlagUser, alloc)).
				To(MatchError(paging.ErrSharedTable))
		})

		It("should list only private mappings", func() {
			Expect(child.Map(0x10000, 0x90, paging.FlagRead|paging.FlagUser, alloc)).To(Succeed())
			Expect(child.Map(0x402000, 0x91, paging.FlagRead|paging.FlagWrite|paging.FlagUser, alloc)).
				To(Succeed())
			_, err := child.MapTemp(0x92, paging.FlagRead)
			Expect(err).NotTo(HaveOccurred())

			mappings, err := child.Mappings()
			Expect(err).NotTo(HaveOccurred())
			Expect(mappings).To(Equal([]paging.Mapping{
				{Page: 0x10000, Frame: 0x90, Flags: paging.FlagValid | paging.FlagRead | paging.FlagUser},
				{Page: 0x402000, Frame: 0x91,
					Flags: paging.FlagValid | paging.FlagRead | paging.FlagWrite | paging.FlagUser},
			}))
		})

		It("should release only private frames", func() {
			before := alloc.Available()
			for i := range 3 {
				f, err := alloc.Alloc()
				Expect(err).NotTo(HaveOccurred())
				page := paging.Page(0x10000 + i*paging.PageSize)
				Expect(child.Map(page, f, paging.FlagRead|paging.FlagUser, alloc)).To(Succeed())
			}
			Expect(alloc.Available()).To(Equal(before - 4))

			Expect(child.Release(alloc)).To(Succeed())
			Expect(alloc.Available()).To(Equal(before))

			_, _, err := child.Lookup(0x10000)
			Expect(err).To(MatchError(paging.ErrNotMapped))
			_, _, err = child.Lookup(0x80000000)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
