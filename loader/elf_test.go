package loader_test

import (
	"debug/elf"
	"encoding/binary"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/osmium/loader"
	"github.com/sarchlab/osmium/paging"
)

var _ = Describe("ELF Loader", func() {
	code := []byte{
		0x93, 0x00, 0xa0, 0x02, // addi x1, x0, 42
		0x73, 0x00, 0x00, 0x00, // ecall
	}

	Describe("Parse", func() {
		Context("with a valid image", func() {
			var raw []byte

			BeforeEach(func() {
				raw = loader.NewBuilder(0x10000).
					AddLoad(0x10000, code, 0, loader.SegmentFlagRead|loader.SegmentFlagExecute).
					Bytes()
			})

			It("should parse without error", func() {
				img, err := loader.Parse(raw)
				Expect(err).NotTo(HaveOccurred())
				Expect(img).NotTo(BeNil())
			})

			It("should extract the entry point", func() {
				img, err := loader.Parse(raw)
				Expect(err).NotTo(HaveOccurred())
				Expect(img.Entry()).To(Equal(paging.VirtAddr(0x10000)))
			})

			It("should report the program header table geometry", func() {
				img, err := loader.Parse(raw)
				Expect(err).NotTo(HaveOccurred())
				Expect(img.NumSegments()).To(Equal(1))
				Expect(img.Header().Phoff).To(Equal(uint32(52)))
				Expect(img.Header().Phentsize).To(Equal(uint16(32)))
			})
		})

		Context("with a bad magic", func() {
			It("should reject a non-ELF buffer", func() {
				_, err := loader.Parse([]byte("not an elf file at all, but long enough to hold a header......"))
				Expect(err).To(MatchError(loader.ErrInvalidMagic))
			})

			It("should reject an empty buffer", func() {
				_, err := loader.Parse(nil)
				Expect(err).To(MatchError(loader.ErrInvalidMagic))
			})

			It("should reject a buffer differing in any magic byte", func() {
				for i := 0; i < 4; i++ {
					raw := loader.NewBuilder(0).Bytes()
					raw[i] ^= 0xff
					_, err := loader.Parse(raw)
					Expect(err).To(MatchError(loader.ErrInvalidMagic))
				}
			})
		})

		Context("without cross-validation", func() {
			It("should accept a 64-bit class byte and a foreign machine", func() {
				raw := loader.NewBuilder(0x400).Bytes()
				raw[elf.EI_CLASS] = byte(elf.ELFCLASS64)
				binary.LittleEndian.PutUint16(raw[18:20], uint16(elf.EM_X86_64))

				img, err := loader.Parse(raw)
				Expect(err).NotTo(HaveOccurred())
				Expect(img.Entry()).To(Equal(paging.VirtAddr(0x400)))
			})
		})

		Context("with a truncated image", func() {
			It("should reject a header shorter than 52 bytes", func() {
				raw := loader.NewBuilder(0).Bytes()[:20]
				_, err := loader.Parse(raw)
				Expect(err).To(MatchError(loader.ErrTruncated))
			})

			It("should reject a program header table past the end", func() {
				raw := loader.NewBuilder(0).AddLoad(0x1000, code, 0, loader.SegmentFlagRead).Bytes()
				binary.LittleEndian.PutUint16(raw[44:46], 40) // phnum
				_, err := loader.Parse(raw)
				Expect(err).To(MatchError(loader.ErrTruncated))
			})

			It("should reject a phentsize smaller than a program header", func() {
				raw := loader.NewBuilder(0).AddLoad(0x1000, code, 0, loader.SegmentFlagRead).Bytes()
				binary.LittleEndian.PutUint16(raw[42:44], 16) // phentsize
				_, err := loader.Parse(raw)
				Expect(err).To(MatchError(loader.ErrProgramHeader))
			})
		})

		Context("with out-of-bounds segment data", func() {
			It("should reject offset+filesz beyond the image", func() {
				raw := loader.NewBuilder(0).AddLoad(0x1000, code, 0, loader.SegmentFlagRead).Bytes()
				// p_filesz of the first program header
				binary.LittleEndian.PutUint32(raw[52+16:52+20], 0x10000)
				binary.LittleEndian.PutUint32(raw[52+20:52+24], 0x10000)
				_, err := loader.Parse(raw)
				Expect(err).To(MatchError(loader.ErrSegmentBounds))
			})

			It("should reject an offset that wraps around", func() {
				raw := loader.NewBuilder(0).AddLoad(0x1000, code, 0, loader.SegmentFlagRead).Bytes()
				binary.LittleEndian.PutUint32(raw[52+4:52+8], 0xffffffff)
				_, err := loader.Parse(raw)
				Expect(err).To(MatchError(loader.ErrSegmentBounds))
			})

			It("should reject filesz larger than memsz", func() {
				raw := loader.NewBuilder(0).AddLoad(0x1000, code, 0, loader.SegmentFlagRead).Bytes()
				binary.LittleEndian.PutUint32(raw[52+20:52+24], 2)
				_, err := loader.Parse(raw)
				Expect(err).To(MatchError(loader.ErrSegmentSize))
			})
		})
	})

	Describe("Segments", func() {
		var (
			raw  []byte
			img  *loader.Image
			data [][]byte
		)

		BeforeEach(func() {
			data = [][]byte{
				code,
				{0x01, 0x02, 0x03, 0x04},
				{0xaa},
			}
			raw = loader.NewBuilder(0x10000).
				AddLoad(0x10000, data[0], 0, loader.SegmentFlagRead|loader.SegmentFlagExecute).
				AddLoad(0x20000, data[1], 8192, loader.SegmentFlagRead|loader.SegmentFlagWrite).
				Add(loader.Segment{Type: uint32(elf.PT_NOTE), Flags: loader.SegmentFlagRead, MemSize: 1, Data: data[2]}).
				Bytes()

			var err error
			img, err = loader.Parse(raw)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should yield phnum segments in header order, including non-loadable ones", func() {
			Expect(img.Header().Phnum).To(Equal(uint16(3)))
			Expect(img.Header().Phentsize).To(Equal(uint16(32)))
			Expect(img.Header().Phoff).To(Equal(uint32(52)))

			var got []loader.Segment
			for seg := range img.Segments() {
				got = append(got, seg)
			}

			Expect(got).To(HaveLen(3))
			Expect(got[0].VirtAddr).To(Equal(paging.VirtAddr(0x10000)))
			Expect(got[1].VirtAddr).To(Equal(paging.VirtAddr(0x20000)))
			Expect(got[2].Type).To(Equal(uint32(elf.PT_NOTE)))
		})

		It("should borrow exactly filesz bytes starting at the segment offset", func() {
			i := 0
			for seg := range img.Segments() {
				Expect(seg.Data).To(HaveLen(int(seg.FileSize)))
				Expect(seg.Data[0]).To(Equal(raw[seg.Offset]))
				Expect(seg.Data).To(Equal(data[i]))
				i++
			}
		})

		It("should keep memsz separate from filesz", func() {
			for seg := range img.Segments() {
				if seg.VirtAddr == 0x20000 {
					Expect(seg.MemSize).To(Equal(uint32(8192)))
					Expect(seg.FileSize).To(Equal(uint32(4)))
				}
			}
		})

		It("should restart from the first header on every walk", func() {
			count := func() int {
				n := 0
				for range img.Segments() {
					n++
				}
				return n
			}
			Expect(count()).To(Equal(3))
			Expect(count()).To(Equal(3))

			for seg := range img.Segments() {
				Expect(seg.VirtAddr).To(Equal(paging.VirtAddr(0x10000)))
				break
			}
		})

		It("should not let callers append into the image", func() {
			for seg := range img.Segments() {
				Expect(cap(seg.Data)).To(Equal(len(seg.Data)))
			}
		})
	})

	Describe("SegmentFlags", func() {
		It("should decode bit0 as execute, bit1 as write, bit2 as read", func() {
			Expect(loader.SegmentFlags(0).PageFlags()).To(Equal(paging.FlagValid))
			Expect(loader.SegmentFlags(1).PageFlags()).To(Equal(paging.FlagValid | paging.FlagExec))
			Expect(loader.SegmentFlags(2).PageFlags()).To(Equal(paging.FlagValid | paging.FlagWrite))
			Expect(loader.SegmentFlags(4).PageFlags()).To(Equal(paging.FlagValid | paging.FlagRead))
			Expect(loader.SegmentFlags(7).PageFlags()).To(Equal(
				paging.FlagValid | paging.FlagRead | paging.FlagWrite | paging.FlagExec))
		})

		It("should match the debug/elf PF_* bits", func() {
			Expect(uint32(loader.SegmentFlagExecute)).To(Equal(uint32(elf.PF_X)))
			Expect(uint32(loader.SegmentFlagWrite)).To(Equal(uint32(elf.PF_W)))
			Expect(uint32(loader.SegmentFlagRead)).To(Equal(uint32(elf.PF_R)))
		})
	})
})
