package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/sarchlab/osmium/paging"
)

// Builder assembles a minimal 32-bit little-endian RISC-V executable: an
// ELF header, a program-header table right after it, and the segment bytes
// packed after the table in header order.
type Builder struct {
	entry    paging.VirtAddr
	segments []Segment
}

// NewBuilder starts an image with the given entry point.
func NewBuilder(entry paging.VirtAddr) *Builder {
	return &Builder{entry: entry}
}

// AddLoad appends a PT_LOAD segment. memSize is raised to len(data) when
// smaller.
func (b *Builder) AddLoad(va paging.VirtAddr, data []byte, memSize uint32, flags SegmentFlags) *Builder {
	if memSize < uint32(len(data)) {
		memSize = uint32(len(data))
	}
	return b.Add(Segment{
		Type:     uint32(elf.PT_LOAD),
		VirtAddr: va,
		PhysAddr: paging.PhysAddr(va),
		MemSize:  memSize,
		FileSize: uint32(len(data)),
		Flags:    flags,
		Data:     data,
	})
}

// Add appends an arbitrary program header. Offset is assigned by Bytes.
func (b *Builder) Add(seg Segment) *Builder {
	b.segments = append(b.segments, seg)
	return b
}

// Bytes renders the image.
func (b *Builder) Bytes() []byte {
	hdr := elf.Header32{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     uint32(b.entry),
		Phoff:     headerSize,
		Ehsize:    headerSize,
		Phentsize: progHdrSize,
		Phnum:     uint16(len(b.segments)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, &hdr)

	offset := uint32(headerSize + progHdrSize*len(b.segments))
	for _, seg := range b.segments {
		ph := elf.Prog32{
			Type:   seg.Type,
			Flags:  uint32(seg.Flags),
			Off:    offset,
			Vaddr:  uint32(seg.VirtAddr),
			Paddr:  uint32(seg.PhysAddr),
			Filesz: uint32(len(seg.Data)),
			Memsz:  seg.MemSize,
			Align:  paging.PageSize,
		}
		_ = binary.Write(&buf, binary.LittleEndian, &ph)
		offset += uint32(len(seg.Data))
	}

	for _, seg := range b.segments {
		buf.Write(seg.Data)
	}

	return buf.Bytes()
}
