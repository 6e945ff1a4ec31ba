// Package loader provides ELF program-header loading for 32-bit RISC-V
// executables.
//
// Only the 4-byte magic is validated; class, machine and version are not
// checked. Every program header in the table is yielded, loadable or not.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/sarchlab/osmium/paging"
)

// Magic is the first word of every ELF image, read little-endian.
const Magic uint32 = 0x464c457f

const (
	headerSize  = 52
	progHdrSize = 32
)

// Errors returned by Parse.
var (
	ErrInvalidMagic  = errors.New("invalid ELF magic")
	ErrTruncated     = errors.New("ELF image truncated")
	ErrProgramHeader = errors.New("malformed program header table")
	ErrSegmentBounds = errors.New("segment data outside image")
	ErrSegmentSize   = errors.New("segment file size exceeds memory size")
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// PageFlags decodes the segment protection into page-table flags. The
// valid bit is always present.
func (f SegmentFlags) PageFlags() paging.Flag {
	flag := paging.FlagValid
	if f&SegmentFlagExecute != 0 {
		flag |= paging.FlagExec
	}
	if f&SegmentFlagWrite != 0 {
		flag |= paging.FlagWrite
	}
	if f&SegmentFlagRead != 0 {
		flag |= paging.FlagRead
	}
	return flag
}

// Segment is one entry of the program-header table.
type Segment struct {
	// Type is the raw p_type value. It is reported but not interpreted.
	Type uint32
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr paging.VirtAddr
	// PhysAddr is the physical load hint. Unused by the kernel.
	PhysAddr paging.PhysAddr
	// Offset is the position of the segment's file bytes in the image.
	Offset uint32
	// MemSize is the size in memory (may be larger than FileSize for BSS).
	MemSize uint32
	// FileSize is the number of bytes backed by the image.
	FileSize uint32
	// Flags contains the segment protection flags.
	Flags SegmentFlags
	// Data borrows the segment's file bytes from the image.
	Data []byte
}

// Image is a validated view over a raw ELF buffer. It borrows the buffer and
// must not outlive it.
type Image struct {
	raw    []byte
	header elf.Header32
}

// Parse validates b and returns an image view over it. Every program header
// is checked to lie inside b, and every segment's file bytes are checked to
// lie inside b, before anything is returned.
func Parse(b []byte) (*Image, error) {
	if len(b) < 4 || binary.LittleEndian.Uint32(b[:4]) != Magic {
		return nil, ErrInvalidMagic
	}
	if len(b) < headerSize {
		return nil, fmt.Errorf("header needs %d bytes, have %d: %w", headerSize, len(b), ErrTruncated)
	}

	img := &Image{raw: b}
	if err := binary.Read(bytes.NewReader(b[:headerSize]), binary.LittleEndian, &img.header); err != nil {
		return nil, fmt.Errorf("failed to decode ELF header: %w", err)
	}

	if img.header.Phnum == 0 {
		return img, nil
	}
	if img.header.Phentsize < progHdrSize {
		return nil, fmt.Errorf("phentsize %d: %w", img.header.Phentsize, ErrProgramHeader)
	}

	tableEnd := uint64(img.header.Phoff) +
		uint64(img.header.Phnum)*uint64(img.header.Phentsize)
	if tableEnd > uint64(len(b)) {
		return nil, fmt.Errorf("program headers end at %d, image is %d bytes: %w",
			tableEnd, len(b), ErrTruncated)
	}

	for i := 0; i < int(img.header.Phnum); i++ {
		ph := img.progHeader(i)
		if uint64(ph.Off)+uint64(ph.Filesz) > uint64(len(b)) {
			return nil, fmt.Errorf("segment %d [0x%x, +0x%x) in %d-byte image: %w",
				i, ph.Off, ph.Filesz, len(b), ErrSegmentBounds)
		}
		if ph.Filesz > ph.Memsz {
			return nil, fmt.Errorf("segment %d filesz 0x%x memsz 0x%x: %w",
				i, ph.Filesz, ph.Memsz, ErrSegmentSize)
		}
	}

	return img, nil
}

// Entry returns the program entry point.
func (img *Image) Entry() paging.VirtAddr {
	return paging.VirtAddr(img.header.Entry)
}

// NumSegments returns the number of program headers.
func (img *Image) NumSegments() int {
	return int(img.header.Phnum)
}

// Header returns a copy of the decoded ELF header.
func (img *Image) Header() elf.Header32 {
	return img.header
}

// Segments walks the program-header table in order. The sequence is lazy,
// finite, and restarts from the first header each time it is ranged over.
func (img *Image) Segments() iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		for i := 0; i < int(img.header.Phnum); i++ {
			if !yield(img.segment(i)) {
				return
			}
		}
	}
}

func (img *Image) progHeader(i int) elf.Prog32 {
	off := int(img.header.Phoff) + i*int(img.header.Phentsize)

	var ph elf.Prog32
	_ = binary.Read(bytes.NewReader(img.raw[off:off+progHdrSize]), binary.LittleEndian, &ph)

	return ph
}

func (img *Image) segment(i int) Segment {
	ph := img.progHeader(i)
	end := ph.Off + ph.Filesz

	return Segment{
		Type:     ph.Type,
		VirtAddr: paging.VirtAddr(ph.Vaddr),
		PhysAddr: paging.PhysAddr(ph.Paddr),
		Offset:   ph.Off,
		MemSize:  ph.Memsz,
		FileSize: ph.Filesz,
		Flags:    SegmentFlags(ph.Flags),
		Data:     img.raw[ph.Off:end:end],
	}
}
