// Package paging provides the Sv32 address-translation primitives consumed by
// the process core: protection flags, pages, physical frames, a frame
// allocator, and a two-level page table stored in physical memory.
package paging

import (
	"errors"
	"iter"
	"strings"
)

// PageShift is log2 of PageSize.
const PageShift = 12

// PageSize is the size of one page and one physical frame in bytes.
const PageSize = 1 << PageShift

// Errors returned by the paging layer.
var (
	ErrOutOfMemory   = errors.New("out of physical frames")
	ErrRemap         = errors.New("page already mapped")
	ErrNotMapped     = errors.New("page not mapped")
	ErrInvalidFlags  = errors.New("invalid leaf protection flags")
	ErrSharedTable   = errors.New("page table is shared with the kernel template")
	ErrFrameRange    = errors.New("frame outside allocator range")
	ErrStackOverflow = errors.New("frame stack overflow")
)

// Flag is a set of page-table-entry bits.
type Flag uint32

// Sv32 page-table-entry bits.
const (
	FlagValid Flag = 1 << iota
	FlagRead
	FlagWrite
	FlagExec
	FlagUser
	FlagGlobal
	FlagAccessed
	FlagDirty
)

// FlagMask covers every bit a PTE may carry below the PPN field.
const FlagMask Flag = 0x3ff

// Has reports whether all bits in other are set in f.
func (f Flag) Has(other Flag) bool {
	return f&other == other
}

// IsLeaf reports whether a valid entry with these flags maps a frame rather
// than pointing to the next-level table.
func (f Flag) IsLeaf() bool {
	return f&(FlagRead|FlagWrite|FlagExec) != 0
}

func (f Flag) String() string {
	var sb strings.Builder
	for _, b := range []struct {
		flag Flag
		c    byte
	}{
		{FlagValid, 'V'}, {FlagRead, 'R'}, {FlagWrite, 'W'}, {FlagExec, 'X'},
		{FlagUser, 'U'}, {FlagGlobal, 'G'}, {FlagAccessed, 'A'}, {FlagDirty, 'D'},
	} {
		if f&b.flag != 0 {
			sb.WriteByte(b.c)
		} else {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// VirtAddr is a 32-bit virtual address.
type VirtAddr uint32

// PhysAddr is a physical address. Sv32 physical addresses are 34 bits wide.
type PhysAddr uint64

// Page is a page-aligned virtual address.
type Page VirtAddr

// PageOf returns the page containing va.
func PageOf(va VirtAddr) Page {
	return Page(va &^ (PageSize - 1))
}

// Addr returns the first virtual address of the page.
func (p Page) Addr() VirtAddr {
	return VirtAddr(p)
}

// VPN1 is the index into the root table.
func (p Page) VPN1() uint32 {
	return uint32(p) >> 22
}

// VPN0 is the index into the leaf table.
func (p Page) VPN0() uint32 {
	return (uint32(p) >> PageShift) & 0x3ff
}

// Frame is a physical page number.
type Frame uint32

// FrameOf returns the frame containing pa.
func FrameOf(pa PhysAddr) Frame {
	return Frame(pa >> PageShift)
}

// Addr returns the first physical address of the frame.
func (f Frame) Addr() PhysAddr {
	return PhysAddr(f) << PageShift
}

// RoundUp rounds n up to the next multiple of align. align must be a power
// of two.
func RoundUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// RoundDown rounds n down to a multiple of align. align must be a power of two.
func RoundDown(n, align uint64) uint64 {
	return n &^ (align - 1)
}

// PageCount returns how many pages Range(start, size) yields.
func PageCount(start VirtAddr, size uint64) uint64 {
	if size == 0 {
		return 0
	}
	first := RoundDown(uint64(start), PageSize)
	end := RoundUp(uint64(start)+size, PageSize)
	return (end - first) >> PageShift
}

// Range yields every page overlapping [start, start+size) in ascending
// order. Pages beyond the top of the 32-bit address space are not yielded.
func Range(start VirtAddr, size uint64) iter.Seq[Page] {
	return func(yield func(Page) bool) {
		if size == 0 {
			return
		}
		first := RoundDown(uint64(start), PageSize)
		end := RoundUp(uint64(start)+size, PageSize)
		if end > 1<<32 {
			end = 1 << 32
		}
		for a := first; a < end; a += PageSize {
			if !yield(Page(a)) {
				return
			}
		}
	}
}

// FrameAllocator hands out one physical frame at a time.
type FrameAllocator interface {
	Alloc() (Frame, error)
}

// FrameFreer takes back frames obtained from a FrameAllocator.
type FrameFreer interface {
	Free(f Frame) error
}

// PhysMemory is byte-addressable physical memory.
type PhysMemory interface {
	Read(addr uint64, n uint64) ([]byte, error)
	Write(addr uint64, data []byte) error
}
