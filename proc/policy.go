package proc

import (
	"github.com/sarchlab/osmium/loader"
	"github.com/sarchlab/osmium/paging"
)

// SegmentPolicy decides the page protection of loaded ELF segments.
type SegmentPolicy uint8

const (
	// UniformRWX maps every segment valid, user, read, write and execute,
	// whatever its program header says.
	UniformRWX SegmentPolicy = iota

	// SegmentFlags maps every segment with its own decoded protection
	// plus user.
	SegmentFlags
)

func (pol SegmentPolicy) String() string {
	if pol == SegmentFlags {
		return "segment-flags"
	}
	return "uniform-rwx"
}

// Flags returns the page flags for seg.
func (pol SegmentPolicy) Flags(seg loader.Segment) paging.Flag {
	if pol == SegmentFlags {
		return seg.Flags.PageFlags() | paging.FlagUser
	}
	return paging.FlagValid | paging.FlagUser |
		paging.FlagRead | paging.FlagWrite | paging.FlagExec
}

// StackFlags is the protection of the user stack region.
const StackFlags = paging.FlagValid | paging.FlagRead | paging.FlagWrite | paging.FlagUser
