package paging

import "fmt"

// StackAllocator hands out frames from a fixed physical range in LIFO order.
// The first Alloc after construction returns the lowest frame of the range.
type StackAllocator struct {
	first, end Frame
	stack      []Frame
	top        int
}

// NewStackAllocator creates an allocator owning every whole frame in
// [start, end).
func NewStackAllocator(start, end PhysAddr) *StackAllocator {
	first := Frame(RoundUp(uint64(start), PageSize) >> PageShift)
	last := Frame(RoundDown(uint64(end), PageSize) >> PageShift)
	if last < first {
		last = first
	}

	n := int(last - first)
	a := &StackAllocator{
		first: first,
		end:   last,
		stack: make([]Frame, n),
		top:   n,
	}
	for i := 0; i < n; i++ {
		a.stack[i] = last - 1 - Frame(i)
	}

	return a
}

// Alloc pops one frame.
func (a *StackAllocator) Alloc() (Frame, error) {
	if a.top == 0 {
		return 0, ErrOutOfMemory
	}
	a.top--
	return a.stack[a.top], nil
}

// Free pushes a frame back.
func (a *StackAllocator) Free(f Frame) error {
	if f < a.first || f >= a.end {
		return fmt.Errorf("free frame 0x%x: %w", uint32(f), ErrFrameRange)
	}
	if a.top == len(a.stack) {
		return ErrStackOverflow
	}
	a.stack[a.top] = f
	a.top++
	return nil
}

// Available returns the number of frames that can still be allocated.
func (a *StackAllocator) Available() int {
	return a.top
}

// Capacity returns the number of frames the allocator manages.
func (a *StackAllocator) Capacity() int {
	return len(a.stack)
}
