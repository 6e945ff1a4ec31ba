// Package proc implements the process table: per-process state, address
// space construction, ELF loading, message queues and round-robin
// scheduling.
//
// The core is single-threaded by contract. A Manager and its processes must
// only be touched by the one goroutine currently in kernel context.
package proc

import (
	"github.com/go-logr/logr"

	"github.com/sarchlab/osmium/emu"
	"github.com/sarchlab/osmium/loader"
	"github.com/sarchlab/osmium/paging"
)

// ID identifies a process. It equals the process's slot index.
type ID uint32

// Process is one schedulable unit.
type Process struct {
	id       ID
	parent   ID
	kind     Kind
	space    *paging.Map
	status   Status
	context  emu.RegFile
	exitCode uint32
	queue    Queue

	policy    SegmentPolicy
	stackBase paging.VirtAddr
	stackSize uint64
	log       logr.Logger
}

// Init resets the slot: parent = self, kind user, status free, zero
// context and an empty message queue.
func (p *Process) Init(id ID, space *paging.Map) {
	p.id = id
	p.parent = id
	p.kind = KindUser
	p.space = space
	p.status = StatusFree
	p.context = emu.RegFile{}
	p.exitCode = 0
	p.queue.Reset()
}

// ID returns the process identity.
func (p *Process) ID() ID {
	return p.id
}

// Parent returns the parent identity.
func (p *Process) Parent() ID {
	return p.parent
}

// SetParent records the parent identity.
func (p *Process) SetParent(id ID) {
	p.parent = id
}

// Kind returns the process kind.
func (p *Process) Kind() Kind {
	return p.kind
}

// Status returns the scheduling state.
func (p *Process) Status() Status {
	return p.status
}

// SetStatus moves the process to s. Transitions among runnable, running
// and not-runnable belong to the scheduler and the trap layer.
func (p *Process) SetStatus(s Status) {
	p.status = s
}

// Context returns the saved execution context.
func (p *Process) Context() emu.RegFile {
	return p.context
}

// SetContext replaces the saved execution context.
func (p *Process) SetContext(frame emu.RegFile) {
	p.context = frame
}

// ExitCode returns the code recorded by Exit.
func (p *Process) ExitCode() uint32 {
	return p.exitCode
}

// AddressSpace returns the process's page table.
func (p *Process) AddressSpace() *paging.Map {
	return p.space
}

// PPN returns the root frame number of the process's page table.
func (p *Process) PPN() uint32 {
	return p.space.RootPPN()
}

// StackTop returns the initial stack pointer for the process.
func (p *Process) StackTop() uint32 {
	return uint32(uint64(p.stackBase) + p.stackSize)
}

// CreateAddressSpace clears the process's page table and copies the
// directory of template into it. Leaf tables are shared with the template.
func (p *Process) CreateAddressSpace(template *paging.Map) error {
	if err := p.space.Init(); err != nil {
		return err
	}
	return template.CloneDir(p.space)
}

// RegionAlloc backs every page of [va, va+RoundUp(size)) with a fresh frame
// mapped with flags. Leaf page tables missing for the range are taken from
// the same allocator, so a call consumes exactly one frame per page only
// when the leaf tables already exist. It stops at the first failure and
// returns a *MapError; pages mapped earlier by the same call stay mapped.
// The process's address space is active for the duration, and the
// previous one is restored on return.
func (p *Process) RegionAlloc(
	h Hart,
	va paging.VirtAddr,
	size uint64,
	flags paging.Flag,
	alloc paging.FrameAllocator,
) error {
	restore := activate(h, p.PPN())
	defer restore()

	size = paging.RoundUp(size, paging.PageSize)
	for page := range paging.Range(va, size) {
		frame, err := alloc.Alloc()
		if err != nil {
			return &MapError{VA: page.Addr(), Cause: err}
		}

		if err := p.space.Map(page, frame, flags, alloc); err != nil {
			if freer, ok := alloc.(paging.FrameFreer); ok {
				_ = freer.Free(frame)
			}
			return &MapError{VA: page.Addr(), Cause: err}
		}

		p.log.V(1).Info("mapped page", "va", page.Addr(), "frame", frame, "flags", flags)
	}

	return nil
}

// LoadElf maps every segment of img with the page-rounded memory size,
// zero-fills it, copies the file bytes over the start, and then maps the
// stack region. Segment protection follows the process's SegmentPolicy.
func (p *Process) LoadElf(h Hart, img *loader.Image, alloc paging.FrameAllocator) error {
	restore := activate(h, p.PPN())
	defer restore()

	for seg := range img.Segments() {
		size := paging.RoundUp(uint64(seg.MemSize), paging.PageSize)
		if uint64(seg.VirtAddr)+size > 1<<32 {
			return &ProgramError{Msg: "segment exceeds the address space"}
		}

		if err := p.RegionAlloc(h, seg.VirtAddr, size, p.policy.Flags(seg), alloc); err != nil {
			return err
		}
		if err := p.fill(h, seg, size); err != nil {
			return &ProgramError{Msg: "failed to populate segment", Err: err}
		}
	}

	return p.RegionAlloc(h, p.stackBase, p.stackSize, StackFlags, alloc)
}

// fill writes the segment's pages through the temporary window: zeroes
// over the whole region, then the file bytes from the region start.
func (p *Process) fill(h Hart, seg loader.Segment, size uint64) error {
	defer h.FlushTLB()
	defer func() { _ = p.space.UnmapTemp() }()

	start := uint64(seg.VirtAddr)
	end := start + uint64(len(seg.Data))

	var buf [paging.PageSize]byte
	for page := range paging.Range(seg.VirtAddr, size) {
		frame, _, err := p.space.Lookup(page)
		if err != nil {
			return err
		}

		window, err := p.space.MapTemp(frame, paging.FlagRead|paging.FlagWrite)
		if err != nil {
			return err
		}
		h.FlushTLB()

		clear(buf[:])
		lo := max(uint64(page), start)
		hi := min(uint64(page)+paging.PageSize, end)
		if lo < hi {
			copy(buf[lo-uint64(page):], seg.Data[lo-start:hi-start])
		}

		if err := h.Store(window, buf[:]); err != nil {
			return err
		}
	}

	return nil
}

// CopyAddressSpace gives p a private copy of every page src owns, at the
// same address and with the same flags. Pages shared with the template are
// not copied. Like RegionAlloc it stops at the first failure and leaves
// earlier copies mapped; the caller discards p.
func (p *Process) CopyAddressSpace(h Hart, src *Process, alloc paging.FrameAllocator) error {
	pages, err := src.space.Mappings()
	if err != nil {
		return err
	}

	restore := activate(h, p.PPN())
	defer restore()
	defer h.FlushTLB()
	defer func() { _ = p.space.UnmapTemp() }()

	for _, m := range pages {
		frame, err := alloc.Alloc()
		if err != nil {
			return &MapError{VA: m.Page.Addr(), Cause: err}
		}

		if err := p.space.Map(m.Page, frame, m.Flags, alloc); err != nil {
			if freer, ok := alloc.(paging.FrameFreer); ok {
				_ = freer.Free(frame)
			}
			return &MapError{VA: m.Page.Addr(), Cause: err}
		}

		if err := p.copyFrame(h, m.Frame, frame); err != nil {
			return &ProgramError{Msg: "failed to copy page", Err: err}
		}
	}

	p.log.V(1).Info("copied address space", "from", src.id, "pages", len(pages))
	return nil
}

// copyFrame copies one frame to another through the temporary window.
func (p *Process) copyFrame(h Hart, from, to paging.Frame) error {
	window, err := p.space.MapTemp(from, paging.FlagRead)
	if err != nil {
		return err
	}
	h.FlushTLB()

	data, err := h.Load(window, paging.PageSize)
	if err != nil {
		return err
	}

	if window, err = p.space.MapTemp(to, paging.FlagRead|paging.FlagWrite); err != nil {
		return err
	}
	h.FlushTLB()

	return h.Store(window, data)
}

// Run marks the process running, activates its address space and
// transfers control to its saved context. It never returns; the kernel is
// re-entered through a later trap.
func (p *Process) Run(h Hart) {
	p.log.V(1).Info("run", "pc", p.context.PC)

	p.status = StatusRunning
	h.DisableInterrupts()
	h.SetSATP(p.PPN())
	h.Restore(&p.context)

	panic("proc: context restore returned")
}

// Exit marks the process a zombie with code. Memory and the slot are
// reclaimed elsewhere.
func (p *Process) Exit(code uint32) {
	p.status = StatusZombie
	p.exitCode = code
}

// EnqueueMessage appends a message from sender, or fails with ErrQueueFull.
func (p *Process) EnqueueMessage(sender ID, payload uint32) error {
	return p.queue.Push(Message{Sender: sender, Payload: payload})
}

// DequeueMessage removes the oldest message, or fails with ErrQueueEmpty.
func (p *Process) DequeueMessage() (Message, error) {
	return p.queue.Pop()
}

// Pending returns the number of queued messages.
func (p *Process) Pending() int {
	return p.queue.Len()
}
