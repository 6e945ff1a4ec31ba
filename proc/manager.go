package proc

import (
	"fmt"
	"iter"

	"github.com/go-logr/logr"

	"github.com/sarchlab/osmium/paging"
)

// Default user stack placement: the region ends at the bottom of the
// kernel's RAM window.
const (
	DefaultStackBase paging.VirtAddr = 0x7fffc000
	DefaultStackSize uint64          = 0x4000
)

// Manager owns the fixed process table, the free-slot stack and the
// round-robin cursor.
type Manager struct {
	procs  []Process
	owned  []bool
	free   []ID
	top    int
	cursor int

	policy    SegmentPolicy
	stackBase paging.VirtAddr
	stackSize uint64
	log       logr.Logger
}

// Option is a functional option for configuring the Manager.
type Option func(*Manager)

// WithSegmentPolicy selects how ELF segment protection is applied.
func WithSegmentPolicy(pol SegmentPolicy) Option {
	return func(m *Manager) {
		m.policy = pol
	}
}

// WithUserStack sets the fixed stack region mapped by LoadElf.
func WithUserStack(base paging.VirtAddr, size uint64) Option {
	return func(m *Manager) {
		m.stackBase = base
		m.stackSize = size
	}
}

// WithLogger sets the logger handed to every process.
func WithLogger(log logr.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager builds a table with one slot per root/scratch frame pair.
// Slot i gets ID i and its own page table in roots[i] with scratch table
// scratches[i]. Mismatched or empty inputs are a build error and panic.
func NewManager(mem paging.PhysMemory, roots, scratches []paging.Frame, opts ...Option) *Manager {
	if len(roots) == 0 || len(roots) != len(scratches) {
		panic(fmt.Sprintf("proc: %d page tables for %d scratch tables", len(roots), len(scratches)))
	}

	n := len(roots)
	m := &Manager{
		procs:     make([]Process, n),
		owned:     make([]bool, n),
		free:      make([]ID, n),
		top:       n,
		policy:    UniformRWX,
		stackBase: DefaultStackBase,
		stackSize: DefaultStackSize,
		log:       logr.Discard(),
	}

	for _, opt := range opts {
		opt(m)
	}

	for i := range m.procs {
		p := &m.procs[i]
		p.Init(ID(i), paging.NewMap(mem, roots[i], scratches[i]))
		p.policy = m.policy
		p.stackBase = m.stackBase
		p.stackSize = m.stackSize
		p.log = m.log.WithValues("pid", i)
		m.free[i] = ID(i)
	}

	return m
}

// Len returns the number of slots.
func (m *Manager) Len() int {
	return len(m.procs)
}

// Available returns the number of free slots.
func (m *Manager) Available() int {
	return m.top
}

// Cursor returns the slot index the next Schedule starts from.
func (m *Manager) Cursor() int {
	return m.cursor
}

// Lookup returns the process with the given ID.
func (m *Manager) Lookup(id ID) (*Process, error) {
	if int(id) >= len(m.procs) {
		return nil, fmt.Errorf("pid %d: %w", id, ErrNoSuchProcess)
	}
	return &m.procs[id], nil
}

// Allocate pops a free slot. The caller must initialize it before use.
func (m *Manager) Allocate() (*Process, error) {
	if m.top == 0 {
		return nil, ErrOutOfProcesses
	}

	m.top--
	id := m.free[m.top]
	m.owned[id] = true

	return &m.procs[id], nil
}

// Deallocate returns p's slot to the free stack and marks it free. Other
// fields are left as they are. A full stack reports ErrFreeListOverflow
// and a slot that is not currently handed out reports ErrNotAllocated.
func (m *Manager) Deallocate(p *Process) error {
	id := p.id
	if int(id) >= len(m.procs) || &m.procs[id] != p {
		return fmt.Errorf("pid %d: %w", id, ErrNoSuchProcess)
	}
	if m.top == len(m.free) {
		return fmt.Errorf("pid %d: %w", id, ErrFreeListOverflow)
	}
	if !m.owned[id] {
		return fmt.Errorf("pid %d: %w", id, ErrNotAllocated)
	}

	m.free[m.top] = id
	m.top++
	m.owned[id] = false
	p.status = StatusFree

	return nil
}

// Schedule returns the first runnable slot at or after the cursor, wrapping
// once, and moves the cursor past it. It returns false and leaves the
// cursor alone when nothing is runnable.
func (m *Manager) Schedule() (*Process, bool) {
	n := len(m.procs)
	for i := 0; i < n; i++ {
		idx := (m.cursor + i) % n
		if m.procs[idx].status == StatusRunnable {
			m.cursor = (idx + 1) % n
			return &m.procs[idx], true
		}
	}
	return nil, false
}

// Processes yields every allocated slot in index order.
func (m *Manager) Processes() iter.Seq[*Process] {
	return func(yield func(*Process) bool) {
		for i := range m.procs {
			if m.owned[i] && !yield(&m.procs[i]) {
				return
			}
		}
	}
}
