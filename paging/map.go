package paging

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	entriesPerTable = 1024
	pteBytes        = 4

	// ScratchSlot is the root-table index whose leaf table is the map's own
	// scratch table. It is never copied by CloneDir.
	ScratchSlot = entriesPerTable - 1

	// TempWindow is the virtual address of the temporary-mapping window
	// served by the scratch table.
	TempWindow VirtAddr = ScratchSlot << 22
)

// ErrReserved is returned when a regular mapping targets the temporary window.
var ErrReserved = errors.New("address reserved for temporary mappings")

var zeroPage [PageSize]byte

// PTE is an Sv32 page-table entry.
type PTE uint32

// MakePTE builds an entry pointing at f with the given flags.
func MakePTE(f Frame, flags Flag) PTE {
	return PTE(uint32(f)<<10 | uint32(flags&FlagMask))
}

// Frame returns the frame the entry points to.
func (e PTE) Frame() Frame {
	return Frame(uint32(e) >> 10)
}

// Flags returns the flag bits of the entry.
func (e PTE) Flags() Flag {
	return Flag(e) & FlagMask
}

// Valid reports whether the V bit is set.
func (e PTE) Valid() bool {
	return Flag(e)&FlagValid != 0
}

func readPTE(mem PhysMemory, table Frame, idx uint32) (PTE, error) {
	b, err := mem.Read(uint64(table.Addr())+uint64(idx)*pteBytes, pteBytes)
	if err != nil {
		return 0, fmt.Errorf("read pte %d of table 0x%x: %w", idx, uint32(table), err)
	}
	return PTE(binary.LittleEndian.Uint32(b)), nil
}

func writePTE(mem PhysMemory, table Frame, idx uint32, e PTE) error {
	var b [pteBytes]byte
	binary.LittleEndian.PutUint32(b[:], uint32(e))
	if err := mem.Write(uint64(table.Addr())+uint64(idx)*pteBytes, b[:]); err != nil {
		return fmt.Errorf("write pte %d of table 0x%x: %w", idx, uint32(table), err)
	}
	return nil
}

func zeroFrame(mem PhysMemory, f Frame) error {
	return mem.Write(uint64(f.Addr()), zeroPage[:])
}

// Walk returns the leaf entry translating va in the table rooted at root.
// Superpages are not supported and report ErrNotMapped.
func Walk(mem PhysMemory, root Frame, va VirtAddr) (PTE, error) {
	page := PageOf(va)

	dir, err := readPTE(mem, root, page.VPN1())
	if err != nil {
		return 0, err
	}
	if !dir.Valid() || dir.Flags().IsLeaf() {
		return 0, ErrNotMapped
	}

	leaf, err := readPTE(mem, dir.Frame(), page.VPN0())
	if err != nil {
		return 0, err
	}
	if !leaf.Valid() || !leaf.Flags().IsLeaf() {
		return 0, ErrNotMapped
	}

	return leaf, nil
}

// Map is an address-space handle: a root table plus a scratch table, both
// living in physical memory.
type Map struct {
	mem     PhysMemory
	root    Frame
	scratch Frame
}

// NewMap wires a handle to its root and scratch frames. Call Init before use.
func NewMap(mem PhysMemory, root, scratch Frame) *Map {
	return &Map{mem: mem, root: root, scratch: scratch}
}

// Init clears both tables and links the scratch table into ScratchSlot.
func (m *Map) Init() error {
	if err := zeroFrame(m.mem, m.root); err != nil {
		return err
	}
	if err := zeroFrame(m.mem, m.scratch); err != nil {
		return err
	}
	return writePTE(m.mem, m.root, ScratchSlot, MakePTE(m.scratch, FlagValid))
}

// Root returns the root-table frame.
func (m *Map) Root() Frame {
	return m.root
}

// RootPPN returns the value the address-translation register takes to
// activate this map.
func (m *Map) RootPPN() uint32 {
	return uint32(m.root)
}

// CloneDir copies every root entry except ScratchSlot into dst. Leaf tables
// are shared, not copied.
func (m *Map) CloneDir(dst *Map) error {
	dir, err := m.mem.Read(uint64(m.root.Addr()), ScratchSlot*pteBytes)
	if err != nil {
		return fmt.Errorf("read template directory: %w", err)
	}
	if err := dst.mem.Write(uint64(dst.root.Addr()), dir); err != nil {
		return fmt.Errorf("write directory: %w", err)
	}
	return nil
}

// Map installs one leaf mapping page -> frame. A leaf table is taken from
// alloc when the directory slot is empty. Tables created for non-user
// mappings are marked global and refuse later user mappings.
func (m *Map) Map(page Page, frame Frame, flags Flag, alloc FrameAllocator) error {
	flags |= FlagValid
	if !flags.IsLeaf() || (flags.Has(FlagWrite) && !flags.Has(FlagRead)) {
		return fmt.Errorf("map 0x%x %s: %w", uint32(page), flags, ErrInvalidFlags)
	}
	if page.VPN1() == ScratchSlot {
		return fmt.Errorf("map 0x%x: %w", uint32(page), ErrReserved)
	}

	table, err := m.leafTable(page, flags.Has(FlagUser), alloc)
	if err != nil {
		return err
	}

	old, err := readPTE(m.mem, table, page.VPN0())
	if err != nil {
		return err
	}
	if old.Valid() {
		return fmt.Errorf("map 0x%x: %w", uint32(page), ErrRemap)
	}

	return writePTE(m.mem, table, page.VPN0(), MakePTE(frame, flags))
}

func (m *Map) leafTable(page Page, user bool, alloc FrameAllocator) (Frame, error) {
	dir, err := readPTE(m.mem, m.root, page.VPN1())
	if err != nil {
		return 0, err
	}
	if dir.Valid() {
		if user && dir.Flags().Has(FlagGlobal) {
			return 0, fmt.Errorf("map 0x%x: %w", uint32(page), ErrSharedTable)
		}
		return dir.Frame(), nil
	}

	if alloc == nil {
		return 0, ErrNotMapped
	}
	table, err := alloc.Alloc()
	if err != nil {
		return 0, err
	}
	if err := zeroFrame(m.mem, table); err != nil {
		return 0, err
	}

	dirFlags := FlagValid
	if !user {
		dirFlags |= FlagGlobal
	}
	if err := writePTE(m.mem, m.root, page.VPN1(), MakePTE(table, dirFlags)); err != nil {
		return 0, err
	}

	return table, nil
}

// Lookup returns the frame and flags page is mapped to.
func (m *Map) Lookup(page Page) (Frame, Flag, error) {
	e, err := Walk(m.mem, m.root, page.Addr())
	if err != nil {
		return 0, 0, err
	}
	return e.Frame(), e.Flags(), nil
}

// MapTemp maps frame at TempWindow through the scratch table, replacing any
// previous temporary mapping. The caller flushes stale translations.
func (m *Map) MapTemp(frame Frame, flags Flag) (VirtAddr, error) {
	flags |= FlagValid
	if !flags.IsLeaf() {
		return 0, ErrInvalidFlags
	}
	if err := writePTE(m.mem, m.scratch, 0, MakePTE(frame, flags)); err != nil {
		return 0, err
	}
	return TempWindow, nil
}

// UnmapTemp clears the temporary mapping.
func (m *Map) UnmapTemp() error {
	return writePTE(m.mem, m.scratch, 0, 0)
}

// Mapping is one leaf translation.
type Mapping struct {
	Page  Page
	Frame Frame
	Flags Flag
}

// Mappings returns every leaf mapping reachable through non-global
// directory slots, in address order. Template and scratch mappings are
// not included.
func (m *Map) Mappings() ([]Mapping, error) {
	var out []Mapping

	for i := uint32(0); i < ScratchSlot; i++ {
		dir, err := readPTE(m.mem, m.root, i)
		if err != nil {
			return nil, err
		}
		if !dir.Valid() || dir.Flags().Has(FlagGlobal) || dir.Flags().IsLeaf() {
			continue
		}

		raw, err := m.mem.Read(uint64(dir.Frame().Addr()), PageSize)
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < entriesPerTable; j++ {
			leaf := PTE(binary.LittleEndian.Uint32(raw[j*pteBytes:]))
			if !leaf.Valid() || !leaf.Flags().IsLeaf() {
				continue
			}
			out = append(out, Mapping{
				Page:  Page(i<<22 | j<<PageShift),
				Frame: leaf.Frame(),
				Flags: leaf.Flags(),
			})
		}
	}

	return out, nil
}

// Release frees every frame reachable through non-global directory slots,
// including the leaf tables themselves, and clears those slots. Global
// slots cloned from the template and the scratch table are kept.
func (m *Map) Release(free FrameFreer) error {
	var errs []error

	for i := uint32(0); i < ScratchSlot; i++ {
		dir, err := readPTE(m.mem, m.root, i)
		if err != nil {
			return err
		}
		if !dir.Valid() || dir.Flags().Has(FlagGlobal) || dir.Flags().IsLeaf() {
			continue
		}

		raw, err := m.mem.Read(uint64(dir.Frame().Addr()), PageSize)
		if err != nil {
			return err
		}
		for j := 0; j < entriesPerTable; j++ {
			leaf := PTE(binary.LittleEndian.Uint32(raw[j*pteBytes:]))
			if leaf.Valid() && leaf.Flags().IsLeaf() {
				errs = append(errs, free.Free(leaf.Frame()))
			}
		}

		errs = append(errs, free.Free(dir.Frame()))
		if err := writePTE(m.mem, m.root, i, 0); err != nil {
			return err
		}
	}

	errs = append(errs, m.UnmapTemp())
	return errors.Join(errs...)
}
