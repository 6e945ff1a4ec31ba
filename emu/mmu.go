// Package emu provides functional RV32 hart emulation.
package emu

import "github.com/sarchlab/osmium/paging"

type access uint8

const (
	accessLoad access = iota
	accessStore
	accessFetch
)

// MMU translates virtual addresses through the active Sv32 table. A root of
// zero selects bare mode, where virtual equals physical.
type MMU struct {
	ram  *RAM
	tlb  *TLB
	root uint32
}

// NewMMU creates an MMU in bare mode.
func NewMMU(ram *RAM, tlb *TLB) *MMU {
	return &MMU{ram: ram, tlb: tlb}
}

// Root returns the active root frame number.
func (m *MMU) Root() uint32 {
	return m.root
}

// SetRoot activates the table at root frame number ppn. Cached
// translations stay valid under their own tag; flushing is the caller's job.
func (m *MMU) SetRoot(ppn uint32) {
	m.root = ppn
}

// translate returns the physical address of va. user selects U-mode
// permission checks; supervisor accesses to user pages fault.
func (m *MMU) translate(va uint32, acc access, user bool) (uint64, bool) {
	if m.root == 0 {
		return uint64(va), true
	}

	page := paging.PageOf(paging.VirtAddr(va))
	pte, ok := m.tlb.Lookup(m.root, page)
	if !ok {
		e, err := paging.Walk(m.ram, paging.Frame(m.root), page.Addr())
		if err != nil {
			return 0, false
		}
		pte = e
		m.tlb.Insert(m.root, page, pte)
	}

	flags := pte.Flags()
	if flags.Has(paging.FlagUser) != user {
		return 0, false
	}

	var need paging.Flag
	switch acc {
	case accessLoad:
		need = paging.FlagRead
	case accessStore:
		need = paging.FlagWrite
	case accessFetch:
		need = paging.FlagExec
	}
	if !flags.Has(need) {
		return 0, false
	}

	return uint64(pte.Frame().Addr()) | uint64(va&(paging.PageSize-1)), true
}

func pageFault(acc access) Cause {
	switch acc {
	case accessStore:
		return CauseStorePageFault
	case accessFetch:
		return CauseInstructionPageFault
	}
	return CauseLoadPageFault
}

func accessFault(acc access) Cause {
	switch acc {
	case accessStore:
		return CauseStoreAccess
	case accessFetch:
		return CauseInstructionAccess
	}
	return CauseLoadAccess
}

// read performs a translated physical read that does not cross a page.
func (m *MMU) read(va uint32, n int, acc access, user bool) ([]byte, *Trap) {
	pa, ok := m.translate(va, acc, user)
	if !ok {
		return nil, &Trap{Cause: pageFault(acc), Value: va}
	}
	b, err := m.ram.Read(pa, uint64(n))
	if err != nil {
		return nil, &Trap{Cause: accessFault(acc), Value: va}
	}
	return b, nil
}

// write performs a translated physical write that does not cross a page.
func (m *MMU) write(va uint32, data []byte, user bool) *Trap {
	pa, ok := m.translate(va, accessStore, user)
	if !ok {
		return &Trap{Cause: CauseStorePageFault, Value: va}
	}
	if err := m.ram.Write(pa, data); err != nil {
		return &Trap{Cause: CauseStoreAccess, Value: va}
	}
	return nil
}
